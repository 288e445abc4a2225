package provision_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/authority/simulator"
	"github.com/danmuck/spawnctl/internal/fetch"
	"github.com/danmuck/spawnctl/internal/provision"
	"github.com/danmuck/spawnctl/internal/testutil/testlog"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/danmuck/spawnctl/internal/userstore"
	"github.com/danmuck/spawnctl/internal/wallet"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	self   units.Principal = "orchestrator"
	caller units.Principal = "end-user"
)

type stack struct {
	sim      *simulator.Authority
	client   *authority.Client
	prov     *provision.Provisioner
	reporter *wallet.Reporter
	spans    *tracetest.SpanRecorder
	url      string
}

type stackOption func(*provision.Config)

func newStack(t *testing.T, opts ...stackOption) *stack {
	t.Helper()
	simCfg := simulator.DefaultConfig()
	simCfg.CreationFee = units.Cycles64(1_000)
	simCfg.Accounts[self] = units.Cycles64(1_000_000)
	sim, err := simulator.New(simCfg)
	if err != nil {
		t.Fatalf("simulator: %v", err)
	}
	srv := httptest.NewServer(simulator.NewServer(sim).Handler())
	t.Cleanup(srv.Close)

	client, err := authority.NewClient(authority.ClientConfig{BaseURL: srv.URL, Self: self})
	if err != nil {
		t.Fatalf("authority client: %v", err)
	}
	reporter, err := wallet.NewReporter(client, 0)
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	cfg := provision.Config{
		SignupCycles: units.Cycles64(10_000),
		CodeURL:      srv.URL + "/modules/" + userstore.ModuleName,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	prov, err := provision.New(cfg, provision.Deps{
		Authority:      client,
		Fetcher:        fetch.NewClient(fetch.Config{}),
		Sampler:        reporter,
		TracerProvider: tp,
	})
	if err != nil {
		t.Fatalf("provisioner: %v", err)
	}
	return &stack{sim: sim, client: client, prov: prov, reporter: reporter, spans: spans, url: srv.URL}
}

func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/modules/userstore"
	srv.Close()
	return url
}

func TestSignupThenLookup(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()
	ann := units.AppState{Name: "Ann", Age: 41, Contact: "a@x"}

	id, err := s.prov.Signup(ctx, s.prov.CallerContext(caller), ann)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	got, err := s.prov.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != ann {
		t.Fatalf("state mismatch: got=%+v want=%+v", got, ann)
	}
	if list := s.prov.ListUnits(); len(list) != 1 || list[0] != id {
		t.Fatalf("registry mismatch: %v", list)
	}

	st, ok := s.sim.Unit(id)
	if !ok {
		t.Fatalf("unit missing from authority bookkeeping")
	}
	if len(st.Controllers) != 2 || st.Controllers[0] != caller || st.Controllers[1] != self {
		t.Fatalf("controllers mismatch: %v", st.Controllers)
	}
	if !st.Installed || st.Module != userstore.ModuleName {
		t.Fatalf("unit not installed: %+v", st)
	}
	if len(s.reporter.Ticks()) != 1 {
		t.Fatalf("expected one balance sample after creation")
	}

	names := make(map[string]bool)
	for _, span := range s.spans.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{"provision.create", "provision.fetch", "provision.install", "provision.bootstrap", "provision.lookup"} {
		if !names[want] {
			t.Fatalf("missing span %s (have %v)", want, names)
		}
	}
}

func TestSignupCreationRejected(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()
	before := s.prov.ListUnits()

	s.sim.InjectReject(simulator.OpCreate, &authority.Reject{Code: authority.CodeUnitError, Message: "insufficient budget"})
	_, err := s.prov.Signup(ctx, s.prov.CallerContext(caller), units.AppState{Name: "Ann"})
	if err == nil || !strings.HasSuffix(err.Error(), "5: insufficient budget") {
		t.Fatalf("unexpected error: %v", err)
	}
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Stage != provision.StageCreate {
		t.Fatalf("expected create rejection, got %v", err)
	}
	if after := s.prov.ListUnits(); len(after) != len(before) {
		t.Fatalf("registry changed: before=%v after=%v", before, after)
	}
	if len(s.sim.Units()) != 0 {
		t.Fatalf("rejected creation left a unit behind")
	}
}

func TestSignupFetchFailureLeavesUnregisteredUnit(t *testing.T) {
	testlog.Start(t)
	bad := unreachableURL(t)
	s := newStack(t, func(c *provision.Config) { c.CodeURL = bad })
	ctx := context.Background()

	_, err := s.prov.Signup(ctx, s.prov.CallerContext(caller), units.AppState{Name: "Ann"})
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Stage != provision.StageFetch || rr.Code != authority.CodeSysTransient {
		t.Fatalf("expected transient fetch failure, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "fetch failed: 2: ") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	created := s.sim.Units()
	if len(created) != 1 {
		t.Fatalf("expected the created unit to remain with the authority, got %d", len(created))
	}
	if len(s.prov.ListUnits()) != 0 {
		t.Fatalf("unit must not be registered")
	}
	orphans := s.prov.Orphans()
	if len(orphans) != 1 || orphans[0].UnitID != created[0].UnitID || orphans[0].FailedStage != provision.StageFetch {
		t.Fatalf("unexpected orphans: %+v", orphans)
	}
}

func TestSignupFailureCompensates(t *testing.T) {
	testlog.Start(t)
	s := newStack(t, func(c *provision.Config) { c.CompensateFailed = true })
	ctx := context.Background()
	start := s.sim.Balance(self)

	s.sim.InjectReject(simulator.OpInstall, authority.Rejectf(authority.CodeUnitError, "module rejected"))
	_, err := s.prov.Signup(ctx, s.prov.CallerContext(caller), units.AppState{Name: "Ann"})
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Stage != provision.StageInstall {
		t.Fatalf("expected install failure, got %v", err)
	}
	if len(s.sim.Units()) != 0 {
		t.Fatalf("compensation should have deleted the unit")
	}
	if len(s.prov.Orphans()) != 0 {
		t.Fatalf("compensated unit reported as orphan")
	}
	fee := units.Cycles64(1_000)
	want, _ := start.Sub(fee)
	if got := s.sim.Balance(self); got != want {
		t.Fatalf("balance after refund mismatch: got=%s want=%s", got, want)
	}
}

func TestBootstrapFailureKeepsEmptyState(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()

	s.sim.InjectReject(simulator.OpCall, authority.Rejectf(authority.CodeUnitError, "trapped"))
	_, err := s.prov.Signup(ctx, s.prov.CallerContext(caller), units.AppState{Name: "Ann"})
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Stage != provision.StageBootstrap {
		t.Fatalf("expected bootstrap failure, got %v", err)
	}
	orphans := s.prov.Orphans()
	if len(orphans) != 1 {
		t.Fatalf("expected one orphan, got %+v", orphans)
	}
	state, err := s.prov.Lookup(ctx, orphans[0].UnitID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if state != (units.AppState{}) {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestConcurrentSignupsRegisterInCompletionOrder(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.sim.SetHook(func(_ context.Context, op simulator.Op, _ units.Principal, _ units.UnitID, arg []byte) {
		if op == simulator.OpCall && strings.Contains(string(arg), "First") {
			once.Do(func() { close(blocked) })
			<-release
		}
	})

	var (
		firstID  units.UnitID
		firstErr error
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstID, firstErr = s.prov.Signup(ctx, s.prov.CallerContext("first-caller"), units.AppState{Name: "First"})
	}()
	<-blocked

	secondID, err := s.prov.Signup(ctx, s.prov.CallerContext("second-caller"), units.AppState{Name: "Second"})
	if err != nil {
		t.Fatalf("second signup: %v", err)
	}
	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first signup: %v", firstErr)
	}

	list := s.prov.ListUnits()
	if len(list) != 2 || list[0] != secondID || list[1] != firstID {
		t.Fatalf("registry must follow completion order: got=%v want=[%s %s]", list, secondID, firstID)
	}
	for id, name := range map[units.UnitID]string{firstID: "First", secondID: "Second"} {
		state, err := s.prov.Lookup(ctx, id)
		if err != nil || state.Name != name {
			t.Fatalf("lookup %s: state=%+v err=%v", id, state, err)
		}
	}
}

func TestCreateUnitDoesNotRegister(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()
	legacy := units.Principal("legacy-admin")

	id, err := s.prov.CreateUnit(ctx, s.prov.CallerContext(caller), units.Cycles64(5_000), units.Settings{Controller: &legacy})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	st, ok := s.sim.Unit(id)
	if !ok || len(st.Controllers) != 1 || st.Controllers[0] != legacy {
		t.Fatalf("legacy controller not normalized: %+v", st)
	}
	if len(s.prov.ListUnits()) != 0 {
		t.Fatalf("create_unit must not register")
	}

	wide := units.CyclesFromParts(1, 0)
	_, err = s.prov.CreateUnit(ctx, s.prov.CallerContext(caller), wide, units.Settings{})
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Code != authority.CodeUnitError {
		t.Fatalf("expected budget rejection for a wide request, got %v", err)
	}
}

func TestReinstallResetsState(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()
	cc := s.prov.CallerContext(caller)

	id, err := s.prov.Signup(ctx, cc, units.AppState{Name: "Ann"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := s.prov.Reinstall(ctx, cc, id, units.ModeUpgrade); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if state, _ := s.prov.Lookup(ctx, id); state.Name != "Ann" {
		t.Fatalf("upgrade must keep state, got %+v", state)
	}
	if err := s.prov.Reinstall(ctx, cc, id, units.ModeReinstall); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if state, _ := s.prov.Lookup(ctx, id); state != (units.AppState{}) {
		t.Fatalf("reinstall must reset state, got %+v", state)
	}
	err = s.prov.Reinstall(ctx, cc, id, units.ModeInstall)
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Stage != provision.StageInstall || rr.Code != authority.CodeUnitError {
		t.Fatalf("install over installed code must be rejected, got %v", err)
	}
	if len(s.prov.ListUnits()) != 1 {
		t.Fatalf("reinstall must not touch the registry")
	}
}

func TestFailedReinstallKeepsUnitOutOfOrphans(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	ctx := context.Background()
	cc := s.prov.CallerContext(caller)

	id, err := s.prov.Signup(ctx, cc, units.AppState{Name: "Ann"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := s.prov.Reinstall(ctx, cc, id, units.ModeInstall); err == nil {
		t.Fatalf("install over installed code must be rejected")
	}
	if registered := s.prov.ListUnits(); len(registered) != 1 || registered[0] != id {
		t.Fatalf("unexpected registry: %v", registered)
	}
	if orphans := s.prov.Orphans(); len(orphans) != 0 {
		t.Fatalf("registered unit %s reported as orphan: %+v", id, orphans)
	}
	var failed int
	for _, f := range s.prov.Flows() {
		if f.Kind == provision.KindReinstall && f.Phase == provision.PhaseFailed && f.UnitID == id {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failed reinstall flow, got %d", failed)
	}
}

func TestLookupUnknownUnit(t *testing.T) {
	testlog.Start(t)
	s := newStack(t)
	_, err := s.prov.Lookup(context.Background(), "unit-missing")
	var rr *provision.RemoteRejection
	if !errors.As(err, &rr) || rr.Stage != provision.StageLookup || rr.Code != authority.CodeDestinationInvalid {
		t.Fatalf("expected destination invalid lookup, got %v", err)
	}
}
