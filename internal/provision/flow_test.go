package provision

import (
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/fetch"
	"github.com/danmuck/spawnctl/internal/testutil/testlog"
)

func TestFlowTrackerSignupPath(t *testing.T) {
	testlog.Start(t)
	tr := NewFlowTracker()
	f := tr.Start(KindSignup, "caller-a")
	if f.Phase != PhaseRequested || f.ID == "" {
		t.Fatalf("unexpected initial flow: %+v", f)
	}
	if _, err := tr.Advance(f.ID, PhaseInstalled, ""); !errors.Is(err, ErrFlowTransition) {
		t.Fatalf("expected skip to be rejected, got %v", err)
	}
	if _, err := tr.Advance(f.ID, PhaseCreated, ""); !errors.Is(err, ErrFlowTransition) {
		t.Fatalf("expected created without unit to be rejected, got %v", err)
	}
	for _, to := range []Phase{PhaseCreated, PhaseInstalled, PhaseBootstrapped} {
		if _, err := tr.Advance(f.ID, to, "unit-1"); err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
	}
	got, _ := tr.Get(f.ID)
	if got.Phase != PhaseBootstrapped || got.UnitID != "unit-1" || !got.Terminal() {
		t.Fatalf("unexpected final flow: %+v", got)
	}
	if _, err := tr.Fail(f.ID, StageBootstrap, "late"); !errors.Is(err, ErrFlowTransition) {
		t.Fatalf("expected fail after bootstrapped to be rejected, got %v", err)
	}
}

func TestFlowTrackerFailureAndOrphans(t *testing.T) {
	testlog.Start(t)
	tr := NewFlowTracker()

	early := tr.Start(KindSignup, "a")
	if _, err := tr.Fail(early.ID, StageCreate, "rejected"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	late := tr.Start(KindSignup, "b")
	if _, err := tr.Advance(late.ID, PhaseCreated, "unit-late"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	failed, err := tr.Fail(late.ID, StageFetch, "unreachable")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.FailedStage != StageFetch || failed.Reason != "unreachable" {
		t.Fatalf("unexpected failed flow: %+v", failed)
	}
	if _, err := tr.Advance(late.ID, PhaseInstalled, ""); !errors.Is(err, ErrFlowTransition) {
		t.Fatalf("failed flow must not advance, got %v", err)
	}

	orphans := tr.Orphans()
	if len(orphans) != 1 || orphans[0].UnitID != "unit-late" {
		t.Fatalf("unexpected orphans: %+v", orphans)
	}
	if err := tr.MarkCompensated(early.ID); !errors.Is(err, ErrFlowTransition) {
		t.Fatalf("flow without unit cannot be compensated, got %v", err)
	}
	if err := tr.MarkCompensated(late.ID); err != nil {
		t.Fatalf("compensate: %v", err)
	}
	if len(tr.Orphans()) != 0 {
		t.Fatalf("compensated flow must not be an orphan")
	}
	if flows := tr.Flows(); len(flows) != 2 || flows[0].ID != early.ID {
		t.Fatalf("flows must keep start order: %+v", flows)
	}
}

func TestFlowTrackerFailedReinstallIsNotOrphan(t *testing.T) {
	testlog.Start(t)
	tr := NewFlowTracker()

	f := tr.StartAt(KindReinstall, "a", "unit-live", PhaseCreated)
	failed, err := tr.Fail(f.ID, StageInstall, "already installed")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Orphaned() {
		t.Fatalf("failed reinstall must not orphan an existing unit: %+v", failed)
	}
	if orphans := tr.Orphans(); len(orphans) != 0 {
		t.Fatalf("unexpected orphans: %+v", orphans)
	}
}

func TestFlowTrackerCreateFlowEndsAtCreated(t *testing.T) {
	testlog.Start(t)
	tr := NewFlowTracker()
	f := tr.Start(KindCreate, "a")
	if _, err := tr.Advance(f.ID, PhaseCreated, "unit-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := tr.Advance(f.ID, PhaseInstalled, "unit-1"); !errors.Is(err, ErrFlowTransition) {
		t.Fatalf("create flow must end at created, got %v", err)
	}

	re := tr.StartAt(KindReinstall, "a", "unit-1", PhaseCreated)
	if _, err := tr.Advance(re.ID, PhaseInstalled, "unit-1"); err != nil {
		t.Fatalf("reinstall advance: %v", err)
	}
	got, _ := tr.Get(re.ID)
	if !got.Terminal() {
		t.Fatalf("reinstall flow must end at installed: %+v", got)
	}
	if _, err := tr.Advance("missing", PhaseCreated, "x"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestRemoteRejectionMessage(t *testing.T) {
	rr := &RemoteRejection{Stage: StageCreate, Code: 5, Message: "insufficient budget"}
	if rr.Error() != "create failed: 5: insufficient budget" {
		t.Fatalf("unexpected message: %q", rr.Error())
	}
}

func TestRejectionKeepsFetchCode(t *testing.T) {
	err := fmt.Errorf("get module: %w", &fetch.Error{Code: authority.CodeDestinationInvalid, Message: "status 404"})
	rr := rejection(StageFetch, err)
	if rr.Stage != StageFetch || rr.Code != authority.CodeDestinationInvalid || rr.Message != "status 404" {
		t.Fatalf("unexpected rejection: %+v", rr)
	}
	if rr := rejection(StageLookup, errors.New("boom")); rr.Code != authority.CodeSysFatal {
		t.Fatalf("unclassified errors must be fatal, got %+v", rr)
	}
}
