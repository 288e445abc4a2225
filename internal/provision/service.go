package provision

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/danmuck/spawnctl/internal/userstore"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAuthorityRequired = errors.New("provision: authority required")
	ErrFetcherRequired   = errors.New("provision: fetcher required")
	ErrCodeURLRequired   = errors.New("provision: code url required")
)

// DefaultSignupCycles funds each unit created by Signup.
var DefaultSignupCycles = units.Cycles64(200_000_000_000)

// Config controls signup funding, the code source, and failure handling.
type Config struct {
	SignupCycles units.Cycles
	CodeURL      string
	// CompensateFailed deletes a unit, best effort, when a later signup stage fails.
	CompensateFailed bool
	// RequestTimeout bounds each remote call; zero leaves only the caller's context.
	RequestTimeout time.Duration
}

// Deps are the collaborators a Provisioner drives. Registry and Flows
// default to fresh in-memory instances.
type Deps struct {
	Authority      Authority
	Fetcher        Fetcher
	Sampler        Sampler
	Registry       Registry
	Flows          *FlowTracker
	TracerProvider trace.TracerProvider
}

// Provisioner runs provisioning flows against one authority.
type Provisioner struct {
	cfg       Config
	authority Authority
	fetcher   Fetcher
	sampler   Sampler
	registry  Registry
	flows     *FlowTracker
	tracer    trace.Tracer
}

// New validates deps and fills in an in-memory registry, a flow tracker and the
// global tracer when they are not supplied.
func New(cfg Config, deps Deps) (*Provisioner, error) {
	if deps.Authority == nil {
		return nil, ErrAuthorityRequired
	}
	if deps.Fetcher == nil {
		return nil, ErrFetcherRequired
	}
	cfg.CodeURL = strings.TrimSpace(cfg.CodeURL)
	if cfg.CodeURL == "" {
		return nil, ErrCodeURLRequired
	}
	if cfg.SignupCycles.IsZero() {
		cfg.SignupCycles = DefaultSignupCycles
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	flows := deps.Flows
	if flows == nil {
		flows = NewFlowTracker()
	}
	tracer := observability.Tracer(tracerName)
	if deps.TracerProvider != nil {
		tracer = deps.TracerProvider.Tracer(tracerName)
	}
	return &Provisioner{
		cfg:       cfg,
		authority: deps.Authority,
		fetcher:   deps.Fetcher,
		sampler:   deps.Sampler,
		registry:  registry,
		flows:     flows,
		tracer:    tracer,
	}, nil
}

// CallerContext binds caller to this provisioner's own principal.
func (p *Provisioner) CallerContext(caller units.Principal) CallerContext {
	if strings.TrimSpace(string(caller)) == "" {
		caller = units.AnonymousPrincipal
	}
	return CallerContext{Caller: caller, Self: p.authority.Self()}
}

// Signup creates, funds, installs, and bootstraps a unit holding state.
// The unit is recorded only when every stage succeeds.
func (p *Provisioner) Signup(ctx context.Context, caller CallerContext, state units.AppState) (units.UnitID, error) {
	flow := p.flows.Start(KindSignup, caller.Caller)
	log.Info().
		Str("flow_id", flow.ID).
		Str("caller", string(caller.Caller)).
		Msg("signup_started")

	id, err := p.create(ctx, flow.ID, caller, p.cfg.SignupCycles, units.Settings{})
	if err != nil {
		return "", err
	}
	code, err := p.fetchCode(ctx, flow.ID, id)
	if err != nil {
		p.compensate(ctx, flow.ID, id)
		return "", err
	}
	if err := p.install(ctx, flow.ID, id, code, units.ModeInstall); err != nil {
		p.compensate(ctx, flow.ID, id)
		return "", err
	}
	if err := p.bootstrap(ctx, flow.ID, id, state); err != nil {
		p.compensate(ctx, flow.ID, id)
		return "", err
	}
	log.Info().
		Str("flow_id", flow.ID).
		Str("unit_id", string(id)).
		Msg("signup_complete")
	return id, nil
}

// Reinstall fetches the current module and installs it into an existing
// unit with mode. The registry is not touched.
func (p *Provisioner) Reinstall(ctx context.Context, caller CallerContext, unit units.UnitID, mode units.InstallMode) error {
	flow := p.flows.StartAt(KindReinstall, caller.Caller, unit, PhaseCreated)
	code, err := p.fetchCode(ctx, flow.ID, unit)
	if err != nil {
		return err
	}
	return p.install(ctx, flow.ID, unit, code, mode)
}

// UpdateSettings normalizes settings and applies them to an existing unit.
func (p *Provisioner) UpdateSettings(ctx context.Context, unit units.UnitID, settings units.Settings) error {
	normalized, err := units.Normalize(settings)
	if err != nil {
		return err
	}
	return p.runStage(ctx, StageUpdateSettings, "", unit, func(ctx context.Context) error {
		return p.authority.UpdateSettings(ctx, unit, normalized)
	})
}

// Lookup reads the application state held by unit.
func (p *Provisioner) Lookup(ctx context.Context, unit units.UnitID) (units.AppState, error) {
	var state units.AppState
	err := p.runStage(ctx, StageLookup, "", unit, func(ctx context.Context) error {
		return p.authority.Query(ctx, unit, userstore.MethodGetUser, nil, &state)
	})
	if err != nil {
		return units.AppState{}, err
	}
	return state, nil
}

// ListUnits returns every fully bootstrapped unit in completion order.
func (p *Provisioner) ListUnits() []units.UnitID {
	return p.registry.List()
}

// Flows returns every tracked flow in start order.
func (p *Provisioner) Flows() []Flow {
	return p.flows.Flows()
}

// Flow returns one tracked flow by id.
func (p *Provisioner) Flow(id string) (Flow, bool) {
	return p.flows.Get(id)
}

// Orphans returns failed flows whose created unit was not deleted.
func (p *Provisioner) Orphans() []Flow {
	return p.flows.Orphans()
}

// compensate deletes unit once when enabled; failures are only logged.
func (p *Provisioner) compensate(ctx context.Context, flowID string, unit units.UnitID) {
	if !p.cfg.CompensateFailed || unit == "" {
		return
	}
	err := p.runStage(ctx, StageDelete, flowID, unit, func(ctx context.Context) error {
		return p.authority.DeleteUnit(ctx, unit)
	})
	if err != nil {
		return
	}
	if err := p.flows.MarkCompensated(flowID); err != nil {
		log.Error().Err(err).Str("flow_id", flowID).Msg("flow_transition_failed")
		return
	}
	log.Info().Str("flow_id", flowID).Str("unit_id", string(unit)).Msg("unit_compensated")
}

func (p *Provisioner) advance(flowID string, to Phase, unit units.UnitID) {
	if _, err := p.flows.Advance(flowID, to, unit); err != nil {
		log.Error().Err(err).Str("flow_id", flowID).Msg("flow_transition_failed")
	}
}

func (p *Provisioner) fail(flowID string, stage Stage, cause error) {
	if _, err := p.flows.Fail(flowID, stage, cause.Error()); err != nil {
		log.Error().Err(err).Str("flow_id", flowID).Msg("flow_transition_failed")
	}
}
