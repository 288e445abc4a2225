package provision

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/spawnctl/internal/units"
	"github.com/google/uuid"
)

var (
	ErrFlowTransition = errors.New("provision: invalid flow transition")
	ErrFlowNotFound   = errors.New("provision: flow not found")
)

// Phase is the position of one provisioning flow.
type Phase string

const (
	PhaseRequested    Phase = "requested"
	PhaseCreated      Phase = "created"
	PhaseInstalled    Phase = "installed"
	PhaseBootstrapped Phase = "bootstrapped"
	PhaseFailed       Phase = "failed"
)

// FlowKind distinguishes full signups from bare funded creations.
type FlowKind string

const (
	KindSignup    FlowKind = "signup"
	KindCreate    FlowKind = "create"
	KindReinstall FlowKind = "reinstall"
)

// Flow is a snapshot of one provisioning request.
type Flow struct {
	ID          string          `json:"id"`
	Kind        FlowKind        `json:"kind"`
	Caller      units.Principal `json:"caller"`
	Phase       Phase           `json:"phase"`
	UnitID      units.UnitID    `json:"unit_id,omitempty"`
	FailedStage Stage           `json:"failed_stage,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Compensated bool            `json:"compensated,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Terminal reports whether the flow can no longer advance.
func (f Flow) Terminal() bool {
	switch f.Phase {
	case PhaseBootstrapped, PhaseFailed:
		return true
	case PhaseCreated:
		return f.Kind == KindCreate
	case PhaseInstalled:
		return f.Kind == KindReinstall
	default:
		return false
	}
}

// Orphaned reports whether a failed signup left the unit it created behind.
// Reinstall flows act on units that already exist and never orphan them.
func (f Flow) Orphaned() bool {
	return f.Kind == KindSignup && f.Phase == PhaseFailed && f.UnitID != "" && !f.Compensated
}

var nextPhase = map[Phase]Phase{
	PhaseRequested: PhaseCreated,
	PhaseCreated:   PhaseInstalled,
	PhaseInstalled: PhaseBootstrapped,
}

// FlowTracker holds the state machine of every flow this process started.
type FlowTracker struct {
	mu    sync.RWMutex
	flows map[string]*Flow
	order []string
	now   func() time.Time
}

// NewFlowTracker returns an empty tracker stamped with wall-clock time.
func NewFlowTracker() *FlowTracker {
	return &FlowTracker{
		flows: make(map[string]*Flow),
		order: make([]string, 0),
		now:   time.Now,
	}
}

// Start registers a new flow in the requested phase.
func (t *FlowTracker) Start(kind FlowKind, caller units.Principal) Flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().UTC()
	f := &Flow{
		ID:        uuid.NewString(),
		Kind:      kind,
		Caller:    caller,
		Phase:     PhaseRequested,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.flows[f.ID] = f
	t.order = append(t.order, f.ID)
	return *f
}

// StartAt registers a flow that begins on an existing unit in the given phase.
func (t *FlowTracker) StartAt(kind FlowKind, caller units.Principal, unit units.UnitID, phase Phase) Flow {
	f := t.Start(kind, caller)
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := t.flows[f.ID]
	stored.UnitID = unit
	stored.Phase = phase
	return *stored
}

// Advance moves a flow one step forward; created must name the unit.
func (t *FlowTracker) Advance(id string, to Phase, unit units.UnitID) (Flow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[id]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if f.Terminal() || nextPhase[f.Phase] != to {
		return *f, transitionError(f.Phase, to)
	}
	if to == PhaseCreated {
		if unit == "" {
			return *f, fmt.Errorf("%w: created without unit id", ErrFlowTransition)
		}
		f.UnitID = unit
	}
	f.Phase = to
	f.UpdatedAt = t.now().UTC()
	return *f, nil
}

// Fail moves a non-terminal flow into failed(stage, reason).
func (t *FlowTracker) Fail(id string, stage Stage, reason string) (Flow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[id]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if f.Terminal() {
		return *f, transitionError(f.Phase, PhaseFailed)
	}
	f.Phase = PhaseFailed
	f.FailedStage = stage
	f.Reason = reason
	f.UpdatedAt = t.now().UTC()
	return *f, nil
}

// MarkCompensated records that a failed flow's unit was deleted.
func (t *FlowTracker) MarkCompensated(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if f.Phase != PhaseFailed || f.UnitID == "" {
		return fmt.Errorf("%w: compensate %s flow", ErrFlowTransition, f.Phase)
	}
	f.Compensated = true
	f.UpdatedAt = t.now().UTC()
	return nil
}

// Get returns a snapshot of one flow.
func (t *FlowTracker) Get(id string) (Flow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.flows[id]
	if !ok {
		return Flow{}, false
	}
	return *f, true
}

// Flows returns snapshots of every flow in start order.
func (t *FlowTracker) Flows() []Flow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Flow, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.flows[id])
	}
	return out
}

// Orphans returns failed flows whose unit still exists.
func (t *FlowTracker) Orphans() []Flow {
	all := t.Flows()
	out := make([]Flow, 0)
	for _, f := range all {
		if f.Orphaned() {
			out = append(out, f)
		}
	}
	return out
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrFlowTransition, from, to)
}
