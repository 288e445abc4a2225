package provision

import (
	"context"

	"github.com/danmuck/spawnctl/internal/units"
)

// CreateUnit creates one funded unit and returns its id. The registry is
// not touched; only a full Signup records a unit.
func (p *Provisioner) CreateUnit(ctx context.Context, caller CallerContext, cycles units.Cycles, settings units.Settings) (units.UnitID, error) {
	flow := p.flows.Start(KindCreate, caller.Caller)
	return p.create(ctx, flow.ID, caller, cycles, settings)
}

// CreateUnit64 widens a narrow budget and delegates to CreateUnit.
func (p *Provisioner) CreateUnit64(ctx context.Context, caller CallerContext, cycles uint64, settings units.Settings) (units.UnitID, error) {
	return p.CreateUnit(ctx, caller, units.Cycles64(cycles), settings)
}

func (p *Provisioner) create(ctx context.Context, flowID string, caller CallerContext, cycles units.Cycles, settings units.Settings) (units.UnitID, error) {
	normalized, err := units.Normalize(settings)
	if err != nil {
		p.fail(flowID, StageCreate, err)
		return "", err
	}
	if len(normalized.Controllers) == 0 {
		normalized.Controllers = []units.Principal{caller.Caller, caller.Self}
	}

	var id units.UnitID
	err = p.runStage(ctx, StageCreate, flowID, "", func(ctx context.Context) error {
		var callErr error
		id, callErr = p.authority.CreateUnit(ctx, cycles, normalized)
		return callErr
	})
	if err != nil {
		p.fail(flowID, StageCreate, err)
		return "", err
	}
	p.advance(flowID, PhaseCreated, id)
	if p.sampler != nil {
		p.sampler.Record(ctx)
	}
	return id, nil
}
