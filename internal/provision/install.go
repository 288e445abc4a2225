package provision

import (
	"context"

	"github.com/danmuck/spawnctl/internal/units"
)

// install places code into unit with an empty init argument.
func (p *Provisioner) install(ctx context.Context, flowID string, unit units.UnitID, code []byte, mode units.InstallMode) error {
	err := p.runStage(ctx, StageInstall, flowID, unit, func(ctx context.Context) error {
		return p.authority.InstallCode(ctx, units.InstallRecord{
			UnitID: unit,
			Code:   code,
			Mode:   mode,
		})
	})
	if err != nil {
		p.fail(flowID, StageInstall, err)
		return err
	}
	p.advance(flowID, PhaseInstalled, unit)
	return nil
}

func (p *Provisioner) fetchCode(ctx context.Context, flowID string, unit units.UnitID) ([]byte, error) {
	var code []byte
	err := p.runStage(ctx, StageFetch, flowID, unit, func(ctx context.Context) error {
		var fetchErr error
		code, fetchErr = p.fetcher.Fetch(ctx, p.cfg.CodeURL)
		return fetchErr
	})
	if err != nil {
		p.fail(flowID, StageFetch, err)
		return nil, err
	}
	return code, nil
}
