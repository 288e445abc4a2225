package provision

import (
	"context"

	"github.com/danmuck/spawnctl/internal/units"
	"github.com/danmuck/spawnctl/internal/userstore"
	"github.com/rs/zerolog/log"
)

// bootstrap sends the caller's state to the unit's create_user method and,
// on success, records the unit in the registry.
func (p *Provisioner) bootstrap(ctx context.Context, flowID string, unit units.UnitID, state units.AppState) error {
	var reply userstore.CreateUserResult
	err := p.runStage(ctx, StageBootstrap, flowID, unit, func(ctx context.Context) error {
		return p.authority.Call(ctx, unit, userstore.MethodCreateUser, userstore.CreateUserArgs{User: state}, &reply)
	})
	if err != nil {
		p.fail(flowID, StageBootstrap, err)
		return err
	}
	if reply.UserID != "" && reply.UserID != unit {
		log.Warn().
			Str("flow_id", flowID).
			Str("unit_id", string(unit)).
			Str("reported_id", string(reply.UserID)).
			Msg("bootstrap_id_mismatch")
	}
	p.advance(flowID, PhaseBootstrapped, unit)
	p.registry.Append(unit)
	return nil
}
