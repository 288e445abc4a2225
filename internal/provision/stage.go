package provision

import (
	"context"
	"time"

	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/danmuck/spawnctl/internal/provision"

// runStage performs one remote step inside its own span and timeout.
// A non-nil result is always a *RemoteRejection.
func (p *Provisioner) runStage(ctx context.Context, stage Stage, flowID string, unit units.UnitID, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "provision."+string(stage))
	defer span.End()
	span.SetAttributes(
		attribute.String("spawn.flow_id", flowID),
		attribute.String("spawn.stage", string(stage)),
	)
	if unit != "" {
		span.SetAttributes(attribute.String("spawn.unit_id", string(unit)))
	}
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if err == nil {
		observability.RecordStage(string(stage), 0, elapsed)
		log.Debug().
			Str("flow_id", flowID).
			Str("stage", string(stage)).
			Str("unit_id", string(unit)).
			Dur("duration", elapsed).
			Msg("provision_stage_ok")
		return nil
	}

	rr := rejection(stage, err)
	observability.RecordStage(string(stage), int(rr.Code), elapsed)
	span.RecordError(rr)
	span.SetStatus(codes.Error, rr.Error())
	span.SetAttributes(attribute.Int("spawn.reject_code", int(rr.Code)))
	log.Warn().
		Str("flow_id", flowID).
		Str("stage", string(stage)).
		Str("unit_id", string(unit)).
		Int("code", int(rr.Code)).
		Str("message", rr.Message).
		Dur("duration", elapsed).
		Msg("provision_stage_failed")
	return rr
}
