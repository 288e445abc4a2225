package provision

import (
	"context"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/units"
)

// Authority is the management surface the provisioner drives.
type Authority interface {
	Self() units.Principal
	CreateUnit(ctx context.Context, cycles units.Cycles, settings units.Settings) (units.UnitID, error)
	InstallCode(ctx context.Context, rec units.InstallRecord) error
	DeleteUnit(ctx context.Context, id units.UnitID) error
	UpdateSettings(ctx context.Context, id units.UnitID, settings units.Settings) error
	Call(ctx context.Context, unit units.UnitID, method string, arg any, out any) error
	Query(ctx context.Context, unit units.UnitID, method string, arg any, out any) error
}

// Fetcher retrieves module images from the code source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Sampler records a balance sample after a funded creation.
type Sampler interface {
	Record(ctx context.Context)
}

var _ Authority = (*authority.Client)(nil)

// CallerContext carries the identities a flow acts for.
type CallerContext struct {
	Caller units.Principal
	Self   units.Principal
}
