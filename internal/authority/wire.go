package authority

import (
	"github.com/danmuck/spawnctl/internal/units"
)

// HeaderCaller carries the principal that pays for and issues a call.
const HeaderCaller = "X-Spawn-Caller"

const (
	pathCreateUnit  = "/v1/create_unit"
	pathInstallCode = "/v1/install_code"
	pathDeleteUnit  = "/v1/delete_unit"
	pathUpdate      = "/v1/update_settings"
	pathBalance     = "/v1/balance/"
	pathUnits       = "/v1/units"
)

// CreateUnitRequest is the funded create_unit payload.
type CreateUnitRequest struct {
	Cycles   units.Cycles   `json:"cycles"`
	Settings units.Settings `json:"settings"`
}

type CreateUnitResponse struct {
	UnitID units.UnitID `json:"unit_id"`
}

// InstallCodeRequest is the install_code payload; byte fields travel base64-encoded.
type InstallCodeRequest struct {
	Mode       units.InstallMode `json:"mode"`
	UnitID     units.UnitID      `json:"unit_id"`
	WasmModule []byte            `json:"wasm_module"`
	Arg        []byte            `json:"arg"`
}

type DeleteUnitRequest struct {
	UnitID units.UnitID `json:"unit_id"`
}

// UpdateSettingsRequest replaces a unit's settings; controllers must be canonical.
type UpdateSettingsRequest struct {
	UnitID   units.UnitID   `json:"unit_id"`
	Settings units.Settings `json:"settings"`
}

type BalanceResponse struct {
	Amount units.Cycles `json:"amount"`
}

// UnitStatus is the authority's bookkeeping view of one unit.
type UnitStatus struct {
	UnitID      units.UnitID      `json:"unit_id"`
	Controllers []units.Principal `json:"controllers"`
	Settings    units.Settings    `json:"settings"`
	Cycles      units.Cycles      `json:"cycles"`
	Installed   bool              `json:"installed"`
	ModuleHash  string            `json:"module_hash,omitempty"`
	Module      string            `json:"module,omitempty"`
	CreatedBy   units.Principal   `json:"created_by"`
}

type emptyReply struct{}
