package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Op names one authority entrypoint for fault injection and hooks.
type Op string

const (
	OpCreate  Op = "create_unit"
	OpInstall Op = "install_code"
	OpDelete  Op = "delete_unit"
	OpUpdate  Op = "update_settings"
	OpCall    Op = "call"
	OpQuery   Op = "query"
	OpFetch   Op = "fetch_module"
)

// Config seeds the simulator's accounts and pricing.
type Config struct {
	CreationFee units.Cycles
	Accounts    map[units.Principal]units.Cycles
	Modules     []Module
}

// DefaultConfig charges a small creation fee and bundles userstore.
func DefaultConfig() Config {
	return Config{
		CreationFee: units.Cycles64(100_000_000_000),
		Accounts:    map[units.Principal]units.Cycles{},
		Modules:     []Module{UserStoreModule()},
	}
}

// Hook runs before an operation is applied, outside the simulator lock.
type Hook func(ctx context.Context, op Op, caller units.Principal, unit units.UnitID, arg []byte)

type unitState struct {
	status authority.UnitStatus
	app    App
}

// Authority is an in-memory management authority.
type Authority struct {
	mu sync.Mutex

	fee      units.Cycles
	accounts map[units.Principal]units.Cycles
	units    map[units.UnitID]*unitState
	order    []units.UnitID
	modules  map[string]Module
	byName   map[string]string
	faults   map[Op][]*authority.Reject
	hook     Hook
}

func New(cfg Config) (*Authority, error) {
	a := &Authority{
		fee:      cfg.CreationFee,
		accounts: make(map[units.Principal]units.Cycles, len(cfg.Accounts)),
		units:    make(map[units.UnitID]*unitState),
		modules:  make(map[string]Module),
		byName:   make(map[string]string),
		faults:   make(map[Op][]*authority.Reject),
	}
	for p, c := range cfg.Accounts {
		a.accounts[p] = c
	}
	for _, m := range cfg.Modules {
		if err := a.RegisterModule(m); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// RegisterModule makes a module installable and fetchable by name.
func (a *Authority) RegisterModule(m Module) error {
	if err := validateModule(m); err != nil {
		return err
	}
	hash := moduleHash(m.Code)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byName[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrModuleExists, m.Name)
	}
	a.modules[hash] = m
	a.byName[m.Name] = hash
	return nil
}

// Fund credits cycles to a principal's account.
func (a *Authority) Fund(p units.Principal, c units.Cycles) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, ok := a.accounts[p].Add(c)
	if !ok {
		return fmt.Errorf("simulator: balance overflow for %s", p)
	}
	a.accounts[p] = next
	return nil
}

// InjectReject queues a one-shot rejection for the next matching operation.
func (a *Authority) InjectReject(op Op, rej *authority.Reject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[op] = append(a.faults[op], rej)
}

// SetHook installs a hook observed by every operation.
func (a *Authority) SetHook(h Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hook = h
}

func (a *Authority) before(ctx context.Context, op Op, caller units.Principal, unit units.UnitID, arg []byte) *authority.Reject {
	a.mu.Lock()
	hook := a.hook
	var rej *authority.Reject
	if queue := a.faults[op]; len(queue) > 0 {
		rej = queue[0]
		a.faults[op] = queue[1:]
	}
	a.mu.Unlock()
	if hook != nil {
		hook(ctx, op, caller, unit, arg)
	}
	return rej
}

// CreateUnit charges the attached cycles to caller and allocates a unit.
// A rejected call charges nothing.
func (a *Authority) CreateUnit(ctx context.Context, caller units.Principal, req authority.CreateUnitRequest) (units.UnitID, error) {
	raw, _ := json.Marshal(req)
	if rej := a.before(ctx, OpCreate, caller, "", raw); rej != nil {
		return "", rej
	}
	settings, err := units.Normalize(req.Settings)
	if err != nil {
		return "", authority.Rejectf(authority.CodeUnitError, "%v", err)
	}
	controllers := settings.Controllers
	if len(controllers) == 0 {
		controllers = []units.Principal{caller}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	balance := a.accounts[caller]
	remaining, ok := balance.Sub(req.Cycles)
	if !ok {
		return "", authority.Rejectf(authority.CodeUnitError, "insufficient budget: balance %s, attached %s", balance, req.Cycles)
	}
	unitCycles, ok := req.Cycles.Sub(a.fee)
	if !ok {
		return "", authority.Rejectf(authority.CodeUnitError, "insufficient budget: attached %s, creation fee %s", req.Cycles, a.fee)
	}
	a.accounts[caller] = remaining

	id := units.UnitID("unit-" + uuid.NewString())
	settings.Controllers = append([]units.Principal(nil), controllers...)
	a.units[id] = &unitState{status: authority.UnitStatus{
		UnitID:      id,
		Controllers: settings.Controllers,
		Settings:    settings,
		Cycles:      unitCycles,
		CreatedBy:   caller,
	}}
	a.order = append(a.order, id)
	log.Info().
		Str("unit_id", string(id)).
		Str("caller", string(caller)).
		Str("cycles", req.Cycles.String()).
		Msg("sim_unit_created")
	return id, nil
}

// InstallCode installs, reinstalls, or upgrades a unit's module.
func (a *Authority) InstallCode(ctx context.Context, caller units.Principal, req authority.InstallCodeRequest) error {
	if rej := a.before(ctx, OpInstall, caller, req.UnitID, nil); rej != nil {
		return rej
	}
	mode, err := units.ParseInstallMode(string(req.Mode))
	if err != nil {
		return authority.Rejectf(authority.CodeUnitReject, "%v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st, rej := a.controlledLocked(caller, req.UnitID)
	if rej != nil {
		return rej
	}
	hash := moduleHash(req.WasmModule)
	module, ok := a.modules[hash]
	if !ok {
		return authority.Rejectf(authority.CodeUnitError, "unrecognised module hash %s", hash)
	}

	switch mode {
	case units.ModeInstall:
		if st.status.Installed {
			return authority.Rejectf(authority.CodeUnitError, "unit %s already has code installed; use reinstall or upgrade", req.UnitID)
		}
		st.app = module.New(req.UnitID)
	case units.ModeReinstall:
		if !st.status.Installed {
			return authority.Rejectf(authority.CodeUnitError, "unit %s has no code installed", req.UnitID)
		}
		st.app = module.New(req.UnitID)
	case units.ModeUpgrade:
		if !st.status.Installed {
			return authority.Rejectf(authority.CodeUnitError, "unit %s has no code installed", req.UnitID)
		}
		if st.status.Module != module.Name {
			st.app = module.New(req.UnitID)
		}
	}
	st.status.Installed = true
	st.status.ModuleHash = hash
	st.status.Module = module.Name
	log.Info().
		Str("unit_id", string(req.UnitID)).
		Str("mode", string(mode)).
		Str("module", module.Name).
		Msg("sim_code_installed")
	return nil
}

// UpdateSettings replaces a unit's settings. An empty controller list leaves
// the current controllers in place.
func (a *Authority) UpdateSettings(ctx context.Context, caller units.Principal, req authority.UpdateSettingsRequest) error {
	raw, _ := json.Marshal(req.Settings)
	if rej := a.before(ctx, OpUpdate, caller, req.UnitID, raw); rej != nil {
		return rej
	}
	settings, err := units.Normalize(req.Settings)
	if err != nil {
		return authority.Rejectf(authority.CodeUnitError, "%v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st, rej := a.controlledLocked(caller, req.UnitID)
	if rej != nil {
		return rej
	}
	if len(settings.Controllers) == 0 {
		settings.Controllers = st.status.Controllers
	}
	settings.Controllers = append([]units.Principal(nil), settings.Controllers...)
	st.status.Settings = settings
	st.status.Controllers = settings.Controllers
	log.Info().
		Str("unit_id", string(req.UnitID)).
		Int("controllers", len(settings.Controllers)).
		Msg("sim_settings_updated")
	return nil
}

// DeleteUnit removes a unit and refunds its remaining cycles to caller.
func (a *Authority) DeleteUnit(ctx context.Context, caller units.Principal, id units.UnitID) error {
	if rej := a.before(ctx, OpDelete, caller, id, nil); rej != nil {
		return rej
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, rej := a.controlledLocked(caller, id)
	if rej != nil {
		return rej
	}
	refunded, ok := a.accounts[caller].Add(st.status.Cycles)
	if !ok {
		return authority.Rejectf(authority.CodeUnitError, "refund of %s overflows balance of %s", st.status.Cycles, caller)
	}
	a.accounts[caller] = refunded
	delete(a.units, id)
	for i, existing := range a.order {
		if existing == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	log.Info().Str("unit_id", string(id)).Msg("sim_unit_deleted")
	return nil
}

// Invoke routes a call or query to the unit's application.
func (a *Authority) Invoke(ctx context.Context, caller units.Principal, unit units.UnitID, method string, arg []byte, query bool) (any, error) {
	op := OpCall
	if query {
		op = OpQuery
	}
	if rej := a.before(ctx, op, caller, unit, arg); rej != nil {
		return nil, rej
	}
	a.mu.Lock()
	st, ok := a.units[unit]
	var app App
	if ok {
		app = st.app
	}
	a.mu.Unlock()
	if !ok {
		return nil, authority.Rejectf(authority.CodeDestinationInvalid, "unit %s not found", unit)
	}
	if app == nil {
		return nil, authority.Rejectf(authority.CodeUnitError, "unit %s has no code installed", unit)
	}
	reply, err := app.Handle(Request{
		Caller: caller,
		Unit:   unit,
		Method: strings.TrimSpace(method),
		Arg:    arg,
		Query:  query,
	})
	if err != nil {
		return nil, asUnitReject(err)
	}
	return reply, nil
}

// Balance returns a principal's account, or a unit's cycles when p names a unit.
func (a *Authority) Balance(p units.Principal) units.Cycles {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.units[units.UnitID(p)]; ok {
		return st.status.Cycles
	}
	return a.accounts[p]
}

// Units returns bookkeeping for every live unit in creation order.
func (a *Authority) Units() []authority.UnitStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]authority.UnitStatus, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, cloneStatus(a.units[id].status))
	}
	return out
}

// Unit returns bookkeeping for one unit.
func (a *Authority) Unit(id units.UnitID) (authority.UnitStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.units[id]
	if !ok {
		return authority.UnitStatus{}, false
	}
	return cloneStatus(st.status), true
}

// ModuleCode returns the image registered under name.
func (a *Authority) ModuleCode(ctx context.Context, name string) ([]byte, error) {
	if rej := a.before(ctx, OpFetch, "", "", []byte(name)); rej != nil {
		return nil, rej
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	hash, ok := a.byName[strings.TrimSpace(name)]
	if !ok {
		return nil, authority.Rejectf(authority.CodeDestinationInvalid, "module %q not found", name)
	}
	code := a.modules[hash].Code
	out := make([]byte, len(code))
	copy(out, code)
	return out, nil
}

func (a *Authority) controlledLocked(caller units.Principal, id units.UnitID) (*unitState, *authority.Reject) {
	st, ok := a.units[id]
	if !ok {
		return nil, authority.Rejectf(authority.CodeDestinationInvalid, "unit %s not found", id)
	}
	for _, c := range st.status.Controllers {
		if c == caller {
			return st, nil
		}
	}
	return nil, authority.Rejectf(authority.CodeUnitError, "caller %s is not a controller of %s", caller, id)
}

func cloneStatus(in authority.UnitStatus) authority.UnitStatus {
	out := in
	out.Controllers = append([]units.Principal(nil), in.Controllers...)
	out.Settings = in.Settings.Clone()
	return out
}

// asUnitReject reports application failures as unit errors.
func asUnitReject(err error) *authority.Reject {
	var rej *authority.Reject
	if errors.As(err, &rej) {
		return rej
	}
	return &authority.Reject{Code: authority.CodeUnitError, Message: err.Error()}
}
