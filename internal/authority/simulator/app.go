package simulator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/danmuck/spawnctl/internal/userstore"
)

var (
	ErrModuleNameRequired = errors.New("simulator: module name required")
	ErrModuleCodeRequired = errors.New("simulator: module code required")
	ErrModuleExists       = errors.New("simulator: module already registered")
)

// Request is one call or query routed into an installed unit.
type Request struct {
	Caller units.Principal
	Unit   units.UnitID
	Method string
	Arg    json.RawMessage
	Query  bool
}

// App is the running application of one installed unit.
// Errors that are not *authority.Reject are reported as unit errors.
type App interface {
	Handle(req Request) (any, error)
}

// Module is a compiled image the authority knows how to run.
type Module struct {
	Name string
	Code []byte
	New  func(self units.UnitID) App
}

func moduleHash(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

func validateModule(m Module) error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrModuleNameRequired
	}
	if len(m.Code) == 0 {
		return fmt.Errorf("%w: %s", ErrModuleCodeRequired, m.Name)
	}
	if m.New == nil {
		return fmt.Errorf("simulator: module %q has no constructor", m.Name)
	}
	return nil
}

// UserStoreModule bundles the userstore application.
func UserStoreModule() Module {
	return Module{
		Name: userstore.ModuleName,
		Code: userstore.Code(),
		New: func(self units.UnitID) App {
			return userStoreApp{store: userstore.New(self)}
		},
	}
}

type userStoreApp struct {
	store *userstore.Store
}

func (a userStoreApp) Handle(req Request) (any, error) {
	switch req.Method {
	case userstore.MethodCreateUser:
		if req.Query {
			return nil, authority.Rejectf(authority.CodeUnitReject, "%s is an update method", req.Method)
		}
		var args userstore.CreateUserArgs
		if err := json.Unmarshal(req.Arg, &args); err != nil {
			return nil, authority.Rejectf(authority.CodeUnitError, "decode create_user args: %v", err)
		}
		return a.store.Create(args), nil
	case userstore.MethodGetUser:
		return a.store.Get(), nil
	case userstore.MethodGetUserName:
		return a.store.GetName(), nil
	default:
		return nil, authority.Rejectf(authority.CodeUnitReject, "unit has no method %q", req.Method)
	}
}
