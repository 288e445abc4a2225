package units

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidInstallMode = errors.New("units: invalid install mode")

// UnitID is the opaque address of a created execution unit.
type UnitID string

func (id UnitID) String() string {
	return string(id)
}

// Principal identifies a caller, a controller, or a unit acting as caller.
type Principal string

// AnonymousPrincipal is used when a caller does not identify itself.
const AnonymousPrincipal Principal = "2vxsx-fae"

func (p Principal) String() string {
	return string(p)
}

// InstallMode selects how code is placed into a unit.
type InstallMode string

const (
	ModeInstall   InstallMode = "install"
	ModeReinstall InstallMode = "reinstall"
	ModeUpgrade   InstallMode = "upgrade"
)

// ParseInstallMode accepts install, reinstall, or upgrade (case-insensitive).
func ParseInstallMode(raw string) (InstallMode, error) {
	switch InstallMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeInstall:
		return ModeInstall, nil
	case ModeReinstall:
		return ModeReinstall, nil
	case ModeUpgrade:
		return ModeUpgrade, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInstallMode, raw)
	}
}

// InstallRecord is the transient payload of one install_code call.
type InstallRecord struct {
	UnitID UnitID
	Code   []byte
	Mode   InstallMode
	Arg    []byte
}

// AppState is the child unit's single-slot application record.
type AppState struct {
	Name    string `json:"name"`
	Age     uint64 `json:"age"`
	Contact string `json:"contact"`
}
