package units

import (
	"errors"
	"fmt"
)

var ErrConflictingControllers = errors.New("units: settings cannot have both controller and controllers set")

// ConfigurationError is a caller-fixable settings problem found before any remote call.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid settings field=%s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Settings is unit configuration as accepted at the boundary.
//
// Older clients send a single Controller; newer clients send Controllers.
// A nil Controllers slice means "not provided"; an empty non-nil slice means
// "provided and empty". Allocation fields are passed through untouched.
type Settings struct {
	Controller        *Principal  `json:"controller,omitempty"`
	Controllers       []Principal `json:"controllers"`
	ComputeAllocation *uint64     `json:"compute_allocation,omitempty"`
	MemoryAllocation  *uint64     `json:"memory_allocation,omitempty"`
	FreezingThreshold *uint64     `json:"freezing_threshold,omitempty"`
}

// ControllerSpec is the boundary shape of the controller fields.
type ControllerSpec interface {
	Principals() []Principal
}

// LegacySingle is the single-controller shape sent by older clients.
type LegacySingle struct {
	Controller Principal
}

func (s LegacySingle) Principals() []Principal {
	return []Principal{s.Controller}
}

// CanonicalList is the multi-controller shape; it may be empty.
type CanonicalList struct {
	Controllers []Principal
}

func (s CanonicalList) Principals() []Principal {
	return clonePrincipals(s.Controllers)
}

// ControllerSpec classifies the controller fields; both set is a configuration error.
func (s Settings) ControllerSpec() (ControllerSpec, error) {
	switch {
	case s.Controller != nil && s.Controllers != nil:
		return nil, &ConfigurationError{Field: "controller", Err: ErrConflictingControllers}
	case s.Controller != nil:
		return LegacySingle{Controller: *s.Controller}, nil
	default:
		return CanonicalList{Controllers: s.Controllers}, nil
	}
}

// Normalize stores controllers only in the Controllers field.
func Normalize(s Settings) (Settings, error) {
	spec, err := s.ControllerSpec()
	if err != nil {
		return Settings{}, err
	}
	legacy, ok := spec.(LegacySingle)
	if !ok {
		return s, nil
	}
	out := s.Clone()
	out.Controller = nil
	out.Controllers = legacy.Principals()
	return out, nil
}

// Clone returns a deep copy of settings.
func (s Settings) Clone() Settings {
	out := Settings{
		Controllers:       clonePrincipals(s.Controllers),
		ComputeAllocation: cloneUint(s.ComputeAllocation),
		MemoryAllocation:  cloneUint(s.MemoryAllocation),
		FreezingThreshold: cloneUint(s.FreezingThreshold),
	}
	if s.Controller != nil {
		p := *s.Controller
		out.Controller = &p
	}
	return out
}

func clonePrincipals(in []Principal) []Principal {
	if in == nil {
		return nil
	}
	out := make([]Principal, len(in))
	copy(out, in)
	return out
}

func cloneUint(in *uint64) *uint64 {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}
