package authority

import (
	"errors"
	"fmt"
)

// RejectCode classifies why a remote call did not complete.
type RejectCode int

const (
	CodeSysFatal           RejectCode = 1
	CodeSysTransient       RejectCode = 2
	CodeDestinationInvalid RejectCode = 3
	CodeUnitReject         RejectCode = 4
	CodeUnitError          RejectCode = 5
)

func (c RejectCode) String() string {
	switch c {
	case CodeSysFatal:
		return "sys_fatal"
	case CodeSysTransient:
		return "sys_transient"
	case CodeDestinationInvalid:
		return "destination_invalid"
	case CodeUnitReject:
		return "unit_reject"
	case CodeUnitError:
		return "unit_error"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Reject is a remote refusal reported as {code, message}.
type Reject struct {
	Code    RejectCode `json:"code"`
	Message string     `json:"message"`
}

func (r *Reject) Error() string {
	return fmt.Sprintf("%d: %s", int(r.Code), r.Message)
}

// Rejectf builds a Reject with a formatted message.
func Rejectf(code RejectCode, format string, args ...any) *Reject {
	return &Reject{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsReject extracts a Reject from err, classifying anything else as a transient failure.
func AsReject(err error) *Reject {
	if err == nil {
		return nil
	}
	var rej *Reject
	if errors.As(err, &rej) {
		return rej
	}
	return &Reject{Code: CodeSysTransient, Message: err.Error()}
}
