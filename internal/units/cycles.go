package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/uint128"
)

var (
	ErrInvalidCycles  = errors.New("units: invalid cycles amount")
	ErrCyclesOverflow = errors.New("units: cycles amount exceeds 64 bits")
)

// Cycles is a non-negative 128-bit resource budget.
type Cycles struct {
	v uint128.Uint128
}

// Cycles64 widens a narrow budget.
func Cycles64(v uint64) Cycles {
	return Cycles{v: uint128.From64(v)}
}

// CyclesFromParts builds a wide budget from its high and low words.
func CyclesFromParts(hi, lo uint64) Cycles {
	return Cycles{v: uint128.New(lo, hi)}
}

// ParseCycles parses a base-10 amount that must fit in 128 bits.
func ParseCycles(raw string) (Cycles, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cycles{}, fmt.Errorf("%w: empty", ErrInvalidCycles)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return Cycles{}, fmt.Errorf("%w: %q", ErrInvalidCycles, raw)
	}
	return Cycles{v: uint128.FromBig(n)}, nil
}

// Uint128 returns the underlying wide value.
func (c Cycles) Uint128() uint128.Uint128 {
	return c.v
}

// Uint64 narrows the amount; it fails when the high word is in use.
func (c Cycles) Uint64() (uint64, error) {
	if c.v.Hi != 0 {
		return 0, fmt.Errorf("%w: %s", ErrCyclesOverflow, c.v.String())
	}
	return c.v.Lo, nil
}

func (c Cycles) IsZero() bool {
	return c.v.IsZero()
}

func (c Cycles) Cmp(other Cycles) int {
	return c.v.Cmp(other.v)
}

// Add returns c+other and false when the sum would wrap.
func (c Cycles) Add(other Cycles) (Cycles, bool) {
	sum := c.v.AddWrap(other.v)
	if sum.Cmp(c.v) < 0 {
		return Cycles{}, false
	}
	return Cycles{v: sum}, true
}

// Sub returns c-other and false when other exceeds c.
func (c Cycles) Sub(other Cycles) (Cycles, bool) {
	if c.v.Cmp(other.v) < 0 {
		return Cycles{}, false
	}
	return Cycles{v: c.v.SubWrap(other.v)}, true
}

func (c Cycles) String() string {
	return c.v.String()
}

// MarshalJSON encodes the amount as a decimal string so wide values survive JSON.
func (c Cycles) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.v.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (c *Cycles) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*c = Cycles{}
		return nil
	}
	var s string
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCycles, err)
		}
	} else {
		s = raw
	}
	parsed, err := ParseCycles(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
