package units

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/spawnctl/internal/testutil/testlog"
)

func principalPtr(p Principal) *Principal {
	return &p
}

func uintPtr(v uint64) *uint64 {
	return &v
}

func TestNormalizeRejectsBothControllerShapes(t *testing.T) {
	testlog.Start(t)

	cases := []Settings{
		{Controller: principalPtr("alice"), Controllers: []Principal{"bob"}},
		{Controller: principalPtr("alice"), Controllers: []Principal{}},
	}
	for i, in := range cases {
		_, err := Normalize(in)
		if !errors.Is(err, ErrConflictingControllers) {
			t.Fatalf("case %d: expected ErrConflictingControllers, got %v", i, err)
		}
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("case %d: expected ConfigurationError, got %T", i, err)
		}
	}
}

func TestNormalizeRewritesLegacyController(t *testing.T) {
	testlog.Start(t)

	in := Settings{
		Controller:        principalPtr("alice"),
		ComputeAllocation: uintPtr(10),
		FreezingThreshold: uintPtr(2592000),
	}
	out, err := Normalize(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Controller != nil {
		t.Fatalf("expected legacy controller cleared, got %v", *out.Controller)
	}
	if !reflect.DeepEqual(out.Controllers, []Principal{"alice"}) {
		t.Fatalf("unexpected controllers: %v", out.Controllers)
	}
	if out.ComputeAllocation == nil || *out.ComputeAllocation != 10 {
		t.Fatalf("compute allocation not passed through: %v", out.ComputeAllocation)
	}
	if out.FreezingThreshold == nil || *out.FreezingThreshold != 2592000 {
		t.Fatalf("freezing threshold not passed through: %v", out.FreezingThreshold)
	}
	if in.Controller == nil {
		t.Fatalf("normalize must not mutate its input")
	}
}

func TestNormalizeLeavesCanonicalAndEmptyUnchanged(t *testing.T) {
	testlog.Start(t)

	cases := []Settings{
		{},
		{Controllers: []Principal{}},
		{Controllers: []Principal{"a", "b"}, MemoryAllocation: uintPtr(1 << 30)},
	}
	for i, in := range cases {
		out, err := Normalize(in)
		if err != nil {
			t.Fatalf("case %d: normalize: %v", i, err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("case %d: expected unchanged settings, got %+v", i, out)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	testlog.Start(t)

	cases := []Settings{
		{},
		{Controller: principalPtr("alice")},
		{Controllers: []Principal{"x"}},
		{Controllers: []Principal{}},
	}
	for i, in := range cases {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("case %d: first normalize: %v", i, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("case %d: second normalize: %v", i, err)
		}
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("case %d: not idempotent: %+v vs %+v", i, once, twice)
		}
	}
}

func TestControllerSpecShapes(t *testing.T) {
	testlog.Start(t)

	spec, err := Settings{Controller: principalPtr("alice")}.ControllerSpec()
	if err != nil {
		t.Fatalf("legacy spec: %v", err)
	}
	if _, ok := spec.(LegacySingle); !ok {
		t.Fatalf("expected LegacySingle, got %T", spec)
	}

	spec, err = Settings{Controllers: []Principal{"a"}}.ControllerSpec()
	if err != nil {
		t.Fatalf("canonical spec: %v", err)
	}
	list, ok := spec.(CanonicalList)
	if !ok {
		t.Fatalf("expected CanonicalList, got %T", spec)
	}
	got := list.Principals()
	got[0] = "mutated"
	if list.Controllers[0] != "a" {
		t.Fatalf("Principals must return a copy")
	}
}
