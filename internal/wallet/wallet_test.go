package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/spawnctl/internal/testutil/testlog"
	"github.com/danmuck/spawnctl/internal/units"
)

type fakeSource struct {
	amount units.Cycles
	err    error
}

func (f *fakeSource) SelfBalance(context.Context) (units.Cycles, error) {
	return f.amount, f.err
}

func TestBalanceNarrowAndWide(t *testing.T) {
	testlog.Start(t)
	src := &fakeSource{amount: units.Cycles64(1_000_000)}
	r, err := NewReporter(src, 0)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	ctx := context.Background()

	narrow, err := r.Balance64(ctx)
	if err != nil || narrow != 1_000_000 {
		t.Fatalf("narrow balance mismatch: got=%d err=%v", narrow, err)
	}

	src.amount = units.CyclesFromParts(0, ^uint64(0))
	narrow, err = r.Balance64(ctx)
	if err != nil || narrow != ^uint64(0) {
		t.Fatalf("max narrow balance mismatch: got=%d err=%v", narrow, err)
	}

	src.amount = units.CyclesFromParts(1, 0)
	if _, err := r.Balance64(ctx); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	wide, err := r.Balance128(ctx)
	if err != nil {
		t.Fatalf("wide balance: %v", err)
	}
	if wide.String() != "18446744073709551616" {
		t.Fatalf("wide balance mismatch: %s", wide)
	}
}

func TestBalancePropagatesSourceError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("authority down")
	r, _ := NewReporter(&fakeSource{err: boom}, 0)
	if _, err := r.Balance64(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRecordKeepsBoundedHistory(t *testing.T) {
	testlog.Start(t)
	src := &fakeSource{}
	r, _ := NewReporter(src, 2)
	clock := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		src.amount = units.Cycles64(i * 10)
		r.Record(ctx)
	}
	src.err = errors.New("unavailable")
	r.Record(ctx)

	ticks := r.Ticks()
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].Cycles != units.Cycles64(20) || ticks[1].Cycles != units.Cycles64(30) {
		t.Fatalf("unexpected tick history: %+v", ticks)
	}
	if !ticks[0].Timestamp.Before(ticks[1].Timestamp) {
		t.Fatalf("ticks out of order: %+v", ticks)
	}

	ticks[0].Cycles = units.Cycles64(0)
	if r.Ticks()[0].Cycles != units.Cycles64(20) {
		t.Fatalf("Ticks must return a copy")
	}
}

func TestNewReporterRequiresSource(t *testing.T) {
	if _, err := NewReporter(nil, 0); !errors.Is(err, ErrSourceRequired) {
		t.Fatalf("expected ErrSourceRequired, got %v", err)
	}
}
