// Package wallet reports the orchestrator's own cycle balance and keeps a
// bounded history of balance samples taken after each funded creation.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/rs/zerolog/log"
)

var (
	ErrOverflow       = errors.New("wallet: balance exceeds 64 bits")
	ErrSourceRequired = errors.New("wallet: balance source required")
)

// DefaultMaxTicks bounds the sample history.
const DefaultMaxTicks = 1024

// BalanceSource reads the balance of the orchestrator's own principal.
type BalanceSource interface {
	SelfBalance(ctx context.Context) (units.Cycles, error)
}

// Tick is one balance sample.
type Tick struct {
	Timestamp time.Time    `json:"timestamp"`
	Cycles    units.Cycles `json:"cycles"`
}

// Reporter serves wide and narrow balance reads and records samples.
type Reporter struct {
	source   BalanceSource
	maxTicks int
	now      func() time.Time

	mu    sync.Mutex
	ticks []Tick
}

func NewReporter(source BalanceSource, maxTicks int) (*Reporter, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	return &Reporter{source: source, maxTicks: maxTicks, now: time.Now}, nil
}

// Balance128 returns the full-width balance.
func (r *Reporter) Balance128(ctx context.Context) (units.Cycles, error) {
	return r.source.SelfBalance(ctx)
}

// Balance64 returns the balance narrowed to 64 bits, or ErrOverflow.
func (r *Reporter) Balance64(ctx context.Context) (uint64, error) {
	wide, err := r.Balance128(ctx)
	if err != nil {
		return 0, err
	}
	narrow, err := wide.Uint64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, wide)
	}
	return narrow, nil
}

// Record samples the current balance and appends it to the history.
// A failed read is logged and leaves the history unchanged.
func (r *Reporter) Record(ctx context.Context) {
	wide, err := r.source.SelfBalance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("wallet_sample_failed")
		return
	}
	tick := Tick{Timestamp: r.now().UTC(), Cycles: wide}

	r.mu.Lock()
	r.ticks = append(r.ticks, tick)
	if over := len(r.ticks) - r.maxTicks; over > 0 {
		r.ticks = append(r.ticks[:0:0], r.ticks[over:]...)
	}
	r.mu.Unlock()

	f, _ := new(big.Float).SetInt(wide.Uint128().Big()).Float64()
	observability.SetWalletBalance(f)
	log.Debug().Str("cycles", wide.String()).Msg("wallet_sample")
}

// Ticks returns a copy of the recorded samples, oldest first.
func (r *Reporter) Ticks() []Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tick, len(r.ticks))
	copy(out, r.ticks)
	return out
}
