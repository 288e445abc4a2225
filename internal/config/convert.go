package config

import (
	"strings"

	"github.com/danmuck/spawnctl/internal/authority/simulator"
	"github.com/danmuck/spawnctl/internal/units"
)

// Simulator converts a validated authority file into simulator settings.
func (f AuthorityFile) Simulator() (simulator.Config, error) {
	cfg := simulator.DefaultConfig()
	if raw := strings.TrimSpace(f.CreationFee); raw != "" {
		fee, err := units.ParseCycles(raw)
		if err != nil {
			return simulator.Config{}, err
		}
		cfg.CreationFee = fee
	}
	for _, acct := range f.Accounts {
		amount, err := units.ParseCycles(acct.Cycles)
		if err != nil {
			return simulator.Config{}, err
		}
		cfg.Accounts[units.Principal(strings.TrimSpace(acct.Principal))] = amount
	}
	return cfg, nil
}
