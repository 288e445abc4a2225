package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/spawnctl/internal/provision"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/danmuck/spawnctl/internal/wallet"
)

// spawnctl config.toml key mapping to runtime settings.
type fileConfig struct {
	Name                   string   `toml:"name"`
	Addr                   string   `toml:"addr"`
	CorsOrigins            []string `toml:"cors_origins"`
	AuthorityURL           string   `toml:"authority_url"`
	SelfPrincipal          string   `toml:"self_principal"`
	CodeURL                string   `toml:"code_url"`
	SignupCycles           string   `toml:"signup_cycles"`
	CompensateFailedUnits  bool     `toml:"compensate_failed_units"`
	RequestTimeoutMS       int64    `toml:"request_timeout_ms"`
	MaxTicks               int      `toml:"max_ticks"`
	EmbeddedAuthorityAddr  string   `toml:"embedded_authority_addr"`
	EmbeddedAuthorityFunds string   `toml:"embedded_authority_funds"`
}

type serviceConfig struct {
	Name          string
	ListenAddr    string
	CORSOrigins   []string
	AuthorityURL  string
	SelfPrincipal units.Principal
	MaxTicks      int
	Provision     provision.Config

	// EmbeddedAuthorityAddr starts an in-process authority simulator when set.
	EmbeddedAuthorityAddr  string
	EmbeddedAuthorityFunds units.Cycles
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Name:          "spawnctl",
		ListenAddr:    ":9000",
		CORSOrigins:   []string{"http://localhost:3000"},
		AuthorityURL:  "http://127.0.0.1:9200",
		SelfPrincipal: "spawnctl-wallet",
		MaxTicks:      wallet.DefaultMaxTicks,
		Provision: provision.Config{
			SignupCycles: provision.DefaultSignupCycles,
			CodeURL:      "http://127.0.0.1:9200/modules/userstore",
		},
		EmbeddedAuthorityFunds: units.Cycles64(10_000_000_000_000),
	}
}

// loadServiceConfig overlays the keys defined in path onto the defaults.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load spawnctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serviceConfig{}, fmt.Errorf("load spawnctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("authority_url") {
		cfg.AuthorityURL = strings.TrimSpace(raw.AuthorityURL)
	}
	if meta.IsDefined("self_principal") {
		cfg.SelfPrincipal = units.Principal(strings.TrimSpace(raw.SelfPrincipal))
	}
	if meta.IsDefined("code_url") {
		cfg.Provision.CodeURL = strings.TrimSpace(raw.CodeURL)
	}
	if meta.IsDefined("signup_cycles") {
		amount, err := units.ParseCycles(raw.SignupCycles)
		if err != nil {
			return serviceConfig{}, fmt.Errorf("load spawnctl config: signup_cycles: %w", err)
		}
		cfg.Provision.SignupCycles = amount
	}
	if meta.IsDefined("compensate_failed_units") {
		cfg.Provision.CompensateFailed = raw.CompensateFailedUnits
	}
	if meta.IsDefined("request_timeout_ms") {
		if raw.RequestTimeoutMS < 0 {
			return serviceConfig{}, fmt.Errorf("load spawnctl config: request_timeout_ms must be >= 0")
		}
		cfg.Provision.RequestTimeout = time.Duration(raw.RequestTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("max_ticks") {
		cfg.MaxTicks = raw.MaxTicks
	}
	if meta.IsDefined("embedded_authority_addr") {
		cfg.EmbeddedAuthorityAddr = strings.TrimSpace(raw.EmbeddedAuthorityAddr)
	}
	if meta.IsDefined("embedded_authority_funds") {
		amount, err := units.ParseCycles(raw.EmbeddedAuthorityFunds)
		if err != nil {
			return serviceConfig{}, fmt.Errorf("load spawnctl config: embedded_authority_funds: %w", err)
		}
		cfg.EmbeddedAuthorityFunds = amount
	}

	if cfg.ListenAddr == "" {
		return serviceConfig{}, fmt.Errorf("load spawnctl config: addr is required")
	}
	if cfg.SelfPrincipal == "" {
		return serviceConfig{}, fmt.Errorf("load spawnctl config: self_principal is required")
	}
	if cfg.EmbeddedAuthorityAddr == "" && cfg.AuthorityURL == "" {
		return serviceConfig{}, fmt.Errorf("load spawnctl config: authority_url is required without embedded_authority_addr")
	}
	return cfg, nil
}
