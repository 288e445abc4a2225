package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/danmuck/spawnctl/internal/units"
	"github.com/pelletier/go-toml/v2"
)

// SpawnFile is the on-disk shape of spawnctl's config.toml.
type SpawnFile struct {
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

// AuthorityFile is the on-disk shape of authorityctl's config.toml.
type AuthorityFile struct {
	Addr        string          `toml:"addr"`
	CreationFee string          `toml:"creation_fee"`
	Accounts    []AccountConfig `toml:"accounts"`
}

type AccountConfig struct {
	Principal string `toml:"principal"`
	Cycles    string `toml:"cycles"`
}

// LoadSpawnFile strictly decodes and validates a spawnctl config.
func LoadSpawnFile(path string) (SpawnFile, error) {
	var cfg SpawnFile
	if err := loadToml(path, &cfg); err != nil {
		return SpawnFile{}, err
	}
	if err := ValidateSpawnFile(cfg); err != nil {
		return SpawnFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadAuthorityFile strictly decodes an authorityctl config and applies defaults.
func LoadAuthorityFile(path string) (AuthorityFile, error) {
	var cfg AuthorityFile
	if err := loadToml(path, &cfg); err != nil {
		return AuthorityFile{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9200"
	}
	if err := ValidateAuthorityFile(cfg); err != nil {
		return AuthorityFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateSpawnFile(cfg SpawnFile) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	embedded := strings.TrimSpace(cfg.EmbeddedAuthorityAddr) != ""
	if !embedded {
		if err := validateURL("authority_url", cfg.AuthorityURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.CodeURL) != "" {
		if err := validateURL("code_url", cfg.CodeURL); err != nil {
			return err
		}
	} else if !embedded {
		return fmt.Errorf("code_url is required without an embedded authority")
	}
	if strings.TrimSpace(cfg.SelfPrincipal) == "" {
		return fmt.Errorf("self_principal is required")
	}
	if raw := strings.TrimSpace(cfg.SignupCycles); raw != "" {
		if _, err := units.ParseCycles(raw); err != nil {
			return fmt.Errorf("signup_cycles: %w", err)
		}
	}
	if raw := strings.TrimSpace(cfg.EmbeddedAuthorityFunds); raw != "" {
		if _, err := units.ParseCycles(raw); err != nil {
			return fmt.Errorf("embedded_authority_funds: %w", err)
		}
	}
	if cfg.RequestTimeoutMS < 0 {
		return fmt.Errorf("request_timeout_ms must be >= 0")
	}
	if cfg.MaxTicks < 0 {
		return fmt.Errorf("max_ticks must be >= 0")
	}
	return nil
}

func ValidateAuthorityFile(cfg AuthorityFile) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if raw := strings.TrimSpace(cfg.CreationFee); raw != "" {
		if _, err := units.ParseCycles(raw); err != nil {
			return fmt.Errorf("creation_fee: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, acct := range cfg.Accounts {
		p := strings.TrimSpace(acct.Principal)
		if p == "" {
			return fmt.Errorf("accounts[%d]: principal is required", i)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("accounts[%d]: duplicate principal %q", i, p)
		}
		seen[p] = struct{}{}
		if _, err := units.ParseCycles(acct.Cycles); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
	}
	return nil
}

func validateURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
	}
	return nil
}
