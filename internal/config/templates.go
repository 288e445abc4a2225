package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "spawnctl":
		return spawnTemplate, nil
	case "authority":
		return authorityTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const spawnTemplate = `name = "spawnctl"
addr = ":9000"
cors_origins = ["http://localhost:3000"]
authority_url = "http://127.0.0.1:9200"
self_principal = "spawnctl-wallet"
code_url = "http://127.0.0.1:9200/modules/userstore"
signup_cycles = "200000000000"
compensate_failed_units = false
request_timeout_ms = 0
max_ticks = 1024
`

const authorityTemplate = `addr = ":9200"
creation_fee = "100000000000"

[[accounts]]
principal = "spawnctl-wallet"
cycles = "10000000000000"
`
