package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
market_config: " market.toml "
tls:
  allow_insecure: true
auth:
  hmac_secret: "`+testSecret+`"
  optional_paths:
    - " /healthz "
    - " "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.MarketConfig != "market.toml" {
		t.Fatalf("unexpected market config: %q", cfg.MarketConfig)
	}
	if cfg.Store.Backend != "memory" || cfg.Store.SnapshotInterval != time.Minute {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Journal.Driver != "sqlite" {
		t.Fatalf("unexpected journal driver: %q", cfg.Journal.Driver)
	}
	if len(cfg.Auth.OptionalPaths) != 1 || cfg.Auth.OptionalPaths[0] != "/healthz" {
		t.Fatalf("expected trimmed optional paths, got %v", cfg.Auth.OptionalPaths)
	}
	if cfg.RateLimit.RequestsPerMinute != 600 || cfg.RateLimit.Burst != 50 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	cfg := defaults()
	cfg.MarketConfig = "market.toml"
	env := map[string]string{
		"LENDINGD_STORE_BACKEND":     "bolt",
		"LENDINGD_STORE_PATH":        "/var/lib/lendingd/state.bolt",
		"LENDINGD_JOURNAL_DRIVER":    "postgres",
		"LENDINGD_JOURNAL_DSN":       "postgres://lending:pw@db/lending",
		"LENDINGD_RATE_LIMIT_RPM":    "120",
		"LENDINGD_RATE_LIMIT_BURST":  "5",
		"LENDINGD_SNAPSHOT_INTERVAL": "30s",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Store.Backend != "bolt" || cfg.Store.Path != "/var/lib/lendingd/state.bolt" {
		t.Fatalf("store not overridden: %+v", cfg.Store)
	}
	if cfg.Journal.Driver != "postgres" || !strings.HasPrefix(cfg.Journal.DSN, "postgres://") {
		t.Fatalf("journal not overridden: %+v", cfg.Journal)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 5 {
		t.Fatalf("rate limit not overridden: %+v", cfg.RateLimit)
	}
	if cfg.Store.SnapshotInterval != 30*time.Second {
		t.Fatalf("unexpected interval %s", cfg.Store.SnapshotInterval)
	}

	env["LENDINGD_RATE_LIMIT_BURST"] = "many"
	if err := cfg.applyEnv(lookup); err == nil {
		t.Fatalf("expected malformed burst to fail")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing market": `
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
`,
		"short secret": `
market_config: market.toml
tls:
  allow_insecure: true
auth:
  hmac_secret: "short"
`,
		"bolt without path": `
market_config: market.toml
tls:
  allow_insecure: true
store:
  backend: bolt
auth:
  hmac_secret: "` + testSecret + `"
`,
		"unknown journal": `
market_config: market.toml
tls:
  allow_insecure: true
journal:
  driver: mysql
  dsn: x
auth:
  hmac_secret: "` + testSecret + `"
`,
		"tls required": `
market_config: market.toml
auth:
  hmac_secret: "` + testSecret + `"
`,
		"unknown field": `
market_config: market.toml
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
  api_tokens: ["x"]
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestTLSValidation(t *testing.T) {
	if err := (TLSConfig{CertPath: "server.crt"}).validate(); err == nil {
		t.Fatalf("expected mismatched cert and key to fail")
	}
	if err := (TLSConfig{ClientCAPath: "ca.pem", AllowInsecure: true}).validate(); err == nil {
		t.Fatalf("expected client ca without cert to fail")
	}
	cfg := TLSConfig{CertPath: "server.crt", KeyPath: "server.key", ClientCAPath: "ca.pem"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("valid tls rejected: %v", err)
	}
	if !cfg.MTLSEnabled() {
		t.Fatalf("expected mtls to be enabled")
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load("../config.yaml")
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if cfg.Store.Backend != "leveldb" || cfg.Journal.Driver != "sqlite" {
		t.Fatalf("unexpected sample backends %q/%q", cfg.Store.Backend, cfg.Journal.Driver)
	}
}
