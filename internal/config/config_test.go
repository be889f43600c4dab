package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.SODA.FireDataset != "wpu4-x69d" || cfg.SODA.TrafficDataset != "dx9v-zd7x" {
		t.Errorf("datasets = %q / %q", cfg.SODA.FireDataset, cfg.SODA.TrafficDataset)
	}
	if cfg.Poll.Interval != 45*time.Second {
		t.Errorf("poll interval = %s", cfg.Poll.Interval)
	}
	if cfg.CoT.StandardStale != 10*time.Minute || cfg.CoT.RemovalStale != time.Minute {
		t.Errorf("stale windows = %s / %s", cfg.CoT.StandardStale, cfg.CoT.RemovalStale)
	}
	if cfg.CoT.RefreshCeiling >= cfg.CoT.StandardStale {
		t.Error("default refresh ceiling not below standard stale")
	}
	if cfg.CoT.Namespace != "austin" {
		t.Errorf("namespace = %q", cfg.CoT.Namespace)
	}
	if cfg.Store.Backend != "memory" || cfg.Store.Retention != 24*time.Hour {
		t.Errorf("store = %q retention %s", cfg.Store.Backend, cfg.Store.Retention)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9999"
poll:
  interval: 30s
  lookback: 15m
cot:
  namespace: sanantonio
  standardStale: 20m
  removalStale: 2m
  refreshCeiling: 8m
store:
  backend: valkey
  valkey:
    addr: "localhost:6379"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Poll.Interval != 30*time.Second || cfg.Poll.Lookback != 15*time.Minute {
		t.Errorf("poll = %s / %s", cfg.Poll.Interval, cfg.Poll.Lookback)
	}
	if cfg.CoT.Namespace != "sanantonio" {
		t.Errorf("namespace = %q", cfg.CoT.Namespace)
	}
	if cfg.Store.Backend != "valkey" || cfg.Store.Valkey.Addr != "localhost:6379" {
		t.Errorf("store = %+v", cfg.Store)
	}
	// Untouched sections keep their defaults.
	if cfg.SODA.BaseURL != "https://data.austintexas.gov/resource" {
		t.Errorf("soda base url = %q", cfg.SODA.BaseURL)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COT_URL", "tls://tak.example.test:8089")
	t.Setenv("SODA_APP_TOKEN", "secret-token")
	t.Setenv("POLL_INTERVAL", "90s")
	t.Setenv("COT_NAMESPACE", "roundrock")
	t.Setenv("COTBRIDGE_STORE_BACKEND", "VALKEY")
	t.Setenv("COTBRIDGE_VALKEY_ADDR", "valkey:6379")
	t.Setenv("COTBRIDGE_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TAK.URL != "tls://tak.example.test:8089" {
		t.Errorf("tak url = %q", cfg.TAK.URL)
	}
	if cfg.SODA.AppToken != "secret-token" {
		t.Errorf("app token = %q", cfg.SODA.AppToken)
	}
	if cfg.Poll.Interval != 90*time.Second {
		t.Errorf("interval = %s", cfg.Poll.Interval)
	}
	if cfg.CoT.Namespace != "roundrock" {
		t.Errorf("namespace = %q", cfg.CoT.Namespace)
	}
	if cfg.Store.Backend != "valkey" {
		t.Errorf("backend = %q (env value should be lowercased)", cfg.Store.Backend)
	}
	if !cfg.Logging.JSON {
		t.Error("log format json not applied")
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			"refresh ceiling at standard stale",
			func(c *Config) { c.CoT.RefreshCeiling = c.CoT.StandardStale },
			"refreshCeiling",
		},
		{
			"removal stale above standard stale",
			func(c *Config) { c.CoT.RemovalStale = c.CoT.StandardStale + time.Minute },
			"removalStale",
		},
		{
			"empty namespace",
			func(c *Config) { c.CoT.Namespace = "" },
			"namespace",
		},
		{
			"unknown backend",
			func(c *Config) { c.Store.Backend = "sqlite" },
			"backend",
		},
		{
			"valkey without addr",
			func(c *Config) { c.Store.Backend = "valkey" },
			"valkey.addr",
		},
		{
			"zero poll interval",
			func(c *Config) { c.Poll.Interval = 0 },
			"interval",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
