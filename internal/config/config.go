package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the bridge.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	TAK     TAKConfig     `yaml:"tak"`
	SODA    SODAConfig    `yaml:"soda"`
	Poll    PollConfig    `yaml:"poll"`
	CoT     CoTConfig     `yaml:"cot"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP control-surface listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// TAKConfig configures the downstream TAK server connection. URL schemes
// tcp:// and tls:// select plaintext or mutual-TLS delivery.
type TAKConfig struct {
	URL          string        `yaml:"url"`
	ClientCert   string        `yaml:"clientCert"`
	ClientKey    string        `yaml:"clientKey"`
	CACert       string        `yaml:"caCert"`
	QueueSize    int           `yaml:"queueSize"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
}

// SODAConfig configures access to the Socrata open-data API.
type SODAConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	AppToken       string        `yaml:"appToken"`
	FireDataset    string        `yaml:"fireDataset"`
	TrafficDataset string        `yaml:"trafficDataset"`
	Timeout        time.Duration `yaml:"timeout"`
	PageLimit      int           `yaml:"pageLimit"`
}

// PollConfig controls the per-source polling cadence.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"`
}

// CoTConfig tunes event identity and validity windows.
type CoTConfig struct {
	Namespace      string        `yaml:"namespace"`
	StandardStale  time.Duration `yaml:"standardStale"`
	RemovalStale   time.Duration `yaml:"removalStale"`
	RefreshCeiling time.Duration `yaml:"refreshCeiling"`
	StatusMapPath  string        `yaml:"statusMapPath"`
}

// StoreConfig selects and configures the lifecycle store backend.
type StoreConfig struct {
	Backend   string        `yaml:"backend"` // memory | valkey
	Retention time.Duration `yaml:"retention"`
	Valkey    ValkeyConfig  `yaml:"valkey"`
}

// ValkeyConfig holds connection parameters for the Valkey-backed store.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("COTBRIDGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would violate lifecycle guarantees.
func (c *Config) Validate() error {
	if c.CoT.RefreshCeiling >= c.CoT.StandardStale {
		return fmt.Errorf("cot.refreshCeiling (%s) must be smaller than cot.standardStale (%s)",
			c.CoT.RefreshCeiling, c.CoT.StandardStale)
	}
	if c.CoT.RemovalStale >= c.CoT.StandardStale {
		return fmt.Errorf("cot.removalStale (%s) must be smaller than cot.standardStale (%s)",
			c.CoT.RemovalStale, c.CoT.StandardStale)
	}
	if c.CoT.Namespace == "" {
		return fmt.Errorf("cot.namespace must not be empty")
	}
	switch c.Store.Backend {
	case "memory", "valkey":
	default:
		return fmt.Errorf("store.backend must be memory or valkey, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "valkey" && c.Store.Valkey.Addr == "" {
		return fmt.Errorf("store.valkey.addr is required for the valkey backend")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		TAK: TAKConfig{
			QueueSize:    256,
			WriteTimeout: 5 * time.Second,
			DialTimeout:  10 * time.Second,
		},
		SODA: SODAConfig{
			BaseURL:        "https://data.austintexas.gov/resource",
			FireDataset:    "wpu4-x69d",
			TrafficDataset: "dx9v-zd7x",
			Timeout:        30 * time.Second,
			PageLimit:      100,
		},
		Poll: PollConfig{
			Interval: 45 * time.Second,
			Lookback: 10 * time.Minute,
		},
		CoT: CoTConfig{
			Namespace:      "austin",
			StandardStale:  10 * time.Minute,
			RemovalStale:   time.Minute,
			RefreshCeiling: 5 * time.Minute,
		},
		Store: StoreConfig{
			Backend:   "memory",
			Retention: 24 * time.Hour,
			Valkey: ValkeyConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COTBRIDGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("COT_URL"); v != "" {
		cfg.TAK.URL = v
	}
	if v := os.Getenv("COTBRIDGE_TLS_CLIENT_CERT"); v != "" {
		cfg.TAK.ClientCert = v
	}
	if v := os.Getenv("COTBRIDGE_TLS_CLIENT_KEY"); v != "" {
		cfg.TAK.ClientKey = v
	}
	if v := os.Getenv("COTBRIDGE_TLS_CA"); v != "" {
		cfg.TAK.CACert = v
	}
	if v := os.Getenv("SODA_APP_TOKEN"); v != "" {
		cfg.SODA.AppToken = v
	}
	if v := os.Getenv("SODA_BASE_URL"); v != "" {
		cfg.SODA.BaseURL = v
	}
	if v := os.Getenv("FIRE_DATASET"); v != "" {
		cfg.SODA.FireDataset = v
	}
	if v := os.Getenv("TRAFFIC_DATASET"); v != "" {
		cfg.SODA.TrafficDataset = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poll.Interval = d
		}
	}
	if v := os.Getenv("POLL_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poll.Lookback = d
		}
	}
	if v := os.Getenv("COT_NAMESPACE"); v != "" {
		cfg.CoT.Namespace = v
	}
	if v := os.Getenv("COT_STANDARD_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CoT.StandardStale = d
		}
	}
	if v := os.Getenv("COT_REMOVAL_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CoT.RemovalStale = d
		}
	}
	if v := os.Getenv("COT_REFRESH_CEILING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CoT.RefreshCeiling = d
		}
	}
	if v := os.Getenv("COTBRIDGE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("COTBRIDGE_STORE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Retention = d
		}
	}
	if v := os.Getenv("COTBRIDGE_VALKEY_ADDR"); v != "" {
		cfg.Store.Valkey.Addr = v
	}
	if v := os.Getenv("COTBRIDGE_VALKEY_USERNAME"); v != "" {
		cfg.Store.Valkey.Username = v
	}
	if v := os.Getenv("COTBRIDGE_VALKEY_PASSWORD"); v != "" {
		cfg.Store.Valkey.Password = v
	}
	if v := os.Getenv("COTBRIDGE_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.Valkey.DB = db
		}
	}
	if v := os.Getenv("COTBRIDGE_VALKEY_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Store.Valkey.TLS = true
	}
	if v := os.Getenv("COTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COTBRIDGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("COTBRIDGE_STATUS_MAP"); v != "" {
		cfg.CoT.StatusMapPath = v
	}
}
