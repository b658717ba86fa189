package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ramm/native/ramm"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Backends accepted by Storage.Backend.
const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Config captures runtime configuration for rammd.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Storage       StorageConfig `yaml:"storage"`
	Assets        []Asset       `yaml:"assets"`
	Keeper        KeeperConfig  `yaml:"keeper"`
	Admin         AdminConfig   `yaml:"admin"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
	Log           LogConfig     `yaml:"log"`
	Paused        bool          `yaml:"paused"`
}

// StorageConfig selects the state backend and the receipt database.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Receipts is the sqlite file holding receipts and idempotency keys;
	// ":memory:" keeps them in process.
	Receipts string `yaml:"receipts"`
}

// Asset is initialised at boot when it does not exist yet.
type Asset struct {
	Mint             string  `yaml:"mint"`
	BufferBps        *uint16 `yaml:"buffer_bps"`
	RatchetBpsPerDay uint16  `yaml:"ratchet_bps_per_day"`
	MCR              string  `yaml:"mcr"`
	Bootstrap        *bool   `yaml:"bootstrap"`
}

// Params converts the asset entry into engine parameters. Defaults must have
// been applied.
func (a Asset) Params() (ramm.Params, error) {
	mcr, err := ramm.ParseAmount(strings.TrimSpace(a.MCR))
	if err != nil {
		return ramm.Params{}, fmt.Errorf("invalid mcr %q: %w", a.MCR, err)
	}
	params := ramm.Params{
		RatchetBpsPerDay:          a.RatchetBpsPerDay,
		MinimumCapitalRequirement: mcr,
	}
	if a.BufferBps != nil {
		params.BufferBps = *a.BufferBps
	}
	if a.Bootstrap != nil {
		params.Bootstrap = *a.Bootstrap
	}
	if err := params.Validate(); err != nil {
		return ramm.Params{}, err
	}
	return params, nil
}

// KeeperConfig tunes the ratchet loop.
type KeeperConfig struct {
	Interval Duration `yaml:"interval"`
	Disabled bool     `yaml:"disabled"`
}

// AdminConfig configures authentication for admin endpoints and TLS.
type AdminConfig struct {
	BearerToken string    `yaml:"bearer_token"`
	JWT         JWTConfig `yaml:"jwt"`
	TLS         TLSConfig `yaml:"tls"`
}

// JWTConfig enables HS256 bearer tokens.
type JWTConfig struct {
	Secret    string   `yaml:"secret"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`
}

// TLSConfig mirrors the listener TLS settings.
type TLSConfig struct {
	Disable  bool   `yaml:"disable"`
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// RateLimit throttles trading endpoints per client.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig controls the log sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != BackendMemory {
		cfg.Storage.Path = "/var/data/rammd/state." + cfg.Storage.Backend
	}
	if cfg.Storage.Receipts == "" {
		cfg.Storage.Receipts = "/var/data/rammd/receipts.sqlite"
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = time.Minute
	}
	if cfg.Admin.JWT.ClockSkew.Duration == 0 {
		cfg.Admin.JWT.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	for i := range cfg.Assets {
		asset := &cfg.Assets[i]
		asset.Mint = strings.ToUpper(strings.TrimSpace(asset.Mint))
		if asset.BufferBps == nil {
			buffer := uint16(500)
			asset.BufferBps = &buffer
		}
		if asset.Bootstrap == nil {
			bootstrap := true
			asset.Bootstrap = &bootstrap
		}
		if strings.TrimSpace(asset.MCR) == "" {
			asset.MCR = "0"
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case BackendSQLite, BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Keeper.Interval.Duration < 0 {
		return fmt.Errorf("keeper interval must be positive")
	}
	if strings.TrimSpace(cfg.Admin.BearerToken) == "" && strings.TrimSpace(cfg.Admin.JWT.Secret) == "" {
		return fmt.Errorf("admin bearer_token or jwt.secret must be configured")
	}
	if !cfg.Admin.TLS.Disable && (cfg.Admin.TLS.CertPath == "" || cfg.Admin.TLS.KeyPath == "") {
		return fmt.Errorf("tls cert and key required unless admin.tls.disable is set")
	}
	seen := make(map[string]struct{}, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		if asset.Mint == "" {
			return fmt.Errorf("asset mint must be set")
		}
		if _, dup := seen[asset.Mint]; dup {
			return fmt.Errorf("asset %s configured twice", asset.Mint)
		}
		seen[asset.Mint] = struct{}{}
		if _, err := asset.Params(); err != nil {
			return fmt.Errorf("asset %s: %w", asset.Mint, err)
		}
	}
	return nil
}
