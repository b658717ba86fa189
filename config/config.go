package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultEndpoint = "http://127.0.0.1:7090"
	DefaultTokenEnv = "RAMM_ADMIN_TOKEN"
	DefaultTimeout  = 15
)

// Config is the rammctl client profile.
type Config struct {
	Endpoint string `toml:"Endpoint"`
	// Account is the default holder used by issue and redeem when no
	// -account flag is supplied.
	Account            string `toml:"Account"`
	TokenEnv           string `toml:"TokenEnv"`
	TimeoutSeconds     int    `toml:"TimeoutSeconds"`
	CAFile             string `toml:"CAFile"`
	InsecureSkipVerify bool   `toml:"InsecureSkipVerify"`
}

// Load loads the profile from the given path, writing a default profile when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if strings.TrimSpace(cfg.TokenEnv) == "" {
		cfg.TokenEnv = DefaultTokenEnv
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeout
	}
}

// createDefault creates and saves a default profile.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Endpoint:       DefaultEndpoint,
		TokenEnv:       DefaultTokenEnv,
		TimeoutSeconds: DefaultTimeout,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
