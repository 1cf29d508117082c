package spendgated

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
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

// Config captures the runtime configuration for spendgated.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	DataDir       string         `yaml:"data_dir"`
	PoliciesPath  string         `yaml:"policies"`
	PauseOnStart  bool           `yaml:"pause"`
	ChainID       uint64         `yaml:"chain_id"`
	Executor      ExecutorConfig `yaml:"executor"`
	Forward       ForwardConfig  `yaml:"forward"`
	Audit         AuditConfig    `yaml:"audit"`
	Admin         AdminConfig    `yaml:"admin"`
	Rate          RateConfig     `yaml:"rate"`
}

// ExecutorConfig identifies the operator-controlled executor account.
type ExecutorConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"`
	KeyEnv  string `yaml:"key_env"`
}

// ForwardConfig points at the fixed, trusted forwarding venue.
type ForwardConfig struct {
	Target  string   `yaml:"target"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// AuditConfig bounds the rotating audit log.
type AuditConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
	AllowMTLS       bool   `yaml:"allow_mtls"`
}

// RateConfig throttles the execute endpoint.
type RateConfig struct {
	ExecutePerSecond float64 `yaml:"execute_per_second"`
	ExecuteBurst     int     `yaml:"execute_burst"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Executor.normalise(); err != nil {
		return cfg, fmt.Errorf("executor key: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7091"
	}
	if cfg.PoliciesPath == "" {
		cfg.PoliciesPath = "services/spendgated/policies.yaml"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.Forward.Timeout.Duration == 0 {
		cfg.Forward.Timeout.Duration = 10 * time.Second
	}
	if cfg.Rate.ExecutePerSecond <= 0 {
		cfg.Rate.ExecutePerSecond = 5
	}
	if cfg.Rate.ExecuteBurst <= 0 {
		cfg.Rate.ExecuteBurst = 10
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Executor.Key) == "" {
		return fmt.Errorf("executor key must be configured")
	}
	if strings.TrimSpace(cfg.Forward.Target) == "" {
		return fmt.Errorf("forward target must be configured")
	}
	if cfg.Admin.BearerToken == "" && !cfg.Admin.AllowMTLS {
		return fmt.Errorf("configure either bearer_token or mTLS for admin authentication")
	}
	return nil
}

func (c *ExecutorConfig) normalise() error {
	if c == nil {
		return fmt.Errorf("executor configuration missing")
	}
	c.Key = strings.TrimSpace(c.Key)
	c.KeyEnv = strings.TrimSpace(c.KeyEnv)
	c.KeyFile = strings.TrimSpace(c.KeyFile)
	if c.Key != "" {
		return nil
	}
	switch {
	case c.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", c.KeyEnv)
		}
		c.Key = value
	case c.KeyFile != "":
		contents, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		c.Key = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("key is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}
