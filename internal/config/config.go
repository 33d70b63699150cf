package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Workflow variants. The three-phase clock-in/clock-out flow is canonical;
// two_phase is the deprecated single-claim flow kept for existing deployments.
const (
	VariantThreePhase = "three_phase"
	VariantTwoPhase   = "two_phase"
)

// Config models cleanline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Classifier struct {
		Endpoint       string `yaml:"endpoint"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"classifier"`
	Workflow struct {
		Variant string `yaml:"variant"`
	} `yaml:"workflow"`
	Points struct {
		// LegacyAward is the fixed amount credited by the deprecated
		// two-phase approve, which carries no per-task final_points.
		LegacyAward int `yaml:"legacy_award"`
	} `yaml:"points"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Workflow.Variant {
	case VariantThreePhase, VariantTwoPhase:
	default:
		return fmt.Errorf("config.workflow.variant must be %s or %s", VariantThreePhase, VariantTwoPhase)
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.classifier.timeout_seconds must be positive")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Points.LegacyAward < 0 {
		return fmt.Errorf("config.points.legacy_award must not be negative")
	}
	return nil
}

// ClassifierTimeout returns the oracle call deadline.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// TokenTTL returns the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cleanline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with cln config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v1"
	cfg.Auth.TokenTTLMinutes = 30
	cfg.Classifier.Endpoint = "http://localhost:8000"
	cfg.Classifier.TimeoutSeconds = 30
	cfg.Workflow.Variant = VariantThreePhase
	cfg.Points.LegacyAward = 50
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1

auth:
  jwt_secret: ""
  token_ttl_minutes: 30

classifier:
  endpoint: http://localhost:8000
  timeout_seconds: 30

workflow:
  # three_phase (canonical clock-in/clock-out) or two_phase (deprecated).
  variant: three_phase

points:
  legacy_award: 50
`
