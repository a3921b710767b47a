package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models modmarket.yml.
type Config struct {
	Limits struct {
		MaxConcurrentClaims int `yaml:"max_concurrent_claims"`
		MaxModuleAssignees  int `yaml:"max_module_assignees"`
		MinAbandonReason    int `yaml:"min_abandon_reason"`
		BaselineReputation  int `yaml:"baseline_reputation"`
	} `yaml:"limits"`
	Policy struct {
		AllowLateJoin        bool   `yaml:"allow_late_join"`
		BlockClaimsOnTimeout bool   `yaml:"block_claims_on_timeout"`
		Remainder            string `yaml:"remainder"`
	} `yaml:"policy"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Remainder policies for equal score distribution.
const (
	RemainderEarliest = "earliest"
	RemainderStrict   = "strict"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with mm config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Limits.MaxConcurrentClaims <= 0 {
		return fmt.Errorf("config.limits.max_concurrent_claims must be positive")
	}
	if c.Limits.MaxModuleAssignees <= 0 {
		return fmt.Errorf("config.limits.max_module_assignees must be positive")
	}
	if c.Limits.MinAbandonReason < 0 {
		return fmt.Errorf("config.limits.min_abandon_reason must not be negative")
	}
	switch c.Policy.Remainder {
	case RemainderEarliest, RemainderStrict:
	default:
		return fmt.Errorf("config.policy.remainder must be %q or %q", RemainderEarliest, RemainderStrict)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "modmarket.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `limits:
  # How many live assignments a node may hold at once.
  max_concurrent_claims: 3
  # How many nodes may share one module.
  max_module_assignees: 5
  # Minimum abandon reason length in characters.
  min_abandon_reason: 10
  # Reputation score granted to new users.
  baseline_reputation: 100

policy:
  # Nodes may still claim a module that is already in progress.
  allow_late_join: true
  # A module past its deadline stops accepting new claims.
  block_claims_on_timeout: true
  # Where the leftover of an equal bounty split goes:
  #   earliest - the earliest-claiming assignee receives it
  #   strict   - totals must divide evenly, otherwise the review is rejected
  remainder: earliest

server:
  jwt_secret: ""
  allow_legacy_actor_header: false

webhooks: []
`
