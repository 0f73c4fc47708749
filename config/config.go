// Package config loads the YAML runtime configuration: which providers to
// register with which profiles, how the thread store retains conversations,
// and the default consensus roster. API keys never live in the file; each
// provider names the environment variable that carries its key.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conclave-ai/conclave/core"
)

// Provider kinds accepted in configuration.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindMock      = "mock"
)

// Config is the root of the YAML document.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Store     StoreConfig      `yaml:"store"`
	Consensus ConsensusConfig  `yaml:"consensus"`

	// AllowedModels restricts registration to the named model or provider
	// ids; empty allows all.
	AllowedModels []string `yaml:"allowed_models"`
	// DisabledModels rejects the named model or provider ids even when
	// allowed.
	DisabledModels []string `yaml:"disabled_models"`

	// ReservedOutput is the default output-token allowance per call.
	ReservedOutput int    `yaml:"reserved_output"`
	LogLevel       string `yaml:"log_level"`
}

// ProviderConfig declares one backend and its capability profile.
type ProviderConfig struct {
	ID           string   `yaml:"id"`
	Kind         string   `yaml:"kind"`
	Model        string   `yaml:"model"`
	FriendlyName string   `yaml:"friendly_name"`
	Aliases      []string `yaml:"aliases"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`

	MaxContext    int     `yaml:"max_context"`
	MaxOutput     int     `yaml:"max_output"`
	CharsPerToken float64 `yaml:"chars_per_token"`
	Rank          int     `yaml:"rank"`

	Capabilities CapabilitiesConfig `yaml:"capabilities"`
}

// CapabilitiesConfig mirrors core.Capabilities in YAML form.
type CapabilitiesConfig struct {
	Images        bool `yaml:"images"`
	SystemPrompts bool `yaml:"system_prompts"`
	JSONMode      bool `yaml:"json_mode"`
}

// StoreConfig tunes conversation retention.
type StoreConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	// SQLitePath switches persistence from in-memory to a database file.
	SQLitePath string `yaml:"sqlite_path"`
}

// ConsensusConfig declares the default consensus roster.
type ConsensusConfig struct {
	Members       []string      `yaml:"members"`
	MemberTimeout time.Duration `yaml:"member_timeout"`
}

// Default returns a configuration with no providers and standard retention.
func Default() Config {
	return Config{
		Store: StoreConfig{
			TTL:      3 * time.Hour,
			Capacity: 1000,
		},
		Consensus: ConsensusConfig{
			MemberTimeout: 2 * time.Minute,
		},
		ReservedOutput: 8192,
		LogLevel:       "info",
	}
}

// Load reads and validates a YAML file, applying defaults for unset fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural invariants: unique provider ids and aliases,
// known kinds, sane limits, and a resolvable consensus roster.
func (c Config) Validate() error {
	if c.Store.TTL <= 0 {
		return errors.New("store.ttl must be positive")
	}
	if c.Store.Capacity <= 0 {
		return errors.New("store.capacity must be positive")
	}
	if c.ReservedOutput <= 0 {
		return errors.New("reserved_output must be positive")
	}

	names := map[string]string{}
	for _, p := range c.Providers {
		if p.ID == "" {
			return errors.New("provider id is required")
		}
		switch p.Kind {
		case KindOpenAI, KindAnthropic, KindMock:
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}
		if p.MaxContext <= 0 {
			return fmt.Errorf("provider %q: max_context must be positive", p.ID)
		}
		if p.MaxOutput <= 0 {
			return fmt.Errorf("provider %q: max_output must be positive", p.ID)
		}
		if p.CharsPerToken < 0 {
			return fmt.Errorf("provider %q: chars_per_token must not be negative", p.ID)
		}
		if prev, taken := names[p.ID]; taken {
			return fmt.Errorf("provider id %q already used by %q", p.ID, prev)
		}
		names[p.ID] = p.ID
		for _, alias := range p.Aliases {
			if prev, taken := names[alias]; taken {
				return fmt.Errorf("provider %q: alias %q already used by %q", p.ID, alias, prev)
			}
			names[alias] = p.ID
		}
	}

	for _, m := range c.Consensus.Members {
		if _, ok := names[m]; !ok {
			return fmt.Errorf("consensus member %q is not a configured provider or alias", m)
		}
	}
	if c.Consensus.MemberTimeout <= 0 {
		return errors.New("consensus.member_timeout must be positive")
	}
	return nil
}

// Profile converts the declaration into the runtime capability profile.
func (p ProviderConfig) Profile() core.Profile {
	return core.Profile{
		ID:            p.ID,
		Model:         p.Model,
		FriendlyName:  p.FriendlyName,
		Aliases:       append([]string(nil), p.Aliases...),
		MaxContext:    p.MaxContext,
		MaxOutput:     p.MaxOutput,
		CharsPerToken: p.CharsPerToken,
		Rank:          p.Rank,
		Capabilities: core.Capabilities{
			Images:        p.Capabilities.Images,
			SystemPrompts: p.Capabilities.SystemPrompts,
			JSONMode:      p.Capabilities.JSONMode,
		},
	}
}

// APIKey resolves the provider's key from the environment. Empty when the
// variable is unset, which the vendor SDK treats as "use its own defaults".
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}
