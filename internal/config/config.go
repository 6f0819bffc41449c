// Package config holds the on-disk preferences for foundry-agent.
//
// Secrets (provider API keys) never live here; they are managed by the
// separate secrets file (internal/settings). The preferences file is YAML
// and safe to hand-edit while the agent runs: orchestration settings are
// re-read at dispatch time.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderTypeAnthropic        = "anthropic"
	ProviderTypeOpenAI           = "openai"
	ProviderTypeOpenAICompatible = "openai_compatible"
)

type Config struct {
	// StateDir is where the agent keeps its lock, ledger and audit journal.
	// Defaults to the config file's directory.
	StateDir string `yaml:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`

	// Providers is the model provider registry. Exactly one model across
	// all providers may be marked default.
	Providers []Provider `yaml:"providers,omitempty"`

	Orchestration *Orchestration `yaml:"orchestration,omitempty"`
}

type Provider struct {
	// ID is a stable internal id; secrets are keyed by it.
	ID string `yaml:"id"`
	// Name is a display name, safe to change at any time.
	Name string `yaml:"name,omitempty"`
	// Type is one of: "anthropic" | "openai" | "openai_compatible".
	Type string `yaml:"type"`
	// BaseURL overrides the endpoint; required for openai_compatible.
	BaseURL string `yaml:"base_url,omitempty"`
	Models  []Model `yaml:"models,omitempty"`
}

type Model struct {
	ModelName string `yaml:"model_name"`
	// IsDefault marks the single default model across all providers.
	IsDefault bool `yaml:"is_default,omitempty"`
}

// Orchestration tunes the sub-agent engine. Pointer fields distinguish
// "unset, use the default" from explicit zero values.
type Orchestration struct {
	// MaxWorkers caps live workers (default 25).
	MaxWorkers *int `yaml:"max_workers,omitempty"`
	// MaxConcurrentReviews caps parallel review sessions (default 25),
	// independently of max_workers.
	MaxConcurrentReviews *int `yaml:"max_concurrent_reviews,omitempty"`

	// ReviewEnabled turns the post-task review stage on (default off).
	ReviewEnabled *bool `yaml:"review_enabled,omitempty"`
	// MaxRevisions bounds revision cycles per task (default 3).
	MaxRevisions *int `yaml:"max_revisions,omitempty"`
	// ReviewTimeoutSec bounds one review round; on expiry the round is
	// auto-approved (default 60).
	ReviewTimeoutSec *int `yaml:"review_timeout_sec,omitempty"`
	// ReviewerModel picks the model for review rounds; empty means the
	// default model.
	ReviewerModel string `yaml:"reviewer_model,omitempty"`

	// DefaultModel seeds new workers that do not name a model.
	DefaultModel           string   `yaml:"default_model,omitempty"`
	DefaultTemperature     *float64 `yaml:"default_temperature,omitempty"`
	DefaultMaxOutputTokens *int     `yaml:"default_max_output_tokens,omitempty"`
}

func isValidProviderType(t string) bool {
	switch strings.TrimSpace(t) {
	case ProviderTypeAnthropic, ProviderTypeOpenAI, ProviderTypeOpenAICompatible:
		return true
	default:
		return false
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.TrimSpace(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}

	seen := map[string]struct{}{}
	defaults := 0
	for i, p := range c.Providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("providers[%d]: missing id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if !isValidProviderType(p.Type) {
			return fmt.Errorf("providers[%d]: invalid type %q", i, p.Type)
		}
		if base := strings.TrimSpace(p.BaseURL); base != "" {
			u, err := url.Parse(base)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return fmt.Errorf("providers[%d]: invalid base_url %q", i, p.BaseURL)
			}
		} else if strings.TrimSpace(p.Type) == ProviderTypeOpenAICompatible {
			return fmt.Errorf("providers[%d]: openai_compatible requires base_url", i)
		}
		for j, m := range p.Models {
			if strings.TrimSpace(m.ModelName) == "" {
				return fmt.Errorf("providers[%d].models[%d]: missing model_name", i, j)
			}
			if m.IsDefault {
				defaults++
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%d default models marked, want at most 1", defaults)
	}

	if o := c.Orchestration; o != nil {
		if o.MaxWorkers != nil && *o.MaxWorkers <= 0 {
			return errors.New("orchestration.max_workers must be positive")
		}
		if o.MaxConcurrentReviews != nil && *o.MaxConcurrentReviews <= 0 {
			return errors.New("orchestration.max_concurrent_reviews must be positive")
		}
		if o.MaxRevisions != nil && *o.MaxRevisions < 0 {
			return errors.New("orchestration.max_revisions must not be negative")
		}
		if o.ReviewTimeoutSec != nil && *o.ReviewTimeoutSec <= 0 {
			return errors.New("orchestration.review_timeout_sec must be positive")
		}
		if o.DefaultTemperature != nil && (*o.DefaultTemperature < 0 || *o.DefaultTemperature > 2) {
			return errors.New("orchestration.default_temperature out of range [0, 2]")
		}
	}
	return nil
}

// DefaultModelRef resolves the provider/model pair marked is_default.
func (c *Config) DefaultModelRef() (Provider, string, bool) {
	if c == nil {
		return Provider{}, "", false
	}
	for _, p := range c.Providers {
		for _, m := range p.Models {
			if m.IsDefault {
				return p, m.ModelName, true
			}
		}
	}
	return Provider{}, "", false
}

// FindModel resolves a model reference to its provider. Accepted forms:
// "provider_id/model_name" or a bare model name looked up across providers.
func (c *Config) FindModel(ref string) (Provider, string, bool) {
	ref = strings.TrimSpace(ref)
	if c == nil || ref == "" {
		return Provider{}, "", false
	}
	if providerID, modelName, ok := strings.Cut(ref, "/"); ok {
		for _, p := range c.Providers {
			if p.ID != providerID {
				continue
			}
			for _, m := range p.Models {
				if m.ModelName == modelName {
					return p, m.ModelName, true
				}
			}
		}
		return Provider{}, "", false
	}
	for _, p := range c.Providers {
		for _, m := range p.Models {
			if m.ModelName == ref {
				return p, m.ModelName, true
			}
		}
	}
	return Provider{}, "", false
}

// DefaultConfigPath returns ~/.foundry-agent/config.yaml, falling back to a
// relative path when the home dir is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "foundry-agent.config.yaml"
	}
	return filepath.Join(home, ".foundry-agent", "config.yaml")
}

// StateDirFor resolves the effective state directory for a config loaded
// from path.
func (c *Config) StateDirFor(path string) string {
	if c != nil && strings.TrimSpace(c.StateDir) != "" {
		return filepath.Clean(strings.TrimSpace(c.StateDir))
	}
	dir := filepath.Dir(filepath.Clean(strings.TrimSpace(path)))
	if dir == "" || dir == "." {
		return ".foundry-agent"
	}
	return dir
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	// Write atomically.
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
