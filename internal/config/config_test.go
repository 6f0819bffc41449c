package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Providers: []Provider{
			{
				ID:   "anthropic_main",
				Type: ProviderTypeAnthropic,
				Models: []Model{
					{ModelName: "claude-sonnet-4-5", IsDefault: true},
					{ModelName: "claude-haiku-4-5"},
				},
			},
			{
				ID:      "local_llm",
				Type:    ProviderTypeOpenAICompatible,
				BaseURL: "http://localhost:11434/v1",
				Models:  []Model{{ModelName: "qwen3:8b"}},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"duplicate provider id", func(c *Config) { c.Providers[1].ID = "anthropic_main" }, "duplicate id"},
		{"missing provider id", func(c *Config) { c.Providers[0].ID = " " }, "missing id"},
		{"bad provider type", func(c *Config) { c.Providers[0].Type = "bedrock" }, "invalid type"},
		{"compatible without base url", func(c *Config) { c.Providers[1].BaseURL = "" }, "requires base_url"},
		{"bad base url", func(c *Config) { c.Providers[1].BaseURL = "ftp://x" }, "invalid base_url"},
		{"two defaults", func(c *Config) { c.Providers[1].Models[0].IsDefault = true }, "default models"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"zero max workers", func(c *Config) {
			zero := 0
			c.Orchestration = &Orchestration{MaxWorkers: &zero}
		}, "max_workers"},
		{"negative revisions", func(c *Config) {
			neg := -1
			c.Orchestration = &Orchestration{MaxRevisions: &neg}
		}, "max_revisions"},
		{"temperature out of range", func(c *Config) {
			hot := 3.5
			c.Orchestration = &Orchestration{DefaultTemperature: &hot}
		}, "default_temperature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("err=%q, want substring %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := Save(path, validConfig()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("perm=%o, want 600", got)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, model, ok := cfg.DefaultModelRef()
	if !ok || p.ID != "anthropic_main" || model != "claude-sonnet-4-5" {
		t.Fatalf("default=(%q, %q, %v), want anthropic_main/claude-sonnet-4-5", p.ID, model, ok)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("providers: [oops"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFindModel(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cases := []struct {
		ref      string
		provider string
		model    string
		ok       bool
	}{
		{"anthropic_main/claude-haiku-4-5", "anthropic_main", "claude-haiku-4-5", true},
		{"claude-sonnet-4-5", "anthropic_main", "claude-sonnet-4-5", true},
		{"qwen3:8b", "local_llm", "qwen3:8b", true},
		{"anthropic_main/gpt-4o", "", "", false},
		{"missing-model", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		p, model, ok := cfg.FindModel(tc.ref)
		if ok != tc.ok || p.ID != tc.provider || model != tc.model {
			t.Fatalf("FindModel(%q)=(%q, %q, %v), want (%q, %q, %v)", tc.ref, p.ID, model, ok, tc.provider, tc.model, tc.ok)
		}
	}
}

func TestStateDirFor(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if got := cfg.StateDirFor("/home/u/.foundry-agent/config.yaml"); got != "/home/u/.foundry-agent" {
		t.Fatalf("state dir=%q, want config dir", got)
	}
	cfg.StateDir = "/var/lib/foundry"
	if got := cfg.StateDirFor("/home/u/.foundry-agent/config.yaml"); got != "/var/lib/foundry" {
		t.Fatalf("state dir=%q, want explicit override", got)
	}
}
