package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewSecretsStore(path)

	if _, ok, err := s.GetProviderAPIKey("anthropic_main"); err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v, want absent without error", ok, err)
	}

	if err := s.SetProviderAPIKey("anthropic_main", "sk-ant-test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	key, ok, err := s.GetProviderAPIKey("anthropic_main")
	if err != nil || !ok || key != "sk-ant-test" {
		t.Fatalf("get=(%q, %v, %v), want stored key", key, ok, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("perm=%o, want 600", got)
	}
}

func TestSecretsClear(t *testing.T) {
	t.Parallel()

	s := NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err := s.SetProviderAPIKey("p1", "k1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.ClearProviderAPIKey("p1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.GetProviderAPIKey("p1"); ok {
		t.Fatalf("key still present after clear")
	}
	// Clearing an absent key is a no-op.
	if err := s.ClearProviderAPIKey("p2"); err != nil {
		t.Fatalf("clear absent: %v", err)
	}
}

func TestSecretsKeySet(t *testing.T) {
	t.Parallel()

	s := NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err := s.SetProviderAPIKey("p1", "k1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	set, err := s.KeySet([]string{"p1", "p2", " "})
	if err != nil {
		t.Fatalf("KeySet: %v", err)
	}
	if !set["p1"] || set["p2"] {
		t.Fatalf("set=%v, want p1 only", set)
	}
	if _, ok := set[" "]; ok {
		t.Fatalf("blank id should be skipped")
	}
}

func TestSecretsRejectsBlankInput(t *testing.T) {
	t.Parallel()

	s := NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err := s.SetProviderAPIKey("", "k"); err == nil {
		t.Fatalf("expected error for blank provider id")
	}
	if err := s.SetProviderAPIKey("p", "  "); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

func TestSecretsFileCarriesSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewSecretsStore(path)
	if err := s.SetProviderAPIKey("p1", "k1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "schema_version") {
		t.Fatalf("secrets file missing schema_version: %s", b)
	}
}
