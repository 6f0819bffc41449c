// Package settings persists user-managed secrets for foundry-agent.
//
// The secrets file is deliberately separate from the preferences file:
// config.yaml is safe to share or commit, secrets.json is not. Keys are
// never echoed back through status surfaces; callers should only surface
// derived facts like "key set".
package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type SecretsStore struct {
	path string
	mu   sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

type secretsFile struct {
	SchemaVersion   int               `json:"schema_version"`
	ProviderAPIKeys map[string]string `json:"provider_api_keys,omitempty"`
}

// GetProviderAPIKey returns the key for a provider id, reporting presence
// separately so an absent key is not an error.
func (s *SecretsStore) GetProviderAPIKey(providerID string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return "", false, errors.New("missing provider id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.ProviderAPIKeys[providerID])
	return v, v != "", nil
}

func (s *SecretsStore) SetProviderAPIKey(providerID, apiKey string) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return errors.New("missing provider id")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("missing api key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf == nil {
		sf = &secretsFile{SchemaVersion: 1}
	}
	if sf.ProviderAPIKeys == nil {
		sf.ProviderAPIKeys = map[string]string{}
	}
	sf.ProviderAPIKeys[providerID] = apiKey
	return s.saveLocked(sf)
}

func (s *SecretsStore) ClearProviderAPIKey(providerID string) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return errors.New("missing provider id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf == nil || len(sf.ProviderAPIKeys) == 0 {
		return nil
	}
	delete(sf.ProviderAPIKeys, providerID)
	if len(sf.ProviderAPIKeys) == 0 {
		sf.ProviderAPIKeys = nil
	}
	return s.saveLocked(sf)
}

// KeySet reports, per provider id, whether a key is present. This is the
// only shape safe to surface to status output.
func (s *SecretsStore) KeySet(providerIDs []string) (map[string]bool, error) {
	if s == nil {
		return nil, errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(providerIDs))
	for _, id := range providerIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set := false
		if sf != nil {
			set = strings.TrimSpace(sf.ProviderAPIKeys[id]) != ""
		}
		out[id] = set
	}
	return out, nil
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	if strings.TrimSpace(s.path) == "" {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
