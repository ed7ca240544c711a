package platforms

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/franz/onetagger/internal/util"
)

// credentialStore keeps every provider's tokens in one JSON document in
// the app config directory.
type credentialStore struct {
	mu   sync.Mutex
	path string
	// provider id -> opaque token payload
	Providers map[string]json.RawMessage `json:"providers"`
}

func openCredentialStore() (*credentialStore, error) {
	dir, err := util.DataFolder()
	if err != nil {
		return nil, err
	}
	store := &credentialStore{
		path:      filepath.Join(dir, "credentials.json"),
		Providers: map[string]json.RawMessage{},
	}
	data, err := os.ReadFile(store.path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, store); err != nil {
		util.WarnLog("Corrupt credential store, starting fresh: %v", err)
	}
	if store.Providers == nil {
		store.Providers = map[string]json.RawMessage{}
	}
	return store, nil
}

// get unmarshals the provider's token payload into out
func (s *credentialStore) get(provider string, out interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.Providers[provider]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// put stores the provider's token payload and persists the document
func (s *credentialStore) put(provider string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.Providers[provider] = raw
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
