package services

import (
	"fmt"
	"os"
	"sync"
)

// APIKeyVault resolves api key ids to secrets. Diagram-declared keys map an
// id to an environment variable name; the vault reads the variable at
// resolve time so secrets never live in diagram files.
type APIKeyVault struct {
	mu   sync.RWMutex
	keys map[string]string // id -> env var name
}

// NewAPIKeyVault creates a vault from the diagram's api_keys declarations
func NewAPIKeyVault(declared map[string]string) *APIKeyVault {
	keys := make(map[string]string, len(declared))
	for id, envVar := range declared {
		keys[id] = envVar
	}
	return &APIKeyVault{keys: keys}
}

// Register adds or replaces a key declaration
func (v *APIKeyVault) Register(id, envVar string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[id] = envVar
}

// Resolve returns the secret for an api key id
func (v *APIKeyVault) Resolve(id string) (string, error) {
	v.mu.RLock()
	envVar, ok := v.keys[id]
	v.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("api_keys: unknown key id %q", id)
	}
	secret := os.Getenv(envVar)
	if secret == "" {
		return "", fmt.Errorf("api_keys: environment variable %s for key %q is not set", envVar, id)
	}
	return secret, nil
}
