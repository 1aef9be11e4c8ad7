package secrets

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
)

// MemoryStore keeps plaintext secrets in memory; test and development use
// only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]secret.Secret
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]secret.Secret)}
}

func (s *MemoryStore) Get(_ context.Context, id, buildableID string) (secret.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok || record.BuildableID != buildableID {
		return secret.Secret{}, errors.NotFound("secret", id)
	}
	return record, nil
}

func (s *MemoryStore) Create(_ context.Context, value any, buildableID string) (secret.Secret, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return secret.Secret{}, errors.SerializeError("serialize secret", err)
	}

	version := secret.VersionV2LocalAead
	record := secret.New(string(payload), &version, buildableID, nil)

	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()
	return record, nil
}

// Put seeds a record under a fixed id; test helper.
func (s *MemoryStore) Put(record secret.Secret) {
	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()
}
