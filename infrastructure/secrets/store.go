// Package secrets implements encrypted credential storage keyed by
// (id, tenant). The backend crypto is pluggable: a local AEAD or a KMS
// indirection for legacy records.
package secrets

import (
	"context"
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/infrastructure/crypto"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/storage"
)

// Store is the credential retrieval surface. Every returned record carries
// the decrypted plaintext in EncryptedSecret; the field name is historical.
type Store interface {
	Get(ctx context.Context, id, buildableID string) (secret.Secret, error)
	Create(ctx context.Context, value any, buildableID string) (secret.Secret, error)
}

// DocumentStore persists AEAD blobs in the secrets collection.
type DocumentStore struct {
	records *storage.Store[secret.Secret]
	crypto  crypto.Crypto
}

// NewDocumentStore wires the secrets collection with a crypto scheme.
func NewDocumentStore(records *storage.Store[secret.Secret], c crypto.Crypto) *DocumentStore {
	return &DocumentStore{records: records, crypto: c}
}

// Get fetches and decrypts a credential. Missing records surface NotFound;
// undecryptable records surface a detail-free decryption error.
func (s *DocumentStore) Get(ctx context.Context, id, buildableID string) (secret.Secret, error) {
	record, err := s.records.GetOne(ctx, bson.M{"_id": id, "buildableId": buildableID})
	if err != nil {
		return secret.Secret{}, errors.ConnectionError("fetch secret", err)
	}
	if record == nil {
		return secret.Secret{}, errors.NotFound("secret", id)
	}

	plaintext, err := s.crypto.Decrypt(ctx, record.EncryptedSecret, record.Version)
	if err != nil {
		return secret.Secret{}, errors.DecryptionError(err)
	}

	decrypted := *record
	decrypted.EncryptedSecret = plaintext
	return decrypted, nil
}

// Create encrypts the JSON encoding of value and persists a V2 record.
func (s *DocumentStore) Create(ctx context.Context, value any, buildableID string) (secret.Secret, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return secret.Secret{}, errors.SerializeError("serialize secret", err)
	}

	encrypted, err := s.crypto.Encrypt(ctx, string(payload))
	if err != nil {
		return secret.Secret{}, errors.EncryptionError(err)
	}

	version := secret.VersionV2LocalAead
	record := secret.New(encrypted, &version, buildableID, nil)
	if err := s.records.CreateOne(ctx, record); err != nil {
		return secret.Secret{}, errors.ConnectionError("persist secret", err)
	}

	// Hand back the plaintext view so callers never re-decrypt their own
	// write.
	record.EncryptedSecret = string(payload)
	return record, nil
}
