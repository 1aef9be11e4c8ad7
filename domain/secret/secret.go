// Package secret defines encrypted credential records and the OAuth secret
// payload stored inside them.
package secret

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version selects the crypto scheme a secret was written with. Encryption
// always writes V2; V1 records remain readable through the KMS path.
type Version string

const (
	VersionV1GoogleKms Version = "v1"
	VersionV2LocalAead Version = "v2"
)

// Author identifies who created a secret.
type Author struct {
	ID string `json:"_id" bson:"_id"`
}

// Secret is a credential record scoped to a tenant. After retrieval through
// the secret store, EncryptedSecret holds the decrypted plaintext; the field
// name is historical.
type Secret struct {
	ID              string   `json:"_id" bson:"_id"`
	BuildableID     string   `json:"buildableId" bson:"buildableId"`
	CreatedAt       float64  `json:"createdAt" bson:"createdAt"`
	Author          Author   `json:"author" bson:"author"`
	EncryptedSecret string   `json:"encryptedSecret" bson:"encryptedSecret"`
	Version         *Version `json:"version,omitempty" bson:"version,omitempty"`
}

// New mints a secret record around an already-processed payload.
func New(payload string, version *Version, buildableID string, createdAt *time.Time) Secret {
	at := time.Now()
	if createdAt != nil {
		at = *createdAt
	}
	return Secret{
		ID:              uuid.NewString(),
		BuildableID:     buildableID,
		CreatedAt:       float64(at.UnixMilli()),
		Author:          Author{ID: "anonymous"},
		EncryptedSecret: payload,
		Version:         version,
	}
}

// Decode unmarshals the JSON plaintext into out.
func (s Secret) Decode(out any) error {
	if err := json.Unmarshal([]byte(s.EncryptedSecret), out); err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}
	return nil
}

// AsValue returns the plaintext as a JSON value, falling back to a plain
// string for non-JSON payloads.
func (s Secret) AsValue() any {
	var v any
	if err := json.Unmarshal([]byte(s.EncryptedSecret), &v); err != nil {
		return s.EncryptedSecret
	}
	return v
}

// OAuthSecret is the credential payload for OAuth connections. The field
// names are the historical ALL_CAPS wire keys.
type OAuthSecret struct {
	ClientID       string          `json:"OAUTH_CLIENT_ID"`
	ClientSecret   string          `json:"OAUTH_CLIENT_SECRET"`
	AccessToken    string          `json:"OAUTH_ACCESS_TOKEN"`
	TokenType      *string         `json:"OAUTH_TOKEN_TYPE"`
	RefreshToken   *string         `json:"OAUTH_REFRESH_TOKEN"`
	ExpiresIn      int32           `json:"OAUTH_EXPIRES_IN"`
	Metadata       json.RawMessage `json:"OAUTH_METADATA"`
	RequestPayload json.RawMessage `json:"OAUTH_REQUEST_PAYLOAD,omitempty"`
}

// OAuthLegacySecret is the credential payload for OAuth 1.0a connections.
type OAuthLegacySecret struct {
	ConsumerKey       string `json:"CONSUMER_KEY"`
	ConsumerSecret    string `json:"CONSUMER_SECRET"`
	AccessTokenID     string `json:"ACCESS_TOKEN_ID"`
	AccessTokenSecret string `json:"ACCESS_TOKEN_SECRET"`
}

// AsJSON serialises the secret for persistence.
func (s OAuthSecret) AsJSON() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("serialize oauth secret: %w", err)
	}
	return string(raw), nil
}
