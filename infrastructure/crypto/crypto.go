// Package crypto implements the secret encryption schemes: a local
// ChaCha20-Poly1305 AEAD and a Google KMS indirection for legacy records.
package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/R3E-Network/integration_layer/domain/secret"
)

// Crypto encrypts and decrypts secret payloads. Implementations are selected
// at startup by configuration.
type Crypto interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, data string, version *secret.Version) (string, error)
}

// LocalCrypto is the V2 scheme: ChaCha20-Poly1305 with a random 12-byte
// nonce prepended to the ciphertext and the whole blob hex-encoded.
type LocalCrypto struct {
	key []byte
}

// NewLocalCrypto validates the key length at construction.
func NewLocalCrypto(key []byte) (*LocalCrypto, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	out := make([]byte, chacha20poly1305.KeySize)
	copy(out, key)
	return &LocalCrypto{key: out}, nil
}

// Encrypt seals the plaintext and hex-encodes nonce||ciphertext||tag.
func (c *LocalCrypto) Encrypt(_ context.Context, plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	buf := make([]byte, 0, len(nonce)+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return hex.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. The version argument is ignored: local crypto
// only ever reads V2 blobs.
func (c *LocalCrypto) Decrypt(_ context.Context, data string, _ *secret.Version) (string, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce := raw[:aead.NonceSize()]
	body := raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// KmsClient is the remote decrypt surface of an external KMS. Only the
// interface is named here; the provider SDK lives with the deployment.
type KmsClient interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KmsCrypto decrypts V2 records through the local fallback and everything
// else (V1 and unversioned) through a remote KMS. Encryption always uses the
// fallback, so new records are always V2.
type KmsCrypto struct {
	client   KmsClient
	fallback *LocalCrypto
}

// NewKmsCrypto wires a KMS client with the mandatory local fallback.
func NewKmsCrypto(client KmsClient, fallback *LocalCrypto) *KmsCrypto {
	return &KmsCrypto{client: client, fallback: fallback}
}

func (c *KmsCrypto) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return c.fallback.Encrypt(ctx, plaintext)
}

func (c *KmsCrypto) Decrypt(ctx context.Context, data string, version *secret.Version) (string, error) {
	if version != nil && *version == secret.VersionV2LocalAead {
		return c.fallback.Decrypt(ctx, data, version)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode kms ciphertext: %w", err)
	}
	plaintext, err := c.client.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("kms decrypt: %w", err)
	}
	return string(plaintext), nil
}
