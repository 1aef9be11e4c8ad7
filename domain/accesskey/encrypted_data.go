// Package accesskey implements the self-authenticated credential format that
// embeds tenant routing data. An encoded key looks like
// "{id or sk}_{environment}_{version}_{encrypted data}" where the encrypted
// data is base64url("[content][iv (16 bytes)][hash (32 bytes)]") and the
// content is the binary-encoded Data struct.
package accesskey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strconv"
)

const (
	HashLength     = 32
	IVLength       = 16
	PasswordLength = 32

	hashPrefix = "\x19Event Signed Message:\n"
)

// ErrInvalidHash is returned when the trailing hash does not authenticate
// the ciphertext, IV and password.
var ErrInvalidHash = errors.New("access key hash does not match")

// EncryptedData is the binary payload of an access key: ciphertext followed
// by the IV and the authenticating hash.
type EncryptedData struct {
	data []byte
}

// NewEncryptedData wraps a raw payload. The payload must be at least
// IVLength+HashLength bytes; shorter payloads cannot carry the trailer.
func NewEncryptedData(data []byte) (EncryptedData, error) {
	if len(data) < IVLength+HashLength {
		return EncryptedData{}, errors.New("encrypted data is too short")
	}
	return EncryptedData{data: data}, nil
}

func (e EncryptedData) content() []byte {
	return e.data[:len(e.data)-HashLength-IVLength]
}

func (e EncryptedData) iv() []byte {
	return e.data[len(e.data)-HashLength-IVLength : len(e.data)-HashLength]
}

func (e EncryptedData) hash() []byte {
	return e.data[len(e.data)-HashLength:]
}

// Encrypt runs AES-256-CTR over content and appends the IV and hash trailer.
func Encrypt(content []byte, iv *[IVLength]byte, password *[PasswordLength]byte) ([]byte, error) {
	block, err := aes.NewCipher(password[:])
	if err != nil {
		return nil, err
	}
	ciphertext := make([]byte, len(content))
	cipher.NewCTR(block, iv[:]).XORKeyStream(ciphertext, content)

	hash := ComputeHash(ciphertext, iv[:], password[:])

	out := make([]byte, 0, len(ciphertext)+IVLength+HashLength)
	out = append(out, ciphertext...)
	out = append(out, iv[:]...)
	out = append(out, hash[:]...)
	return out, nil
}

// VerifyAndDecrypt recomputes the hash, compares it in constant time, and
// CTR-decrypts the content on success.
func (e EncryptedData) VerifyAndDecrypt(password *[PasswordLength]byte) ([]byte, error) {
	actual := ComputeHash(e.content(), e.iv(), password[:])
	if subtle.ConstantTimeCompare(actual[:], e.hash()) != 1 {
		return nil, ErrInvalidHash
	}

	block, err := aes.NewCipher(password[:])
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(e.content()))
	cipher.NewCTR(block, e.iv()).XORKeyStream(plaintext, e.content())
	return plaintext, nil
}

// ComputeHash derives the authenticating hash over the domain-separated
// message "{prefix}{decimal len}{content}{iv}{password}". Interoperability
// depends on this exact construction.
func ComputeHash(content, iv, password []byte) [HashLength]byte {
	h := sha256.New()
	h.Write([]byte(hashPrefix))
	h.Write([]byte(strconv.Itoa(len(content) + len(iv) + len(password))))
	h.Write(content)
	h.Write(iv)
	h.Write(password)
	var out [HashLength]byte
	h.Sum(out[:0])
	return out
}
