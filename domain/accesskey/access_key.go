package accesskey

import (
	"encoding/base64"
	"errors"
	"fmt"
)

const eventVersion = "v1"

// ErrInvalidAccessKey covers every decode failure: malformed prefix, bad
// base64url, short payload, hash mismatch or undecodable content.
var ErrInvalidAccessKey = errors.New("invalid access key")

// AccessKey is a decoded credential: the cleartext prefix plus the decrypted
// routing data.
type AccessKey struct {
	Prefix Prefix
	Data   Data
}

// Topic derives the informational routing label for an event name:
// "v1/{id}.{namespace}.{environment}.{event_type}.{group}.{event_name}".
func (a AccessKey) Topic(eventName string) string {
	return fmt.Sprintf("%s/%s.%s.%s.%s.%s.%s",
		eventVersion,
		a.Data.ID,
		a.Data.Namespace,
		a.Prefix.Environment,
		a.Data.EventType,
		a.Data.Group,
		eventName,
	)
}

// Encode serialises the data, encrypts it under the password with the given
// IV, and assembles the final wire form.
func (a AccessKey) Encode(password *[PasswordLength]byte, iv *[IVLength]byte) (Encrypted, error) {
	content := a.Data.Marshal()
	payload, err := Encrypt(content, iv, password)
	if err != nil {
		return Encrypted{}, err
	}
	return Encrypted{
		Prefix: a.Prefix,
		data:   base64.RawURLEncoding.EncodeToString(payload),
	}, nil
}

// Decode parses and decrypts an encoded access key string.
func Decode(key string, password *[PasswordLength]byte) (AccessKey, error) {
	encrypted, err := ParseEncrypted(key)
	if err != nil {
		return AccessKey{}, errors.Join(ErrInvalidAccessKey, err)
	}
	return DecodeEncrypted(encrypted, password)
}

// DecodeEncrypted decrypts an already-parsed access key.
func DecodeEncrypted(encrypted Encrypted, password *[PasswordLength]byte) (AccessKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encrypted.data)
	if err != nil {
		return AccessKey{}, errors.Join(ErrInvalidAccessKey, err)
	}
	if len(raw) < IVLength+HashLength {
		return AccessKey{}, errors.Join(ErrInvalidAccessKey, errors.New("payload is too short"))
	}

	payload, err := NewEncryptedData(raw)
	if err != nil {
		return AccessKey{}, errors.Join(ErrInvalidAccessKey, err)
	}
	content, err := payload.VerifyAndDecrypt(password)
	if err != nil {
		return AccessKey{}, errors.Join(ErrInvalidAccessKey, err)
	}

	data, err := UnmarshalData(content)
	if err != nil {
		return AccessKey{}, errors.Join(ErrInvalidAccessKey, err)
	}

	return AccessKey{Prefix: encrypted.Prefix, Data: data}, nil
}
