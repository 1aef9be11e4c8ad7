// Package id implements prefix-tagged, timestamped identifiers. The wire
// form is "{prefix}::{base64url(int64 BE nanos)}::{base64url(uuid bytes)}",
// unpadded. The base64url alphabet does not sort in byte order, so the
// lexicographic order of the strings does not follow their timestamps.
package id

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	timestampEncodedLen = 11
	uuidEncodedLen      = 22
)

// ID identifies a single entity. Immutable after creation.
type ID struct {
	prefix Prefix
	time   time.Time
	uuid   uuid.UUID
}

// New creates an ID with the given timestamp and a random v4 UUID.
func New(prefix Prefix, at time.Time) ID {
	return ID{prefix: prefix, time: at.UTC(), uuid: uuid.New()}
}

// Now creates an ID stamped with the current time.
func Now(prefix Prefix) ID {
	return New(prefix, time.Now())
}

// NewWithUUID creates a fully specified ID; used by tests and migrations.
func NewWithUUID(prefix Prefix, at time.Time, u uuid.UUID) ID {
	return ID{prefix: prefix, time: at.UTC(), uuid: u}
}

// Test returns the deterministic epoch/nil-uuid ID for a prefix.
func Test(prefix Prefix) ID {
	return ID{prefix: prefix, time: time.Unix(0, 0).UTC(), uuid: uuid.Nil}
}

func (i ID) Prefix() Prefix  { return i.prefix }
func (i ID) Time() time.Time { return i.time }
func (i ID) UUID() uuid.UUID { return i.uuid }

// IsZero reports whether the ID is the zero value (no prefix).
func (i ID) IsZero() bool { return i.prefix == "" }

func (i ID) String() string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(i.time.UnixNano()))
	timestamp := base64.RawURLEncoding.EncodeToString(ts[:])
	random := base64.RawURLEncoding.EncodeToString(i.uuid[:])
	return fmt.Sprintf("%s::%s::%s", i.prefix, timestamp, random)
}

// Parse accepts only the exact three-part wire form.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("invalid id: %q", s)
	}

	prefix, err := ParsePrefix(parts[0])
	if err != nil {
		return ID{}, err
	}

	if len(parts[1]) != timestampEncodedLen {
		return ID{}, fmt.Errorf("invalid id timestamp: %q", s)
	}
	ts, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(ts) != 8 {
		return ID{}, fmt.Errorf("invalid id timestamp: %q", s)
	}
	nanos := int64(binary.BigEndian.Uint64(ts))

	if len(parts[2]) != uuidEncodedLen {
		return ID{}, fmt.Errorf("invalid id uuid: %q", s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(raw) != 16 {
		return ID{}, fmt.Errorf("invalid id uuid: %q", s)
	}
	var u uuid.UUID
	copy(u[:], raw)

	return ID{prefix: prefix, time: time.Unix(0, nanos).UTC(), uuid: u}, nil
}

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
