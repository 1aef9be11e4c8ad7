package accesskey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/R3E-Network/integration_layer/domain/shared"
)

// EventType distinguishes id keys from secret keys.
type EventType string

const (
	EventTypeID        EventType = "id"
	EventTypeSecretKey EventType = "sk"
)

// ParseEventType validates the wire spelling of an event type.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventTypeID, EventTypeSecretKey:
		return EventType(s), nil
	}
	return "", fmt.Errorf("invalid access key event type: %q", s)
}

// Prefix is the cleartext head of an access key.
type Prefix struct {
	Environment shared.Environment
	EventType   EventType
	Version     uint32
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s_%s_%d", p.EventType, p.Environment, p.Version)
}

// Encrypted is a parsed-but-undecrypted access key: the cleartext prefix
// plus the base64url payload.
type Encrypted struct {
	Prefix Prefix
	data   string
}

// ParseEncrypted splits an encoded key into its prefix and payload without
// touching the ciphertext.
func ParseEncrypted(key string) (Encrypted, error) {
	parts := strings.SplitN(key, "_", 4)
	if len(parts) != 4 {
		return Encrypted{}, fmt.Errorf("malformed access key")
	}

	eventType, err := ParseEventType(parts[0])
	if err != nil {
		return Encrypted{}, err
	}
	environment, err := shared.ParseEnvironment(parts[1])
	if err != nil {
		return Encrypted{}, err
	}
	version, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Encrypted{}, fmt.Errorf("invalid access key version: %w", err)
	}

	return Encrypted{
		Prefix: Prefix{
			Environment: environment,
			EventType:   eventType,
			Version:     uint32(version),
		},
		data: parts[3],
	}, nil
}

func (e Encrypted) String() string {
	return e.Prefix.String() + "_" + e.data
}
