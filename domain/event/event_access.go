package event

import (
	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// Paths holds the JSON paths an event access record uses to locate values
// inside incoming payloads. Each path is either a literal or a "_."-rooted
// lookup over {headers, body, query}.
type Paths struct {
	ID        *string `json:"id,omitempty" bson:"id,omitempty"`
	Event     *string `json:"event,omitempty" bson:"event,omitempty"`
	Payload   *string `json:"payload,omitempty" bson:"payload,omitempty"`
	Timestamp *string `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	Secret    *string `json:"secret,omitempty" bson:"secret,omitempty"`
	Signature *string `json:"signature,omitempty" bson:"signature,omitempty"`
	Cursor    *string `json:"cursor,omitempty" bson:"cursor,omitempty"`
}

// DefaultThroughputLimit is the per-minute budget new access records start
// with.
const DefaultThroughputLimit = 500

// Access is the tenant-scoped materialisation of an access key.
type Access struct {
	ID          id.ID              `json:"_id" bson:"_id"`
	Name        string             `json:"name" bson:"name"`
	Namespace   string             `json:"namespace" bson:"namespace"`
	Type        string             `json:"type" bson:"type"`
	Group       string             `json:"group" bson:"group"`
	Platform    string             `json:"platform" bson:"platform"`
	Ownership   shared.Ownership   `json:"ownership" bson:"ownership"`
	Key         string             `json:"key" bson:"key"`
	Paths       *Paths             `json:"paths,omitempty" bson:"paths,omitempty"`
	AccessKey   string             `json:"accessKey" bson:"accessKey"`
	Environment shared.Environment `json:"environment" bson:"environment"`
	Throughput  shared.Throughput  `json:"throughput" bson:"throughput"`

	shared.RecordMetadata `bson:",inline"`
}

// NewAccess materialises a decoded access key into a tenant-scoped record.
func NewAccess(key accesskey.AccessKey, encoded accesskey.Encrypted, name, platform string) Access {
	paths := &Paths{Event: &key.Data.EventPath}
	if key.Data.EventObjectIDPath != nil {
		paths.ID = key.Data.EventObjectIDPath
	}
	if key.Data.TimestampPath != nil {
		paths.Timestamp = key.Data.TimestampPath
	}

	return Access{
		ID:          id.Now(id.PrefixEventAccess),
		Name:        name,
		Namespace:   key.Data.Namespace,
		Type:        key.Data.EventType,
		Group:       key.Data.Group,
		Platform:    platform,
		Ownership:   shared.NewOwnership(key.Data.ID),
		Key:         key.Data.Group + "::" + key.Data.EventType,
		Paths:       paths,
		AccessKey:   encoded.String(),
		Environment: key.Prefix.Environment,
		Throughput: shared.Throughput{
			Key:   key.Data.ID,
			Limit: DefaultThroughputLimit,
		},
		RecordMetadata: shared.NewRecordMetadata(),
	}
}
