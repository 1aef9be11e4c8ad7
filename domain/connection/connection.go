// Package connection defines the tenant-facing Connection record and the
// catalogue entries that describe platforms, endpoints and OAuth flows.
package connection

import (
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// Type classifies what a connection talks to.
type Type string

const (
	TypeAPI           Type = "api"
	TypeDatabaseSQL   Type = "databasesql"
	TypeDatabaseNoSQL Type = "databasenosql"
	TypeFileSystem    Type = "filesystem"
	TypeStream        Type = "stream"
	TypeCustom        Type = "custom"
)

// OAuthState carries the OAuth enablement and expiry bookkeeping for a
// connection. ExpiresAt is mutated by the OAuth lifecycle on refresh.
type OAuthState struct {
	Enabled                     bool   `json:"enabled" bson:"enabled"`
	ConnectionOAuthDefinitionID id.ID  `json:"connectionOAuthDefinitionId,omitempty" bson:"connectionOAuthDefinitionId,omitempty"`
	ExpiresIn                   *int32 `json:"expiresIn,omitempty" bson:"expiresIn,omitempty"`
	ExpiresAt                   *int64 `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
}

// Connection is a tenant's bound instance of a platform, carrying the
// credential pointer and the throughput policy.
type Connection struct {
	ID                     id.ID              `json:"_id" bson:"_id"`
	PlatformVersion        string             `json:"platformVersion" bson:"platformVersion"`
	ConnectionDefinitionID id.ID              `json:"connectionDefinitionId" bson:"connectionDefinitionId"`
	Type                   Type               `json:"type" bson:"type"`
	Name                   string             `json:"name" bson:"name"`
	Key                    string             `json:"key" bson:"key"`
	Group                  string             `json:"group" bson:"group"`
	Environment            shared.Environment `json:"environment" bson:"environment"`
	Platform               string             `json:"platform" bson:"platform"`
	SecretsServiceID       string             `json:"secretsServiceId" bson:"secretsServiceId"`
	EventAccessID          id.ID              `json:"eventAccessId" bson:"eventAccessId"`
	AccessKey              string             `json:"accessKey" bson:"accessKey"`
	Settings               map[string]any     `json:"settings,omitempty" bson:"settings,omitempty"`
	Throughput             shared.Throughput  `json:"throughput" bson:"throughput"`
	Ownership              shared.Ownership   `json:"ownership" bson:"ownership"`
	OAuth                  *OAuthState        `json:"oauth,omitempty" bson:"oauth,omitempty"`

	shared.RecordMetadata `bson:",inline"`
}
