package cache

import (
	"time"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/secret"
)

// ConnectionKey addresses a connection by tenant and caller-supplied key.
type ConnectionKey struct {
	Ownership string
	Key       string
}

// SchemaKey addresses a model schema by platform and model name.
type SchemaKey struct {
	Platform string
	Model    string
}

// Caches bundles the named caches the runtime shares. Each cache carries its
// own capacity and TTL.
type Caches struct {
	EventAccess      *Cache[string, event.Access]
	Connections      *Cache[ConnectionKey, connection.Connection]
	Secrets          *Cache[string, secret.Secret]
	Definitions      *Cache[string, connection.Definition]
	OAuthDefinitions *Cache[string, connection.OAuthDefinition]
	ModelDefinitions *Cache[string, connection.ModelDefinition]
	ModelSchemas     *Cache[SchemaKey, connection.ModelSchema]
	OAuthSecrets     *Cache[string, secret.OAuthSecret]
}

// CachesConfig exposes per-cache tuning; zero values fall back to defaults.
type CachesConfig struct {
	EventAccess      Config
	Connections      Config
	Secrets          Config
	Definitions      Config
	OAuthDefinitions Config
	ModelDefinitions Config
	ModelSchemas     Config
}

// NewCaches builds the standard cache set.
func NewCaches(cfg CachesConfig) *Caches {
	return &Caches{
		EventAccess:      New[string, event.Access](cfg.EventAccess),
		Connections:      New[ConnectionKey, connection.Connection](cfg.Connections),
		Secrets:          New[string, secret.Secret](cfg.Secrets),
		Definitions:      New[string, connection.Definition](cfg.Definitions),
		OAuthDefinitions: New[string, connection.OAuthDefinition](cfg.OAuthDefinitions),
		ModelDefinitions: New[string, connection.ModelDefinition](cfg.ModelDefinitions),
		ModelSchemas:     New[SchemaKey, connection.ModelSchema](cfg.ModelSchemas),
		// OAuth secrets live only as long as the shortest plausible token
		// refresh margin.
		OAuthSecrets: New[string, secret.OAuthSecret](Config{TTL: 30 * time.Second, MaxSize: 500}),
	}
}
