package connection

import (
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// Definition is the catalogue entry describing a platform: its auth modes,
// supported environments and frontend metadata.
type Definition struct {
	ID                 id.ID    `json:"_id" bson:"_id"`
	Platform           string   `json:"platform" bson:"platform"`
	PlatformVersion    string   `json:"platformVersion" bson:"platformVersion"`
	Type               Type     `json:"type" bson:"type"`
	Name               string   `json:"name" bson:"name"`
	Description        string   `json:"description,omitempty" bson:"description,omitempty"`
	Category           string   `json:"category,omitempty" bson:"category,omitempty"`
	Tags               []string `json:"tags,omitempty" bson:"tags,omitempty"`
	TestConnection     *id.ID   `json:"testConnection,omitempty" bson:"testConnection,omitempty"`
	AuthSecretsEnabled bool     `json:"authSecretsEnabled" bson:"authSecretsEnabled"`

	shared.RecordMetadata `bson:",inline"`
}

// SchemaMapping names the script translating a native record into a common
// model instance.
type SchemaMapping struct {
	CommonModelName string `json:"commonModelName" bson:"commonModelName"`
	CommonModelID   id.ID  `json:"commonModelId" bson:"commonModelId"`
	FromCommonModel string `json:"fromCommonModel,omitempty" bson:"fromCommonModel,omitempty"`
	ToCommonModel   string `json:"toCommonModel,omitempty" bson:"toCommonModel,omitempty"`
}

// ModelSchema is the response-shape record for a (platform, model) pair.
type ModelSchema struct {
	ID                     id.ID          `json:"_id" bson:"_id"`
	PlatformID             id.ID          `json:"platformId" bson:"platformId"`
	PlatformPageID         id.ID          `json:"platformPageId" bson:"platformPageId"`
	ConnectionPlatform     string         `json:"connectionPlatform" bson:"connectionPlatform"`
	ConnectionDefinitionID id.ID          `json:"connectionDefinitionId" bson:"connectionDefinitionId"`
	PlatformVersion        string         `json:"platformVersion" bson:"platformVersion"`
	ModelName              string         `json:"modelName" bson:"modelName"`
	Sample                 map[string]any `json:"sample,omitempty" bson:"sample,omitempty"`
	Schema                 map[string]any `json:"schema,omitempty" bson:"schema,omitempty"`
	Mapping                *SchemaMapping `json:"mapping,omitempty" bson:"mapping,omitempty"`

	shared.RecordMetadata `bson:",inline"`
}

// OAuthApiConfig pairs the init and refresh endpoint configs.
type OAuthApiConfig struct {
	Init    ApiModelConfig `json:"init" bson:"init"`
	Refresh ApiModelConfig `json:"refresh" bson:"refresh"`
}

// ComputeRequest holds the scripts driving one leg of the OAuth flow. The
// computation script, when present, yields header/query/body overrides; the
// response script maps the provider response into an OAuthResponse.
type ComputeRequest struct {
	Computation *Function `json:"computation,omitempty" bson:"computation,omitempty"`
	Response    Function  `json:"response" bson:"response"`
}

// OAuthCompute groups the init and refresh compute requests.
type OAuthCompute struct {
	Init    ComputeRequest `json:"init" bson:"init"`
	Refresh ComputeRequest `json:"refresh" bson:"refresh"`
}

// Frontend carries the redirect URIs and scope list shown during OAuth
// authorization.
type Frontend struct {
	PlatformRedirectURI string  `json:"platformRedirectUri" bson:"platformRedirectUri"`
	IosRedirectURI      string  `json:"iosRedirectUri" bson:"iosRedirectUri"`
	Scopes              string  `json:"scopes" bson:"scopes"`
	Separator           *string `json:"separator,omitempty" bson:"separator,omitempty"`
}

// OAuthDefinition is the catalogue entry describing a platform's OAuth flow.
type OAuthDefinition struct {
	ID                 id.ID          `json:"_id" bson:"_id"`
	ConnectionPlatform string         `json:"connectionPlatform" bson:"connectionPlatform"`
	Configuration      OAuthApiConfig `json:"configuration" bson:"configuration"`
	Compute            OAuthCompute   `json:"compute" bson:"compute"`
	Frontend           Frontend       `json:"frontend" bson:"frontend"`

	shared.RecordMetadata `bson:",inline"`
}

// OAuthResponse is the normalized result of an init or refresh call.
type OAuthResponse struct {
	AccessToken  string  `json:"accessToken"`
	ExpiresIn    int32   `json:"expiresIn"`
	RefreshToken *string `json:"refreshToken,omitempty"`
	TokenType    *string `json:"tokenType,omitempty"`
}

// CommonModel is a platform-neutral schema in the catalogue.
type CommonModel struct {
	ID        id.ID          `json:"_id" bson:"_id"`
	Name      string         `json:"name" bson:"name"`
	Fields    []Field        `json:"fields" bson:"fields"`
	Category  string         `json:"category,omitempty" bson:"category,omitempty"`
	Sample    map[string]any `json:"sample,omitempty" bson:"sample,omitempty"`
	Primary   bool           `json:"primary" bson:"primary"`
	Interface map[string]any `json:"interface,omitempty" bson:"interface,omitempty"`

	shared.RecordMetadata `bson:",inline"`
}

// Field is a single common model attribute.
type Field struct {
	Name        string `json:"name" bson:"name"`
	Datatype    string `json:"datatype" bson:"datatype"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	Required    bool   `json:"required" bson:"required"`
}

// CommonEnum is a shared enumeration referenced by common model fields.
type CommonEnum struct {
	ID      id.ID    `json:"_id" bson:"_id"`
	Name    string   `json:"name" bson:"name"`
	Options []string `json:"options" bson:"options"`

	shared.RecordMetadata `bson:",inline"`
}
