package connection

import (
	"fmt"

	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// CrudAction enumerates the unified verbs.
type CrudAction string

const (
	ActionCreate   CrudAction = "create"
	ActionUpdate   CrudAction = "update"
	ActionUpsert   CrudAction = "upsert"
	ActionGetOne   CrudAction = "getOne"
	ActionGetMany  CrudAction = "getMany"
	ActionGetCount CrudAction = "getCount"
	ActionDelete   CrudAction = "delete"
)

// CrudMapping names the scripts that translate between the common model
// shape and the provider-native shape.
type CrudMapping struct {
	CommonModelName string  `json:"commonModelName" bson:"commonModelName"`
	FromCommonModel *string `json:"fromCommonModel,omitempty" bson:"fromCommonModel,omitempty"`
	ToCommonModel   *string `json:"toCommonModel,omitempty" bson:"toCommonModel,omitempty"`
}

// ModelDefinition describes a single provider endpoint bound to a common
// model action. One connection platform has one definition per
// (model, action) pair.
type ModelDefinition struct {
	ID                     id.ID          `json:"_id" bson:"_id"`
	ConnectionPlatform     string         `json:"connectionPlatform" bson:"connectionPlatform"`
	ConnectionDefinitionID id.ID          `json:"connectionDefinitionId" bson:"connectionDefinitionId"`
	PlatformVersion        string         `json:"platformVersion" bson:"platformVersion"`
	Title                  string         `json:"title" bson:"title"`
	Name                   string         `json:"name" bson:"name"`
	ModelName              string         `json:"modelName" bson:"modelName"`
	Key                    string         `json:"key" bson:"key"`
	Action                 string         `json:"action" bson:"action"`
	ActionName             CrudAction     `json:"actionName" bson:"actionName"`
	Config                 ApiModelConfig `json:"platformInfo" bson:"platformInfo"`
	Mapping                *CrudMapping   `json:"mapping,omitempty" bson:"mapping,omitempty"`
	Supported              bool           `json:"supported" bson:"supported"`

	shared.RecordMetadata `bson:",inline"`
}

// DefinitionKey renders the canonical lookup key for a definition:
// "api::{platform}::{version}::{model}::{action}".
func DefinitionKey(platform, platformVersion, modelName string, action CrudAction) string {
	return fmt.Sprintf("api::%s::%s::%s::%s", platform, platformVersion, modelName, action)
}
