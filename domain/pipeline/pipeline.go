// Package pipeline defines source-to-destination event flows: which events a
// pipeline listens for, how extractor results are reduced, and where the
// final payload is sent.
package pipeline

import (
	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// Source selects the events a pipeline consumes.
type Source struct {
	Type   string   `json:"type" bson:"type"`
	Group  string   `json:"group" bson:"group"`
	Events []string `json:"events" bson:"events"`
}

// Matches reports whether the source selects the given event coordinates.
// An empty events list matches every event name in the group.
func (s Source) Matches(eventType, group, name string) bool {
	if s.Type != eventType || s.Group != group {
		return false
	}
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == name {
			return true
		}
	}
	return false
}

// Destination names the connection and action receiving the pipeline output.
type Destination struct {
	Platform      string `json:"platform" bson:"platform"`
	ConnectionKey string `json:"connectionKey" bson:"connectionKey"`
	Action        Action `json:"action" bson:"action"`
}

// ActionType discriminates passthrough from unified destinations.
type ActionType string

const (
	ActionPassthrough ActionType = "passthrough"
	ActionUnified     ActionType = "unified"
)

// Action is either a raw proxy to a provider path or a unified common-model
// call. Only the fields for the selected Type are meaningful.
type Action struct {
	Type ActionType `json:"type" bson:"type"`

	// Passthrough.
	Method string `json:"method,omitempty" bson:"method,omitempty"`
	Path   string `json:"path,omitempty" bson:"path,omitempty"`

	// Unified.
	Name        string                `json:"name,omitempty" bson:"name,omitempty"`
	Action      connection.CrudAction `json:"action,omitempty" bson:"action,omitempty"`
	ID          *string               `json:"id,omitempty" bson:"id,omitempty"`
	Passthrough bool                  `json:"passthrough,omitempty" bson:"passthrough,omitempty"`
}

// ActionName returns the path for passthrough actions and the model name for
// unified ones.
func (a Action) ActionName() string {
	if a.Type == ActionPassthrough {
		return a.Path
	}
	return a.Name
}

// HttpExtractor fetches supplementary data before the transformer runs.
type HttpExtractor struct {
	Key     string            `json:"key" bson:"key"`
	URL     string            `json:"url" bson:"url"`
	Method  string            `json:"method" bson:"method"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Body    *string           `json:"body,omitempty" bson:"body,omitempty"`
}

// Middleware is an ordered pipeline step; today only JS transformers exist.
type Middleware struct {
	Key         string              `json:"key" bson:"key"`
	Transformer *connection.Compute `json:"transformer,omitempty" bson:"transformer,omitempty"`
}

// Signature authenticates pipeline configuration changes.
type Signature struct {
	Key    string `json:"key,omitempty" bson:"key,omitempty"`
	Secret string `json:"secret,omitempty" bson:"secret,omitempty"`
}

// Config tunes per-pipeline execution behavior.
type Config struct {
	Extractors    []HttpExtractor `json:"extractors,omitempty" bson:"extractors,omitempty"`
	MaxRetries    uint64          `json:"maxRetries,omitempty" bson:"maxRetries,omitempty"`
	TimeoutMillis int64           `json:"timeoutMillis,omitempty" bson:"timeoutMillis,omitempty"`
	DropUnmatched bool            `json:"dropUnmatched,omitempty" bson:"dropUnmatched,omitempty"`
}

// Pipeline binds a source to a destination through optional middleware.
type Pipeline struct {
	ID          id.ID              `json:"_id" bson:"_id"`
	Name        string             `json:"name" bson:"name"`
	Key         string             `json:"key" bson:"key"`
	Source      Source             `json:"source" bson:"source"`
	Destination Destination        `json:"destination" bson:"destination"`
	Middleware  []Middleware       `json:"middleware,omitempty" bson:"middleware,omitempty"`
	Signature   *Signature         `json:"signature,omitempty" bson:"signature,omitempty"`
	Config      Config             `json:"config" bson:"config"`
	Environment shared.Environment `json:"environment" bson:"environment"`
	Ownership   shared.Ownership   `json:"ownership" bson:"ownership"`

	shared.RecordMetadata `bson:",inline"`
}

// Transformer returns the first middleware transformer, if any.
func (p Pipeline) Transformer() *connection.Compute {
	for _, m := range p.Middleware {
		if m.Transformer != nil {
			return m.Transformer
		}
	}
	return nil
}
