// Package event defines the durable Event record plus the projections and
// hashes computed at ingest time.
package event

import (
	"time"

	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// State tracks an event through the pipeline.
type State string

const (
	StatePending   State = "Pending"
	StateProcessed State = "Processed"
	StateDropped   State = "Dropped"
	StateFailed    State = "Failed"
)

// Duplicates records the outcome of duplicate detection. A possible
// collision does not stop processing; it is carried for observers.
type Duplicates struct {
	PossibleCollision bool `json:"possibleCollision" bson:"possibleCollision"`
}

// Event is one ingested payload together with its routing and audit data.
type Event struct {
	ID                id.ID              `json:"_id" bson:"_id"`
	Key               id.ID              `json:"key" bson:"key"`
	Name              string             `json:"name" bson:"name"`
	Type              string             `json:"type" bson:"type"`
	Group             string             `json:"group" bson:"group"`
	AccessKey         string             `json:"accessKey" bson:"accessKey"`
	Topic             string             `json:"topic" bson:"topic"`
	Environment       shared.Environment `json:"environment" bson:"environment"`
	Body              string             `json:"body" bson:"body"`
	Headers           map[string]string  `json:"headers" bson:"headers"`
	ArrivedAt         int64              `json:"arrivedAt" bson:"arrivedAt"`
	ArrivedDate       time.Time          `json:"arrivedDate" bson:"arrivedDate"`
	State             State              `json:"state" bson:"state"`
	Ownership         shared.Ownership   `json:"ownership" bson:"ownership"`
	Hashes            [3]HashValue       `json:"hashes" bson:"hashes"`
	PayloadByteLength int                `json:"payloadByteLength" bson:"payloadByteLength"`
	Duplicates        *Duplicates        `json:"duplicates,omitempty" bson:"duplicates,omitempty"`

	shared.RecordMetadata `bson:",inline"`
}

// New assembles an Event from a validated access key and the raw request.
func New(key accesskey.AccessKey, encrypted accesskey.Encrypted, eventName string, headers map[string]string, body string) Event {
	now := time.Now().Round(time.Millisecond).UTC()
	return newWithTimestampAndIDs(key, encrypted, eventName, headers, body, now,
		id.New(id.PrefixEvent, now), id.New(id.PrefixEventKey, now))
}

func newWithTimestampAndIDs(key accesskey.AccessKey, encrypted accesskey.Encrypted, eventName string, headers map[string]string, body string, at time.Time, eventID, eventKey id.ID) Event {
	topic := key.Topic(eventName)
	return Event{
		ID:                eventID,
		Key:               eventKey,
		Name:              eventName,
		Type:              key.Data.EventType,
		Group:             key.Data.Group,
		AccessKey:         encrypted.String(),
		Topic:             topic,
		Environment:       key.Prefix.Environment,
		Body:              body,
		Headers:           headers,
		ArrivedAt:         at.UnixMilli(),
		ArrivedDate:       at,
		State:             StatePending,
		Ownership:         shared.NewOwnership(key.Data.ID),
		Hashes:            ComputeHashes(topic, key.Prefix.Environment, body, key.Data.EventType, key.Data.Group),
		PayloadByteLength: len(body),
		RecordMetadata:    shared.NewRecordMetadata(),
	}
}

// WithDuplicates returns a copy of the event carrying duplicate info.
func (e Event) WithDuplicates(d Duplicates) Event {
	e.Duplicates = &d
	return e
}

// Public is the event projection returned to callers: everything except the
// encoded access key.
type Public struct {
	ID                id.ID              `json:"_id"`
	Key               id.ID              `json:"key"`
	Name              string             `json:"name"`
	Type              string             `json:"type"`
	Group             string             `json:"group"`
	Topic             string             `json:"topic"`
	Environment       shared.Environment `json:"environment"`
	Body              string             `json:"body"`
	Headers           map[string]string  `json:"headers"`
	ArrivedAt         int64              `json:"arrivedAt"`
	ArrivedDate       time.Time          `json:"arrivedDate"`
	State             State              `json:"state"`
	Ownership         shared.Ownership   `json:"ownership"`
	Hashes            [3]HashValue       `json:"hashes"`
	PayloadByteLength int                `json:"payloadByteLength"`
	Duplicates        *Duplicates        `json:"duplicates,omitempty"`

	shared.RecordMetadata
}

// ToPublic strips the access key for external consumption.
func (e Event) ToPublic() Public {
	return Public{
		ID:                e.ID,
		Key:               e.Key,
		Name:              e.Name,
		Type:              e.Type,
		Group:             e.Group,
		Topic:             e.Topic,
		Environment:       e.Environment,
		Body:              e.Body,
		Headers:           e.Headers,
		ArrivedAt:         e.ArrivedAt,
		ArrivedDate:       e.ArrivedDate,
		State:             e.State,
		Ownership:         e.Ownership,
		Hashes:            e.Hashes,
		PayloadByteLength: e.PayloadByteLength,
		Duplicates:        e.Duplicates,
		RecordMetadata:    e.RecordMetadata,
	}
}
