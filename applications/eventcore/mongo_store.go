package eventcore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/domain/unified"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/storage"
)

// MongoContextStore persists contexts in the pipeline-contexts collection.
// Each write is a new document, so the trail of transitions is queryable;
// Get returns the latest write for a key.
type MongoContextStore struct {
	store *storage.Store[ContextRecord]
}

type ContextRecord struct {
	EventKey      string           `bson:"eventKey"`
	Kind          contexts.Kind    `bson:"kind"`
	Discriminator string           `bson:"discriminator"`
	Context       contexts.Context `bson:"context"`
	Timestamp     int64            `bson:"timestamp"`
}

// NewMongoContextStore binds the store to its collection.
func NewMongoContextStore(store *storage.Store[ContextRecord]) *MongoContextStore {
	return &MongoContextStore{store: store}
}

func (s *MongoContextStore) Set(ctx context.Context, c contexts.Context) error {
	record := ContextRecord{
		EventKey:      c.EventKey().String(),
		Kind:          c.Kind,
		Discriminator: c.Discriminator(),
		Context:       c,
		Timestamp:     timestampOf(c),
	}
	return s.store.CreateOne(ctx, record)
}

func (s *MongoContextStore) Get(ctx context.Context, eventKey id.ID, kind contexts.Kind, discriminator string) (*contexts.Context, error) {
	records, err := s.store.GetMany(ctx, bson.M{
		"eventKey":      eventKey.String(),
		"kind":          kind,
		"discriminator": discriminator,
	}, bson.D{{Key: "timestamp", Value: -1}}, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0].Context, nil
}

func timestampOf(c contexts.Context) int64 {
	switch c.Kind {
	case contexts.KindRoot:
		return c.Root.Timestamp.UnixNano()
	case contexts.KindPipeline:
		return c.Pipeline.Timestamp.UnixNano()
	case contexts.KindExtractor:
		return c.Extractor.Timestamp.UnixNano()
	}
	return 0
}

// MongoEventStore reads and updates durable events.
type MongoEventStore struct {
	events *storage.Store[event.Event]
}

// NewMongoEventStore binds the store to the events collection.
func NewMongoEventStore(events *storage.Store[event.Event]) *MongoEventStore {
	return &MongoEventStore{events: events}
}

func (s *MongoEventStore) Get(ctx context.Context, eventKey id.ID) (event.Event, error) {
	record, err := s.events.GetOneByID(ctx, eventKey.String())
	if err != nil {
		return event.Event{}, err
	}
	if record == nil {
		return event.Event{}, errors.NotFound("event", eventKey.String())
	}
	return *record, nil
}

func (s *MongoEventStore) Set(ctx context.Context, evt event.Event) error {
	update := bson.M{"$set": bson.M{
		"state":      evt.State,
		"duplicates": evt.Duplicates,
	}}
	return s.events.UpdateOne(ctx, evt.ID.String(), update)
}

// GetDuplicates flags a possible collision when another event shares this
// event's model-body hash.
func (s *MongoEventStore) GetDuplicates(ctx context.Context, evt event.Event) (event.Duplicates, error) {
	var modelBodyHash string
	for _, h := range evt.Hashes {
		if h.Type == event.HashTypeModelBody {
			modelBodyHash = h.Hash
		}
	}
	if modelBodyHash == "" {
		return event.Duplicates{}, nil
	}

	count, err := s.events.Count(ctx, bson.M{
		"_id":         bson.M{"$ne": evt.ID.String()},
		"hashes.hash": modelBodyHash,
	})
	if err != nil {
		return event.Duplicates{}, err
	}
	return event.Duplicates{PossibleCollision: count > 0}, nil
}

// MongoControlDataStore resolves control-plane records with read-through
// caches and executes destination calls through the unified engine.
type MongoControlDataStore struct {
	Connections  *storage.Store[connection.Connection]
	EventAccess  *storage.Store[event.Access]
	Pipelines    *storage.Store[pipeline.Pipeline]
	Transactions *storage.Store[contexts.Transaction]
	Caches       *cache.Caches
	Engine       *unified.Engine
	Client       unified.HTTPDoer
}

func (s *MongoControlDataStore) FetchConnection(ctx context.Context, evt event.Event) (connection.Connection, error) {
	key := cache.ConnectionKey{Ownership: evt.Ownership.ID, Key: evt.Name}
	// Events address their connection through the access key's tenant and
	// environment; the event type and group are not part of the lookup.
	filter := bson.M{"ownership.id": evt.Ownership.ID, "environment": evt.Environment}
	conn, err := cache.GetOrInsertWithFilter(ctx, s.Caches.Connections, key, s.Connections, filter)
	if err != nil {
		return connection.Connection{}, err
	}
	return conn, nil
}

// VerifyEvent rejects events whose access key no longer parses or whose
// event-access record was revoked.
func (s *MongoControlDataStore) VerifyEvent(ctx context.Context, evt event.Event) (bool, error) {
	if _, err := accesskey.ParseEncrypted(evt.AccessKey); err != nil {
		return false, nil
	}

	access, err := s.EventAccess.GetOne(ctx, bson.M{"accessKey": evt.AccessKey})
	if err != nil {
		return false, err
	}
	if access == nil {
		// Keys are self-authenticated; a missing materialisation does not
		// reject the event.
		return true, nil
	}
	return access.Active && !access.Deleted, nil
}

func (s *MongoControlDataStore) GetPipelines(ctx context.Context, evt event.Event) ([]pipeline.Pipeline, error) {
	records, err := s.Pipelines.GetMany(ctx, bson.M{
		"source.type":  evt.Type,
		"source.group": evt.Group,
	}, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	matched := make([]pipeline.Pipeline, 0, len(records))
	for _, p := range records {
		if p.Source.Matches(evt.Type, evt.Group, evt.Name) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (s *MongoControlDataStore) GetPipeline(ctx context.Context, pipelineKey string) (pipeline.Pipeline, error) {
	record, err := s.Pipelines.GetOneByID(ctx, pipelineKey)
	if err != nil {
		return pipeline.Pipeline{}, err
	}
	if record == nil {
		return pipeline.Pipeline{}, errors.NotFound("pipeline", pipelineKey)
	}
	return *record, nil
}

// ExecuteExtractor performs the extractor's HTTP call and returns the raw
// JSON response.
func (s *MongoControlDataStore) ExecuteExtractor(ctx context.Context, extractor pipeline.HttpExtractor) (json.RawMessage, error) {
	var body io.Reader
	if extractor.Body != nil {
		body = strings.NewReader(*extractor.Body)
	}
	method := extractor.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), extractor.URL, body)
	if err != nil {
		return nil, errors.InvalidArgument("invalid extractor url: " + extractor.URL)
	}
	for k, v := range extractor.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.IOError("extractor request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.IOError("read extractor response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Upstream(resp.StatusCode, string(payload))
	}
	if !json.Valid(payload) {
		encoded, err := json.Marshal(string(payload))
		if err != nil {
			return nil, errors.SerializeError("encode extractor response", err)
		}
		payload = encoded
	}
	return payload, nil
}

// SendToDestination routes the pipeline output through the unified engine.
func (s *MongoControlDataStore) SendToDestination(ctx context.Context, evt event.Event, p pipeline.Pipeline, payload *json.RawMessage) (string, error) {
	key := cache.ConnectionKey{Ownership: evt.Ownership.ID, Key: p.Destination.ConnectionKey}
	conn, err := cache.GetOrInsertWithFilter(ctx, s.Caches.Connections, key, s.Connections, bson.M{
		"key":          p.Destination.ConnectionKey,
		"ownership.id": evt.Ownership.ID,
	})
	if err != nil {
		return "", err
	}

	req := unified.RequestCrud{
		QueryParams: map[string]string{},
		Headers:     http.Header{},
	}
	if payload != nil {
		req.Body = *payload
	} else if evt.Body != "" && json.Valid([]byte(evt.Body)) {
		req.Body = json.RawMessage(evt.Body)
	}

	var response *unified.Response
	if p.Destination.Action.Type == pipeline.ActionPassthrough {
		response, err = s.Engine.DispatchPassthrough(ctx, conn, p.Destination.Action, req)
	} else {
		response, err = s.Engine.DispatchUnified(ctx, conn, p.Destination.Action, req)
	}
	if err != nil {
		return "", err
	}
	return string(response.Body), nil
}

func (s *MongoControlDataStore) RecordTransaction(ctx context.Context, tx contexts.Transaction) error {
	return s.Transactions.CreateOne(ctx, tx)
}
