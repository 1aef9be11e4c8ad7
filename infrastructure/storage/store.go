// Package storage provides the generic document store backing the catalogue
// and runtime records. Every read except Aggregate implicitly filters out
// soft-deleted records unless the caller overrides the deleted flag.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/R3E-Network/integration_layer/domain/shared"
)

// Collection names the persisted stores.
type Collection string

const (
	Connections                Collection = "connections"
	EventAccess                Collection = "event-access"
	Events                     Collection = "events"
	EventTransactions          Collection = "event-transactions"
	Pipelines                  Collection = "pipelines"
	PipelineContexts           Collection = "pipeline-contexts"
	ConnectionDefinitions      Collection = "connection-definitions"
	ConnectionModelDefinitions Collection = "connection-model-definitions"
	ConnectionModelSchemas     Collection = "connection-model-schema"
	ConnectionOAuthDefinitions Collection = "connection-oauth-definitions"
	CommonModels               Collection = "common-models"
	CommonEnums                Collection = "common-enums"
	Platforms                  Collection = "platforms"
	PlatformPages              Collection = "platform-pages"
	Secrets                    Collection = "secrets"
	SystemStats                Collection = "system-stats"
)

// Store is a typed view over one collection. Concurrency is last-writer-wins
// on full-record updates; UpdateOne carries partial $set semantics.
type Store[T any] struct {
	collection *mongo.Collection
}

// NewStore binds a typed store to its collection.
func NewStore[T any](db *mongo.Database, collection Collection) *Store[T] {
	return &Store[T]{collection: db.Collection(string(collection))}
}

// shapeFilter adds the implicit soft-delete guard. A caller that sets the
// deleted key explicitly keeps its own value.
func shapeFilter(filter bson.M) bson.M {
	shaped := bson.M{"deleted": false}
	for k, v := range filter {
		shaped[k] = v
	}
	return shaped
}

// ScopedFilter narrows a filter to one tenant and environment; used by every
// runtime read that serves caller-supplied keys.
func ScopedFilter(filter bson.M, ownershipID string, environment shared.Environment) bson.M {
	scoped := bson.M{
		"ownership.id": ownershipID,
		"environment":  environment,
	}
	for k, v := range filter {
		scoped[k] = v
	}
	return scoped
}

// CreateOne inserts a record.
func (s *Store[T]) CreateOne(ctx context.Context, record T) error {
	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("insert into %s: %w", s.collection.Name(), err)
	}
	return nil
}

// GetOne returns the first match or nil when nothing matches.
func (s *Store[T]) GetOne(ctx context.Context, filter bson.M) (*T, error) {
	var out T
	err := s.collection.FindOne(ctx, shapeFilter(filter)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", s.collection.Name(), err)
	}
	return &out, nil
}

// GetOneByID looks a record up by its string id.
func (s *Store[T]) GetOneByID(ctx context.Context, id string) (*T, error) {
	return s.GetOne(ctx, bson.M{"_id": id})
}

// GetMany returns matches sorted by the given document, newest first when no
// sort is supplied.
func (s *Store[T]) GetMany(ctx context.Context, filter bson.M, sort bson.D, limit, skip int64) ([]T, error) {
	opts := options.Find()
	if sort == nil {
		sort = bson.D{{Key: "createdAt", Value: -1}}
	}
	opts.SetSort(sort)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if skip > 0 {
		opts.SetSkip(skip)
	}

	cursor, err := s.collection.Find(ctx, shapeFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", s.collection.Name(), err)
	}
	defer cursor.Close(ctx)

	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode from %s: %w", s.collection.Name(), err)
	}
	return out, nil
}

// UpdateOne applies an update document to the record with the given id.
// Callers pass operator documents ($set, $inc, ...) directly.
func (s *Store[T]) UpdateOne(ctx context.Context, id string, update bson.M) error {
	if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("update in %s: %w", s.collection.Name(), err)
	}
	return nil
}

// UpsertOne applies an update document, creating the record when absent.
func (s *Store[T]) UpsertOne(ctx context.Context, filter bson.M, update bson.M) error {
	opts := options.Update().SetUpsert(true)
	if _, err := s.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("upsert in %s: %w", s.collection.Name(), err)
	}
	return nil
}

// Count counts matches under the implicit soft-delete guard.
func (s *Store[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, shapeFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", s.collection.Name(), err)
	}
	return n, nil
}

// Aggregate runs a raw aggregation pipeline.
func (s *Store[T]) Aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]bson.M, error) {
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate in %s: %w", s.collection.Name(), err)
	}
	defer cursor.Close(ctx)

	var out []bson.M
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode aggregate from %s: %w", s.collection.Name(), err)
	}
	return out, nil
}

// SoftDelete marks a record deleted without removing the document.
func (s *Store[T]) SoftDelete(ctx context.Context, id string, modifier string) error {
	return s.UpdateOne(ctx, id, bson.M{"$set": bson.M{
		"deleted":        true,
		"lastModifiedBy": modifier,
	}})
}
