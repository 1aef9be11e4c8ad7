// Package httpapi exposes the unified and passthrough dispatch surface:
// platform-neutral CRUD over /v1/unified/{model} and raw proxying over
// /v1/passthrough/{path}.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/unified"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/config"
	"github.com/R3E-Network/integration_layer/infrastructure/metrics"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/integration_layer/infrastructure/storage"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

// EventAccessReader resolves event access records by their encoded key.
type EventAccessReader interface {
	GetOne(ctx context.Context, filter bson.M) (*event.Access, error)
}

// ConnectionReader resolves connections by tenant and key.
type ConnectionReader interface {
	GetOne(ctx context.Context, filter bson.M) (*connection.Connection, error)
}

// Server wires the dispatch surface.
type Server struct {
	Headers     config.Headers
	EventAccess EventAccessReader
	Connections ConnectionReader
	Caches      *cache.Caches
	Engine      *unified.Engine
	Throughput  *ratelimit.Throughput
	Metrics     *metrics.Emitter
	Log         *logger.Logger

	// Optional: dispatch event emission after unified calls.
	Password   *[accesskey.PasswordLength]byte
	Events     EventWriter
	EventQueue queue.EventStream
}

// Router mounts the dispatch routes behind auth and rate limiting.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/unified/{model}/count", s.handleCount).Methods(http.MethodGet)
	api.HandleFunc("/unified/{model}", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/unified/{model}", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/unified/{model}", s.handleUpsert).Methods(http.MethodPut)
	api.HandleFunc("/unified/{model}/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/unified/{model}/{id}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/unified/{model}/{id}", s.handleDelete).Methods(http.MethodDelete)

	api.PathPrefix("/passthrough/").HandlerFunc(s.handlePassthrough)

	return router
}

// connectionForRequest resolves the caller's connection from the connection
// key header, scoped to the authenticated tenant.
func (s *Server) connectionForRequest(r *http.Request, access *event.Access) (connection.Connection, error) {
	key := r.Header.Get(s.Headers.Connection)
	if key == "" {
		return connection.Connection{}, errMissingConnectionHeader
	}

	cacheKey := cache.ConnectionKey{Ownership: access.Ownership.ID, Key: key}
	filter := storage.ScopedFilter(bson.M{"key": key}, access.Ownership.ID, access.Environment)
	return cache.GetOrInsertWithFilter(r.Context(), s.Caches.Connections, cacheKey, s.Connections, filter)
}
