package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

const secretHeaderSuffix = "-secret"

// EventWriter is the persistence slice the gateway needs.
type EventWriter interface {
	CreateOne(ctx context.Context, evt event.Event) error
}

// Gateway decodes access keys, persists events and enqueues them. The
// response is sent as soon as persistence succeeds; enqueue failures are
// logged, never surfaced.
type Gateway struct {
	Password     *[accesskey.PasswordLength]byte
	SecretHeader string
	Events       EventWriter
	Queue        queue.EventStream
	Log          *logger.Logger
	EnqueueWait  time.Duration
}

// Router mounts the gateway's routes.
func (g *Gateway) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/emit", g.HandleEmit).Methods(http.MethodPost)
	router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	return router
}

// secretFromHeaders returns the encoded access key: the configured header
// first, then any "x-*-secret" header.
func (g *Gateway) secretFromHeaders(headers http.Header) string {
	if g.SecretHeader != "" {
		if v := headers.Get(g.SecretHeader); v != "" {
			return v
		}
	}
	for name, values := range headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-") && strings.HasSuffix(lower, secretHeaderSuffix) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// HandleEmit ingests one event.
func (g *Gateway) HandleEmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.respondError(w, errors.BadRequest("could not read request body"))
		return
	}

	encoded := g.secretFromHeaders(r.Header)
	if encoded == "" {
		g.respondError(w, errors.Unauthorized("missing access key header"))
		return
	}

	key, err := accesskey.Decode(encoded, g.Password)
	if err != nil {
		g.respondError(w, errors.Unauthorized("invalid access key"))
		return
	}
	encrypted, err := accesskey.ParseEncrypted(encoded)
	if err != nil {
		g.respondError(w, errors.Unauthorized("invalid access key"))
		return
	}

	headers := flattenHeaders(r.Header)
	query := flattenQuery(r)

	eventName, err := GetValueFromPath(key.Data.EventPath, headers, body, query)
	if err != nil {
		g.respondError(w, errors.BadRequest("could not extract event name: "+err.Error()))
		return
	}

	evt := event.New(key, encrypted, eventName, headers, string(body))

	if err := g.Events.CreateOne(r.Context(), evt); err != nil {
		g.Log.WithContext(r.Context()).WithError(err).Error("could not persist event")
		g.respondError(w, errors.ConnectionError("could not persist event", err))
		return
	}

	// Persistence is the commit point; enqueueing happens in the
	// background and failure is logged only.
	go g.enqueue(evt)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(evt.ToPublic()); err != nil {
		g.Log.WithContext(r.Context()).WithError(err).Error("could not encode response")
	}
}

func (g *Gateway) enqueue(evt event.Event) {
	wait := g.EnqueueWait
	if wait == 0 {
		wait = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	if err := g.Queue.Publish(ctx, contexts.NewEventWithContext(evt)); err != nil {
		g.Log.WithService().WithError(err).WithField("event", evt.ID.String()).
			Error("could not enqueue event")
	}
}

func (g *Gateway) respondError(w http.ResponseWriter, serviceErr *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": serviceErr})
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) > 0 {
			out[strings.ToLower(name)] = values[0]
		}
	}
	return out
}

func flattenQuery(r *http.Request) map[string]string {
	query := r.URL.Query()
	out := make(map[string]string, len(query))
	for name, values := range query {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
