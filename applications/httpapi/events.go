package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/domain/unified"
)

// EventWriter persists emitted platform events.
type EventWriter interface {
	CreateOne(ctx context.Context, evt event.Event) error
}

// emitDispatchEvent records a "{platform}::{version}::{model}::{action}::
// request-succeeded|failed" event after a unified call when the caller's
// access key decodes. Emission is best-effort and runs off the request path.
func (s *Server) emitDispatchEvent(r *http.Request, conn connectionInfo, action pipeline.Action, response *unified.Response, dispatchErr error) {
	if s.Events == nil || s.EventQueue == nil || s.Password == nil {
		return
	}

	encoded := r.Header.Get(s.Headers.Auth)
	key, err := accesskey.Decode(encoded, s.Password)
	if err != nil {
		return
	}
	encrypted, err := accesskey.ParseEncrypted(encoded)
	if err != nil {
		return
	}

	outcome := "request-succeeded"
	meta := map[string]any{}
	if dispatchErr != nil {
		outcome = "request-failed"
	} else if response != nil {
		meta = response.Meta.AsMap()
	}
	name := fmt.Sprintf("%s::%s::%s::%s::%s",
		conn.Platform, conn.PlatformVersion, action.Name, action.Action, outcome)

	body, err := json.Marshal(map[string]any{"meta": meta})
	if err != nil {
		return
	}

	evt := event.New(key, encrypted, name, nil, string(body))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.Events.CreateOne(ctx, evt); err != nil {
			s.Log.WithService().WithError(err).Warn("could not persist dispatch event")
			return
		}
		if err := s.EventQueue.Publish(ctx, contexts.NewEventWithContext(evt)); err != nil {
			s.Log.WithService().WithError(err).Warn("could not enqueue dispatch event")
		}
	}()
}

// connectionInfo is the slice of a connection the event name needs.
type connectionInfo struct {
	Platform        string
	PlatformVersion string
}
