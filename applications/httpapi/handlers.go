package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/domain/unified"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/metrics"
)

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	modelID := params["id"]
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(params["model"]),
		Action: connection.ActionGetOne,
		ID:     &modelID,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(mux.Vars(r)["model"]),
		Action: connection.ActionGetMany,
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(mux.Vars(r)["model"]),
		Action: connection.ActionGetCount,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(mux.Vars(r)["model"]),
		Action: connection.ActionCreate,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	modelID := params["id"]
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(params["model"]),
		Action: connection.ActionUpdate,
		ID:     &modelID,
	})
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(mux.Vars(r)["model"]),
		Action: connection.ActionUpsert,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	modelID := params["id"]
	s.processUnified(w, r, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   toPascalCase(params["model"]),
		Action: connection.ActionDelete,
		ID:     &modelID,
	})
}

func (s *Server) processUnified(w http.ResponseWriter, r *http.Request, action pipeline.Action) {
	access := accessFrom(r.Context())
	conn, err := s.connectionForRequest(r, access)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	action.Passthrough = r.Header.Get(s.Headers.EnablePassthrough) == "true"

	req, err := s.buildRequest(r)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	response, err := s.Engine.DispatchUnified(r.Context(), conn, action, req)
	if s.Metrics != nil {
		s.Metrics.Record(metrics.Unified(access.Ownership.ClientID, conn.Platform, string(action.Action)))
	}
	s.emitDispatchEvent(r, connectionInfo{Platform: conn.Platform, PlatformVersion: conn.PlatformVersion}, action, response, err)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respond(w, response, action.Passthrough)
}

func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	conn, err := s.connectionForRequest(r, access)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/passthrough")
	req, err := s.buildRequest(r)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	response, err := s.Engine.DispatchPassthrough(r.Context(), conn, pipeline.Action{
		Type:   pipeline.ActionPassthrough,
		Method: r.Method,
		Path:   path,
	}, req)
	if s.Metrics != nil {
		s.Metrics.Record(metrics.Passthrough(access.Ownership.ClientID, conn.Platform))
	}
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respond(w, response, true)
}

// buildRequest lifts the HTTP request into the engine's shape. The platform
// headers are dropped so they never reach a provider.
func (s *Server) buildRequest(r *http.Request) (unified.RequestCrud, error) {
	var body json.RawMessage
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return unified.RequestCrud{}, errors.BadRequest("could not read request body")
		}
		if len(raw) > 0 {
			if !json.Valid(raw) {
				return unified.RequestCrud{}, errors.BadRequest("request body must be JSON")
			}
			body = raw
		}
	}

	headers := r.Header.Clone()
	headers.Del(s.Headers.Auth)
	headers.Del(s.Headers.Connection)
	headers.Del(s.Headers.EnablePassthrough)

	queryParams := map[string]string{}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			queryParams[name] = values[0]
		}
	}

	return unified.RequestCrud{
		QueryParams: queryParams,
		Headers:     headers,
		Body:        body,
	}, nil
}

// respond writes the engine's answer. Unified responses carry the meta
// envelope inside JSON object bodies; passthrough responses are verbatim.
func (s *Server) respond(w http.ResponseWriter, response *unified.Response, passthrough bool) {
	for name, values := range response.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	body := response.Body
	if !passthrough {
		if enveloped, ok := injectMeta(body, response.Meta.AsMap()); ok {
			body = enveloped
		}
	}

	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(response.StatusCode)
	_, _ = w.Write(body)
}

// injectMeta adds the meta envelope to a JSON object body.
func injectMeta(body []byte, meta map[string]any) ([]byte, bool) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false
	}
	if _, exists := decoded["meta"]; !exists {
		decoded["meta"] = meta
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return nil, false
	}
	return out, true
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	if serviceErr := errors.GetServiceError(err); serviceErr != nil {
		s.respondError(w, serviceErr)
		return
	}
	s.respondError(w, errors.IOError("dispatch failed", err))
}

// toPascalCase turns a URL segment like "customer-contacts" into
// "CustomerContacts".
func toPascalCase(segment string) string {
	parts := strings.FieldsFunc(segment, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	var out strings.Builder
	for _, part := range parts {
		out.WriteString(strings.ToUpper(part[:1]))
		out.WriteString(part[1:])
	}
	return out.String()
}
