package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/metrics"
)

type contextKey string

const accessContextKey contextKey = "event-access"

var errMissingConnectionHeader = errors.BadRequest("missing connection key header")

// accessFrom returns the authenticated event access record.
func accessFrom(ctx context.Context) *event.Access {
	access, _ := ctx.Value(accessContextKey).(*event.Access)
	return access
}

// authMiddleware resolves the access key header into an EventAccess record.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoded := r.Header.Get(s.Headers.Auth)
		if encoded == "" {
			s.respondError(w, errors.Unauthorized("missing access key header"))
			return
		}

		access, err := cache.GetOrInsertWithFilter(r.Context(), s.Caches.EventAccess, encoded, s.EventAccess, bson.M{
			"accessKey": encoded,
		})
		if err != nil {
			s.respondError(w, errors.Unauthorized("invalid access key"))
			return
		}
		if !access.Active || access.Deleted {
			s.respondError(w, errors.Unauthorized("access key revoked"))
			return
		}

		ctx := context.WithValue(r.Context(), accessContextKey, &access)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware applies throughput admission before any provider call.
// Violations return 429 with the limit headers set.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := accessFrom(r.Context())
		if access == nil {
			s.respondError(w, errors.Unauthorized("missing event access"))
			return
		}
		if access.Throughput.Limit == 0 {
			next.ServeHTTP(w, r)
			return
		}

		admitted, err := s.Throughput.Admit(r.Context(), access.Throughput.Key, access.Throughput.Limit)
		if err != nil {
			s.Log.WithContext(r.Context()).WithError(err).Error("could not check throughput")
			// Admission must not take the platform down with the counter.
			next.ServeHTTP(w, r)
			return
		}
		if !admitted {
			prefix := s.Headers.RateLimitPrefix
			w.Header().Set(prefix+"-limit", strconv.FormatUint(access.Throughput.Limit, 10))
			w.Header().Set(prefix+"-remaining", "0")
			w.Header().Set(prefix+"-reset", "60")
			if s.Metrics != nil {
				s.Metrics.Record(metrics.RateLimited(access.Ownership.ClientID, access.Platform))
			}
			s.respondError(w, errors.RateLimited(access.Throughput.Limit, "minute"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondError(w http.ResponseWriter, serviceErr *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.HTTPStatus)

	payload := map[string]any{"error": serviceErr.Message}
	if serviceErr.Code == errors.ErrCodeUpstream {
		// Upstream errors propagate the provider body verbatim.
		var body any
		if json.Unmarshal([]byte(serviceErr.Body), &body) == nil {
			payload["error"] = body
		} else {
			payload["error"] = serviceErr.Body
		}
	}
	if serviceErr.Meta != nil {
		payload["meta"] = serviceErr.Meta
	}
	_ = json.NewEncoder(w).Encode(payload)
}
