package unified

import (
	"encoding/json"
	"net/http"
)

// RequestCrud is the caller's side of a dispatch: query parameters, headers,
// optional JSON body and path parameters.
type RequestCrud struct {
	QueryParams map[string]string `json:"queryParams"`
	Headers     http.Header       `json:"headers"`
	Body        json.RawMessage   `json:"body,omitempty"`
	PathParams  map[string]string `json:"pathParams,omitempty"`
}

// Clone deep-copies the request so pagination iterations stay independent.
func (r RequestCrud) Clone() RequestCrud {
	out := RequestCrud{
		QueryParams: make(map[string]string, len(r.QueryParams)),
		Headers:     r.Headers.Clone(),
		PathParams:  nil,
	}
	for k, v := range r.QueryParams {
		out.QueryParams[k] = v
	}
	if r.PathParams != nil {
		out.PathParams = make(map[string]string, len(r.PathParams))
		for k, v := range r.PathParams {
			out.PathParams[k] = v
		}
	}
	if r.Body != nil {
		out.Body = append(json.RawMessage(nil), r.Body...)
	}
	return out
}

// WithQueryParam returns a copy carrying an extra query parameter.
func (r RequestCrud) WithQueryParam(key, value string) RequestCrud {
	out := r.Clone()
	out.QueryParams[key] = value
	return out
}

// mergeQueryParams layers the caller's parameters over the definition's; the
// caller wins on conflict.
func mergeQueryParams(definition map[string]string, caller map[string]string) map[string]string {
	merged := make(map[string]string, len(definition)+len(caller))
	for k, v := range definition {
		merged[k] = v
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}

// hop-by-hop headers are stripped from provider responses before the rename
// pass.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// sanitizeCallerHeaders drops the headers the engine owns: the caller's
// Authorization is always discarded, auth headers are applied last by the
// caller client.
func sanitizeCallerHeaders(headers http.Header) http.Header {
	out := headers.Clone()
	if out == nil {
		out = http.Header{}
	}
	out.Del("Authorization")
	out.Del("Content-Length")
	out.Del("Accept-Encoding")
	out.Del("Host")
	return out
}
