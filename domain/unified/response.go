package unified

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/R3E-Network/integration_layer/domain/id"
)

// PassthroughHeaderPrefix is prepended to every provider response header so
// callers can distinguish provider headers from the platform's own.
const PassthroughHeaderPrefix = "x-integrationos-passthrough"

// Metadata is the meta envelope attached to every unified response.
type Metadata struct {
	Timestamp                  int64      `json:"timestamp"`
	PlatformRateLimitRemaining int        `json:"platformRateLimitRemaining"`
	RateLimitRemaining         int        `json:"rateLimitRemaining"`
	Host                       *string    `json:"host,omitempty"`
	Cache                      *CacheInfo `json:"cache,omitempty"`
	TransactionKey             id.ID      `json:"transactionKey"`
	Platform                   string     `json:"platform"`
	PlatformVersion            string     `json:"platformVersion"`
	Action                     string     `json:"action"`
	CommonModel                string     `json:"commonModel"`
	CommonModelVersion         string     `json:"commonModelVersion"`
	ConnectionKey              string     `json:"connectionKey"`
	StatusCode                 *int       `json:"statusCode,omitempty"`
	Path                       *string    `json:"path,omitempty"`
}

// CacheInfo reports unified-response cache usage.
type CacheInfo struct {
	Hit bool   `json:"hit"`
	TTL uint64 `json:"ttl"`
	Key string `json:"key"`
}

// AsMap renders the metadata for the meta envelope and for error payloads.
func (m Metadata) AsMap() map[string]any {
	out := map[string]any{
		"timestamp":                  m.Timestamp,
		"platformRateLimitRemaining": m.PlatformRateLimitRemaining,
		"rateLimitRemaining":         m.RateLimitRemaining,
		"transactionKey":             m.TransactionKey.String(),
		"platform":                   m.Platform,
		"platformVersion":            m.PlatformVersion,
		"action":                     m.Action,
		"commonModel":                m.CommonModel,
		"commonModelVersion":         m.CommonModelVersion,
		"connectionKey":              m.ConnectionKey,
	}
	if m.Host != nil {
		out["host"] = *m.Host
	}
	if m.Cache != nil {
		out["cache"] = map[string]any{"hit": m.Cache.Hit, "ttl": m.Cache.TTL, "key": m.Cache.Key}
	}
	if m.StatusCode != nil {
		out["statusCode"] = *m.StatusCode
	}
	if m.Path != nil {
		out["path"] = *m.Path
	}
	return out
}

// Response is the engine's answer: the provider body (mapped for unified
// calls), renamed headers, and the meta envelope.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Meta       Metadata
}

// renameResponseHeaders strips hop-by-hop headers and prefixes the rest so
// they survive next to the platform's own headers.
func renameResponseHeaders(headers http.Header) http.Header {
	out := http.Header{}
	for key, values := range headers {
		if isHopByHop(key) {
			continue
		}
		renamed := PassthroughHeaderPrefix + "-" + strings.ToLower(key)
		for _, v := range values {
			out.Add(renamed, v)
		}
	}
	return out
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}

// platformRateLimitRemaining parses the provider's remaining-quota header
// when present; -1 means the provider did not report one.
func platformRateLimitRemaining(headers http.Header) int {
	for _, name := range []string{"x-ratelimit-remaining", "ratelimit-remaining", "x-rate-limit-remaining"} {
		if v := headers.Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return -1
}
