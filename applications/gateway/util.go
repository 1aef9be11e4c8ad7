// Package gateway accepts event HTTP traffic: it validates access keys,
// persists events and enqueues them for dispatch.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// GetValueFromPath resolves an access-key-supplied location of form
// "_.{headers|body|query}.<dotted-path>" against the request parts. A path
// without the "_." prefix is the literal value itself.
func GetValueFromPath(path string, headers map[string]string, body []byte, query map[string]string) (string, error) {
	if len(path) < 2 || path[0:2] != "_." {
		return path, nil
	}

	var parsedBody any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsedBody); err != nil {
			return "", fmt.Errorf("parse body for path %q: %w", path, err)
		}
	}

	doc, err := json.Marshal(map[string]any{
		"headers": lowercaseKeys(headers),
		"body":    parsedBody,
		"query":   query,
	})
	if err != nil {
		return "", fmt.Errorf("assemble request document: %w", err)
	}

	result := gjson.GetBytes(doc, path[2:])
	if !result.Exists() || result.Type == gjson.Null {
		return "", fmt.Errorf("no value found for path: %s", path)
	}
	if result.Type == gjson.String {
		return result.String(), nil
	}
	return result.Raw, nil
}

func lowercaseKeys(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}
