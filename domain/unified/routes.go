package unified

import "strings"

func pathSegments(path string) []string {
	trimmed := strings.SplitN(path, "?", 2)[0]
	var segments []string
	for _, s := range strings.Split(trimmed, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func isWildcard(segment string) bool {
	return strings.HasPrefix(segment, ":") ||
		(strings.HasPrefix(segment, "{{") && strings.HasSuffix(segment, "}}"))
}

// MatchRoute finds the declared route matching a request path. Both ":param"
// and "{{param}}" segments are wildcards; mismatched segment counts never
// match.
func MatchRoute(fullPath string, routes []string) (string, bool) {
	segments := pathSegments(fullPath)

	for _, route := range routes {
		routeSegments := pathSegments(route)
		if len(routeSegments) != len(segments) {
			continue
		}

		matched := true
		for i, routeSeg := range routeSegments {
			if routeSeg != segments[i] && !isWildcard(routeSeg) {
				matched = false
				break
			}
		}
		if matched {
			return route, true
		}
	}
	return "", false
}

// TemplateRoute substitutes the request path's concrete values into the
// declared route's wildcard segments.
func TemplateRoute(definitionPath, requestPath string) string {
	definitionSegments := pathSegments(definitionPath)
	requestSegments := pathSegments(requestPath)

	var out strings.Builder
	for i, segment := range definitionSegments {
		if isWildcard(segment) && i < len(requestSegments) {
			out.WriteString(requestSegments[i])
		} else {
			out.WriteString(segment)
		}
		if i != len(definitionSegments)-1 {
			out.WriteByte('/')
		}
	}
	return out.String()
}
