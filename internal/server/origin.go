package server

import "strings"

// OriginAllowed reports whether origin matches an entry of allowed.
// Matching ignores case and a trailing slash; "*" matches anything.
func OriginAllowed(allowed []string, origin string) bool {
	origin = strings.TrimRight(origin, "/")
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	return false
}
