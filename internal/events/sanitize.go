package events

import "strings"

// secretMarkers are matched case-insensitively as substrings of field names.
var secretMarkers = []string{"password", "token", "secret", "key"}

// IsSecretField reports whether a field name looks like it carries a secret.
func IsSecretField(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of payload without secret-like fields. Nested
// objects and arrays of objects are filtered the same way. The input is never
// modified. A nil payload yields nil.
func Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if IsSecretField(k) {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Sanitize(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = sanitizeValue(item)
		}
		return result
	case []map[string]any:
		result := make([]map[string]any, len(val))
		for i, item := range val {
			result[i] = Sanitize(item)
		}
		return result
	default:
		return v
	}
}
