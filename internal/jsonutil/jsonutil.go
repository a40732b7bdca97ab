// Package jsonutil holds small helpers for picking typed values out of the
// map[string]any trees produced by decoding loosely-structured upstream and
// client JSON, shared by the packages that walk Anthropic/OpenAI message
// bodies.
package jsonutil

import "encoding/json"

// Str safely extracts a string from a map.
func Str(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Float safely extracts a float64 from a map.
func Float(m map[string]any, key string) (float64, bool) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// Bool safely extracts a bool from a map.
func Bool(m map[string]any, key string) (bool, bool) {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

// Slice safely extracts a []any from a map.
func Slice(m map[string]any, key string) ([]any, bool) {
	if v, ok := m[key]; ok {
		if s, ok := v.([]any); ok {
			return s, true
		}
	}
	return nil, false
}

// Map safely extracts a map[string]any from a map.
func Map(m map[string]any, key string) (map[string]any, bool) {
	if v, ok := m[key]; ok {
		if m2, ok := v.(map[string]any); ok {
			return m2, true
		}
	}
	return nil, false
}

// ToMap converts any value to a map[string]any, or an empty map if v is not one.
func ToMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// ToJSONString marshals v to a JSON string, returning "{}" on error.
func ToJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
