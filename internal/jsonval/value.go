// Package jsonval provides small pure helpers for navigating dynamic JSON
// shapes (map[string]interface{} trees produced by encoding/json) without
// repeating type-assertion boilerplate at every call site.
package jsonval

// AsObject asserts v is a JSON object and returns it, or ok=false.
func AsObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// AsArray asserts v is a JSON array and returns it, or ok=false.
func AsArray(v interface{}) ([]interface{}, bool) {
	a, ok := v.([]interface{})
	return a, ok
}

// TryGetString looks up key in obj and returns it as a string if present
// and of string type.
func TryGetString(obj map[string]interface{}, key string) (string, bool) {
	if obj == nil {
		return "", false
	}
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetString is TryGetString with a fallback default.
func GetString(obj map[string]interface{}, key, def string) string {
	if s, ok := TryGetString(obj, key); ok {
		return s
	}
	return def
}

// TryGetBool looks up key in obj and returns it as a bool if present.
func TryGetBool(obj map[string]interface{}, key string) (bool, bool) {
	if obj == nil {
		return false, false
	}
	v, ok := obj[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// TryGetFloat looks up key in obj and returns it as a float64 if present.
// JSON numbers decode to float64 via encoding/json's default map decoding.
func TryGetFloat(obj map[string]interface{}, key string) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	v, ok := obj[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// TryGetInt looks up key in obj and returns it truncated to int if present.
func TryGetInt(obj map[string]interface{}, key string) (int, bool) {
	f, ok := TryGetFloat(obj, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// TryGetObject looks up key in obj and returns it as a nested object.
func TryGetObject(obj map[string]interface{}, key string) (map[string]interface{}, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := obj[key]
	if !ok {
		return nil, false
	}
	return AsObject(v)
}

// TryGetArray looks up key in obj and returns it as a nested array.
func TryGetArray(obj map[string]interface{}, key string) ([]interface{}, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := obj[key]
	if !ok {
		return nil, false
	}
	return AsArray(v)
}

// IsTruthy reports whether v is a non-nil, non-zero, non-empty JSON value.
func IsTruthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// FirstNonEmptyString walks keys in order and returns the first string
// value found on obj that is non-empty.
func FirstNonEmptyString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := TryGetString(obj, k); ok && s != "" {
			return s
		}
	}
	return ""
}

// WalkStrings recursively collects every string value reachable from v,
// depth-first, in encounter order. Used for deepest-last-non-empty style
// field extraction over nested, irregularly-shaped payloads.
func WalkStrings(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case string:
		out = append(out, t)
	case []interface{}:
		for _, e := range t {
			out = append(out, WalkStrings(e)...)
		}
	case map[string]interface{}:
		for _, e := range t {
			out = append(out, WalkStrings(e)...)
		}
	}
	return out
}
