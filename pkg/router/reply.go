package router

import (
	"fmt"
	"strconv"
)

// Reply is the raw result of a routed command. A failed command yields an
// empty Reply whose accessors return zero values.
type Reply struct {
	val any
}

// IsNil reports whether the command failed or the key was missing.
func (r Reply) IsNil() bool {
	return r.val == nil
}

// Value returns the underlying value as decoded by go-redis.
func (r Reply) Value() any {
	return r.val
}

// String returns the reply as a string, or "" when it has no textual form.
func (r Reply) String() string {
	switch v := r.val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the reply as an integer, or 0.
func (r Reply) Int64() int64 {
	switch v := r.val.(type) {
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}

		return n
	case bool:
		if v {
			return 1
		}
	}

	return 0
}

// Bool returns true for "OK" status replies, non-zero integers and true booleans.
func (r Reply) Bool() bool {
	switch v := r.val.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v == "OK"
	}

	return false
}

// Strings returns an array reply as strings, or nil.
func (r Reply) Strings() []string {
	items, ok := r.val.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, Reply{val: item}.String())
	}

	return out
}

// StringMap returns a map reply (HGETALL and friends) as strings, or nil.
// Flat key/value arrays are accepted as well.
func (r Reply) StringMap() map[string]string {
	switch v := r.val.(type) {
	case map[any]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[Reply{val: k}.String()] = Reply{val: val}.String()
		}

		return out
	case []any:
		out := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			out[Reply{val: v[i]}.String()] = Reply{val: v[i+1]}.String()
		}

		return out
	}

	return nil
}
