package view

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is a single row fetched from the admin API, keyed by field name.
// Accessors never panic: absent or mistyped fields read as "", 0 or false.
type Record map[string]any

// Value returns the raw field value.
func (r Record) Value(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String renders the field as text.
func (r Record) String(field string) string {
	v, ok := r.Value(field)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	default:
		return ""
	}
}

// Number reports the field as a float when it holds a numeric value.
func (r Record) Number(field string) (float64, bool) {
	v, ok := r.Value(field)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

// Bool reports whether the field is truthy.
func (r Record) Bool(field string) bool {
	v, ok := r.Value(field)
	if !ok {
		return false
	}
	return truthy(v)
}

// ID returns the row key, reading "id" and then "_id".
func (r Record) ID() string {
	if id := r.String("id"); id != "" {
		return id
	}
	return r.String("_id")
}

// FullName joins firstName and lastName, falling back to name.
func (r Record) FullName() string {
	first := strings.TrimSpace(r.String("firstName"))
	last := strings.TrimSpace(r.String("lastName"))
	if first == "" && last == "" {
		return strings.TrimSpace(r.String("name"))
	}
	return strings.TrimSpace(first + " " + last)
}

func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "yes", "y", "on":
			return true
		default:
			return false
		}
	default:
		n, ok := toNumber(v)
		return ok && n != 0
	}
}
