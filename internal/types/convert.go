package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToInt64 converts an interface{} to int64.
// Supports int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
// float32, float64 and json.Number.
func ToInt64(v interface{}) int64 {
	i, _ := AsInt64(v)
	return i
}

// AsInt64 is ToInt64 that also reports whether v was numeric.
func AsInt64(v interface{}) (int64, bool) {
	switch i := v.(type) {
	case int64:
		return i, true
	case int:
		return int64(i), true
	case int32:
		return int64(i), true
	case int16:
		return int64(i), true
	case int8:
		return int64(i), true
	case uint:
		return int64(i), true
	case uint64:
		return int64(i), true
	case uint32:
		return int64(i), true
	case uint16:
		return int64(i), true
	case uint8:
		return int64(i), true
	case float64:
		return int64(i), true
	case float32:
		return int64(i), true
	case json.Number:
		if n, err := i.Int64(); err == nil {
			return n, true
		}
		if f, err := i.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// ToFloat64 converts a numeric interface{} to float64, returning 0 for
// anything else.
func ToFloat64(v interface{}) float64 {
	f, _ := AsFloat64(v)
	return f
}

// AsFloat64 is ToFloat64 that also reports whether v was numeric.
func AsFloat64(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case json.Number:
		n, err := f.Float64()
		return n, err == nil
	default:
		if i, ok := AsInt64(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

// IsIntegral reports whether v holds an integer value. Decoded JSON numbers
// count as integral when written without a fraction or exponent.
func IsIntegral(v interface{}) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		s := n.String()
		if strings.ContainsAny(s, ".eE") {
			return false
		}
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	default:
		return false
	}
}

// IsNumeric reports whether v holds any number.
func IsNumeric(v interface{}) bool {
	_, ok := AsFloat64(v)
	return ok
}
