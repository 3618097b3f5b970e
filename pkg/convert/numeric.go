// Package convert provides fallible type conversions for GraphRouter.
//
// Property values are dynamically typed (anything JSON can carry), so sorting,
// aggregation, and ontology coercion all funnel through the helpers here
// instead of scattering type switches across the codebase. Every function
// returns a success boolean; callers decide whether a failed conversion means
// "skip the item" (aggregation) or "keep the value as-is" (ontology mapping).
package convert

import (
	"strconv"
)

// ToFloat64 converts numeric types, booleans, and numeric strings to float64.
// Returns (value, true) on success, (0, false) on failure.
//
// Supported inputs:
//   - float64, float32
//   - int, int8..int64, uint, uint8..uint64
//   - bool (true=1, false=0)
//   - string parsed as decimal or scientific notation ("3.14", "1.5e-3")
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToInt64 converts numeric types and numeric strings to int64.
// Floats convert only when they carry an integral value.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float64:
		if val == float64(int64(val)) {
			return int64(val), true
		}
		return 0, false
	case float32:
		return ToInt64(float64(val))
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// IsInteger reports whether v holds an integer value. JSON decoding turns
// every number into float64, so a float64 with an integral value counts.
func IsInteger(v any) bool {
	switch val := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return val == float64(int64(val))
	case float32:
		return float64(val) == float64(int64(val))
	default:
		return false
	}
}

// IsFloat reports whether v holds a floating-point value (ints excluded;
// ontology coercion promotes them before validation).
func IsFloat(v any) bool {
	switch v.(type) {
	case float64, float32:
		return true
	default:
		return false
	}
}

// ToFloat64Slice converts a value to []float64. Accepts []float64 (returned
// as a copy), []float32, []any of numerics, and []int. Returns nil when the
// value is not a numeric slice or any element fails to convert.
func ToFloat64Slice(v any) []float64 {
	switch val := v.(type) {
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	case []float32:
		out := make([]float64, len(val))
		for i, f := range val {
			out[i] = float64(f)
		}
		return out
	case []int:
		out := make([]float64, len(val))
		for i, n := range val {
			out[i] = float64(n)
		}
		return out
	case []any:
		out := make([]float64, len(val))
		for i, item := range val {
			f, ok := ToFloat64(item)
			if !ok {
				return nil
			}
			out[i] = f
		}
		return out
	default:
		return nil
	}
}
