package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"residuals/internal/records"
)

// Coerce normalizes a driver value into the canonical Go type for t:
// float64, int64, string, or bool. nil passes through as NULL.
//
// Database drivers disagree on representations (SQLite returns booleans as
// int64, MySQL returns DOUBLE as []byte when scanning into any, ...), so every
// warehouse backend funnels scanned values through here.
func Coerce(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch t {
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("coerce %q to float: %w", n, err)
			}
			return f, nil
		}
	case Integer:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("coerce %v to integer: fractional value", n)
			}
			return int64(n), nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("coerce %q to integer: %w", n, err)
			}
			return i, nil
		}
	case String:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		default:
			return fmt.Sprint(s), nil
		}
	case Boolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case int:
			return b != 0, nil
		case string:
			p, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("coerce %q to boolean: %w", b, err)
			}
			return p, nil
		}
	default:
		return nil, fmt.Errorf("coerce: unknown type %q", t)
	}
	return nil, fmt.Errorf("coerce %T to %s: unsupported value", v, t)
}

// CoerceRecord builds a Record from positional values aligned with s.
func (s Schema) CoerceRecord(vals []any) (records.Record, error) {
	if len(vals) != len(s) {
		return nil, fmt.Errorf("schema: got %d values for %d columns", len(vals), len(s))
	}
	rec := make(records.Record, len(s))
	for i, c := range s {
		v, err := Coerce(c.Type, vals[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		rec[c.Name] = v
	}
	return rec, nil
}

// Float64 converts a normalized numeric value to float64. Booleans map to 0/1.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
