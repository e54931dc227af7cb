package staging

import (
	"encoding/json"
	"strconv"
	"strings"

	"warehouse/internal/storage"
)

// coerceRow converts parsed JSON values into Go types that bind cleanly for
// the declared column types across all backends (json.Number would otherwise reach
// drivers as a string). A value that cannot be coerced becomes NULL: staging
// keeps the record, and loads that strictly require the field exclude the row
// downstream.
func coerceRow(cols []storage.ColumnSpec, in []any) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		if i >= len(in) {
			break
		}
		out[i] = coerceValue(c.Type, in[i])
	}
	return out
}

func coerceValue(colType string, v any) any {
	if v == nil {
		return nil
	}
	switch colType {
	case "bigint":
		return toInt64(v)
	case "double precision":
		return toFloat64(v)
	default:
		return toText(v)
	}
}

func toInt64(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		// Some feeds carry integral values as decimals ("123.0").
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
		return nil
	case int64:
		return t
	case float64:
		return int64(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return nil
	default:
		return nil
	}
}

func toFloat64(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return nil
	case float64:
		return t
	case int64:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func toText(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return nil
	}
}
