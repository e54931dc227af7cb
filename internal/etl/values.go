package etl

import (
	"strconv"
	"time"
)

// Drivers hand back different Go types for the same portable column type
// (sqlite returns text timestamps, pgx returns typed values, mssql returns
// []byte for some strings). The helpers below coerce driver values into the
// types the transform works with; the ok result is false for nil and for
// values that cannot represent the target type.

func asText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Bind-side wrappers: coerce to the column's portable type, or nil when the
// source value is missing or malformed.

func textColumn(v any) any {
	s, ok := asText(v)
	if !ok {
		return nil
	}
	return s
}

func bigintColumn(v any) any {
	n, ok := asInt64(v)
	if !ok {
		return nil
	}
	return n
}

func doubleColumn(v any) any {
	f, ok := asFloat64(v)
	if !ok {
		return nil
	}
	return f
}

// TimeParts derives the time dimension attributes from a start time. Week is
// the ISO 8601 week number; weekday is Monday=0 through Sunday=6.
func TimeParts(t time.Time) (hour, day, week, month, year, weekday int64) {
	_, isoWeek := t.ISOWeek()
	return int64(t.Hour()),
		int64(t.Day()),
		int64(isoWeek),
		int64(t.Month()),
		int64(t.Year()),
		int64((int(t.Weekday()) + 6) % 7)
}

// startTimeFromMillis converts an epoch-milliseconds value to a UTC timestamp
// truncated to whole seconds.
func startTimeFromMillis(ms int64) time.Time {
	return time.Unix(ms/1000, 0).UTC()
}
