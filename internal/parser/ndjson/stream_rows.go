// Package ndjson streams newline-delimited JSON objects into pooled positional
// rows aligned to a staging column list.
package ndjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"warehouse/internal/transformer"
)

// Scanner line budget. Activity-log lines are small; user_agent strings and
// long catalog titles still fit comfortably.
const maxLineBytes = 1 << 20

// StreamRows parses newline-delimited JSON from r and streams records as
// *transformer.Row into 'out', one row per non-blank line.
//
// fieldMap maps original JSON keys to normalized column names for keys whose
// spelling differs from the column (e.g. "userId" -> "user_id"). Columns not
// covered by the map are looked up under their own name.
//
// Malformed-line policy: a line that does not parse as a JSON object is
// reported through onParseErr and skipped; the stream continues. This is a raw
// copy surface, so one bad record must not fail a whole object's worth of
// good ones. Fatal reader errors (I/O, oversized line) are returned.
//
// The caller owns 'out' lifecycle; StreamRows never closes it.
func StreamRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	fieldMap map[string]string,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	rev := reverseFieldMap(fieldMap)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++

		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		obj, err := decodeObject(raw)
		if err != nil {
			if onParseErr != nil {
				onParseErr(line, err)
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line
		fillRow(row.V, obj, columns, rev)

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ndjson: read line %d: %w", line+1, err)
	}
	return nil
}

// decodeObject parses one line as a JSON object. Numbers stay json.Number so
// the staging coercion step controls int/float conversion, not this parser.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("ndjson: decode object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("ndjson: line is JSON null, want object")
	}
	return obj, nil
}

// fillRow maps a JSON object into a []any aligned with columns. It uses the
// reversed field map to look up original keys without copying the record map.
func fillRow(dst []any, obj map[string]any, columns []string, rev map[string]string) {
	for i, col := range columns {
		v, ok := obj[col]
		if !ok {
			if orig, ok2 := rev[col]; ok2 {
				v = obj[orig]
			}
		}
		dst[i] = normalizeScalar(v)
	}
}

// normalizeScalar rejects nested structures: staging columns are scalars, so
// arrays/objects degrade to nil rather than a fmt-printed blob. Strings pass
// through byte-for-byte; staging is a raw copy and the catalog match
// downstream is deliberately exact.
func normalizeScalar(v any) any {
	switch v.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		return nil
	default:
		return v
	}
}

// reverseFieldMap builds column -> original key for lookup without per-record
// map copies.
func reverseFieldMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for orig, col := range m {
		if orig == "" || col == "" {
			continue
		}
		out[col] = orig
	}
	return out
}
