// Package staging implements the bulk-copy contract: raw newline-delimited
// JSON from an object-storage source into the two staging relations, with no
// transformation beyond per-column type coercion.
package staging

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"warehouse/internal/metrics"
	"warehouse/internal/parser/ndjson"
	"warehouse/internal/source"
	"warehouse/internal/star"
	"warehouse/internal/storage"
	"warehouse/internal/transformer"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Summary reports what each staging copy did. Skipped counts cover
// malformed-record policy: a line that does not parse as a JSON object is
// dropped and counted, never fails the load.
type Summary struct {
	EventsCopied  int64
	EventsSkipped int64
	SongsCopied   int64
	SongsSkipped  int64
}

// Loader bulk-copies raw records into the staging relations.
type Loader struct {
	Repo   storage.Repository
	Logger Logger

	// BatchSize bounds rows per CopyRows call. Defaults to 1024.
	BatchSize int
}

// Load copies activity-log records into staging_events and catalog records
// into staging_songs, in that order. Source access failures (not-found,
// access-denied, I/O) abort with the backend detail wrapped; malformed lines
// are skipped and counted.
func (l *Loader) Load(ctx context.Context, events, catalog source.Reader) (Summary, error) {
	if l.Repo == nil {
		return Summary{}, fmt.Errorf("staging: Repo is required")
	}

	var sum Summary
	var err error

	sum.EventsCopied, sum.EventsSkipped, err = l.copyRelation(ctx, events, star.StagingEventsTable(), star.EventFieldMap())
	if err != nil {
		return sum, fmt.Errorf("stage events: %w", err)
	}

	sum.SongsCopied, sum.SongsSkipped, err = l.copyRelation(ctx, catalog, star.StagingSongsTable(), star.SongFieldMap())
	if err != nil {
		return sum, fmt.Errorf("stage songs: %w", err)
	}

	return sum, nil
}

func (l *Loader) copyRelation(
	ctx context.Context,
	src source.Reader,
	spec storage.TableSpec,
	fieldMap map[string]string,
) (copied int64, skipped int64, _ error) {
	if src == nil {
		return 0, 0, fmt.Errorf("nil source for %s", spec.Name)
	}

	logf := l.logf()
	start := time.Now()

	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = 1024
	}

	columns := spec.ColumnNames()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh := make(chan *transformer.Row, batchSize)

	// Producer: walk the source, stream every object's lines into rowCh.
	walkErrCh := make(chan error, 1)
	go func() {
		defer close(rowCh)
		walkErrCh <- src.Walk(ctx, func(name string, r io.Reader) error {
			return ndjson.StreamRows(ctx, r, columns, fieldMap, rowCh, func(line int, err error) {
				skipped++
				logf("stage=copy table=%s object=%s line=%d skipped malformed record: %v", spec.Name, name, line, err)
			})
		})
	}()

	// Consumer: coerce to column types and flush batches.
	batch := make([][]any, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.Repo.CopyRows(ctx, spec.Name, columns, batch)
		if err != nil {
			return err
		}
		copied += n
		batch = batch[:0]
		return nil
	}

	var copyErr error
	for row := range rowCh {
		if copyErr != nil {
			row.Drop()
			continue
		}
		batch = append(batch, coerceRow(spec.Columns, row.V))
		row.Free()
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				copyErr = err
				cancel()
			}
		}
	}

	walkErr := <-walkErrCh
	if copyErr != nil {
		return copied, skipped, copyErr
	}
	if walkErr != nil {
		return copied, skipped, walkErr
	}
	if err := flush(); err != nil {
		return copied, skipped, err
	}

	metrics.IncCounter("warehouse_staging_rows_total", float64(copied), metrics.Labels{"relation": spec.Name, "outcome": "copied"})
	metrics.IncCounter("warehouse_staging_rows_total", float64(skipped), metrics.Labels{"relation": spec.Name, "outcome": "skipped"})
	metrics.ObserveHistogram("warehouse_stage_duration_seconds", time.Since(start).Seconds(), metrics.Labels{"stage": "copy_" + spec.Name})
	logf("stage=copy table=%s copied=%d skipped=%d duration=%s",
		spec.Name, copied, skipped, time.Since(start).Truncate(time.Millisecond))
	return copied, skipped, nil
}

func (l *Loader) logf() func(format string, v ...any) {
	if l.Logger == nil {
		lg := log.New(io.Discard, "", 0)
		return lg.Printf
	}
	return l.Logger.Printf
}
