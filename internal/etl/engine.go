// Package etl implements the analytic transform: it reads the two staging
// relations back out of the warehouse and loads the songplay fact table and
// the four dimension tables. The whole transform is a full refresh over
// staging; it never consults prior fact or dimension state.
package etl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"warehouse/internal/metrics"
	"warehouse/internal/star"
	"warehouse/internal/storage"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

const defaultBatchSize = 1024

// LoadSummary reports how many rows each analytic load inserted.
type LoadSummary struct {
	UsersInserted     int64
	SongsInserted     int64
	ArtistsInserted   int64
	TimeRowsInserted  int64
	SongplaysInserted int64
}

// Engine runs the staging-to-star transform against a single Repository.
// Loads run sequentially: catalog index, users, songs, artists, then one pass
// over the activity events producing time rows and songplay facts together.
type Engine struct {
	Repo   storage.Repository
	Logger Logger

	// Match keys the song-resolution join. Nil means ExactMatch.
	Match Matcher

	// BatchSize caps rows per insert statement. Zero means 1024.
	BatchSize int
}

// Run executes the transform and returns per-table insert counts.
func (e *Engine) Run(ctx context.Context) (LoadSummary, error) {
	var sum LoadSummary
	if e.Repo == nil {
		return sum, fmt.Errorf("etl: Repo is required")
	}

	match := e.Match
	if match == nil {
		match = ExactMatch
	}
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logf := e.logger()

	start := time.Now()
	cat, err := e.buildCatalog(ctx, match)
	if err != nil {
		return sum, err
	}
	logf("stage=catalog songs=%d artists=%d duration=%s", len(cat.songRows), len(cat.artistRows), durMS(start))
	observeStage("catalog", start)

	start = time.Now()
	if sum.UsersInserted, err = e.loadUsers(ctx, batchSize); err != nil {
		return sum, err
	}
	logf("stage=users inserted=%d duration=%s", sum.UsersInserted, durMS(start))
	metrics.IncCounter("warehouse_rows_inserted_total", float64(sum.UsersInserted), metrics.Labels{"table": star.TableUsers})
	observeStage("users", start)

	start = time.Now()
	songCols := append([]string{"song_id"}, star.SongsTable().ColumnNames()...)
	if sum.SongsInserted, err = e.insertBatched(ctx, star.TableSongs, songCols, cat.songRows, []string{"song_id"}, batchSize); err != nil {
		return sum, err
	}
	logf("stage=songs inserted=%d duration=%s", sum.SongsInserted, durMS(start))
	metrics.IncCounter("warehouse_rows_inserted_total", float64(sum.SongsInserted), metrics.Labels{"table": star.TableSongs})
	observeStage("songs", start)

	start = time.Now()
	artistCols := append([]string{"artist_id"}, star.ArtistsTable().ColumnNames()...)
	if sum.ArtistsInserted, err = e.insertBatched(ctx, star.TableArtists, artistCols, cat.artistRows, []string{"artist_id"}, batchSize); err != nil {
		return sum, err
	}
	logf("stage=artists inserted=%d duration=%s", sum.ArtistsInserted, durMS(start))
	metrics.IncCounter("warehouse_rows_inserted_total", float64(sum.ArtistsInserted), metrics.Labels{"table": star.TableArtists})
	observeStage("artists", start)

	start = time.Now()
	timeRows, playRows, err := e.loadSongplays(ctx, cat, match, batchSize)
	if err != nil {
		return sum, err
	}
	sum.TimeRowsInserted = timeRows
	sum.SongplaysInserted = playRows
	logf("stage=songplays time_rows=%d facts=%d duration=%s", timeRows, playRows, durMS(start))
	metrics.IncCounter("warehouse_rows_inserted_total", float64(timeRows), metrics.Labels{"table": star.TableTime})
	metrics.IncCounter("warehouse_rows_inserted_total", float64(playRows), metrics.Labels{"table": star.TableSongplays})
	observeStage("songplays", start)

	return sum, nil
}

func observeStage(stage string, start time.Time) {
	metrics.ObserveHistogram("warehouse_stage_duration_seconds", time.Since(start).Seconds(), metrics.Labels{"stage": stage})
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// catalogRef carries the resolved linkage for one (title, artist) key.
// Both ids are always set; a key that cannot supply both is never indexed.
type catalogRef struct {
	songID   any
	artistID any
}

type catalog struct {
	songRows   [][]any // song_id, title, artist_id, year, duration
	artistRows [][]any // artist_id, name, location, latitude, longitude

	// byKey maps Matcher output to linkage ids. First catalog row wins for a
	// duplicated key, matching the first-wins rule for duplicated ids.
	byKey map[string]catalogRef
}

// buildCatalog reads staging_songs once and builds the song and artist
// dimension rows plus the resolution index. Rows missing song_id contribute
// nothing to the songs dimension or the index; rows missing artist_id
// contribute nothing to the artists dimension or the index. Only rows
// carrying both ids can resolve an event, keeping songplay linkage both-null
// or both-non-null.
func (e *Engine) buildCatalog(ctx context.Context, match Matcher) (*catalog, error) {
	cat := &catalog{byKey: make(map[string]catalogRef)}

	seenSongs := make(map[string]struct{})
	seenArtists := make(map[string]struct{})

	cols := []string{
		"song_id", "title", "artist_id", "artist_name",
		"artist_location", "artist_latitude", "artist_longitude",
		"year", "duration",
	}
	err := e.Repo.SelectRows(ctx, star.TableStagingSongs, cols, func(row []any) error {
		songID, hasSong := asText(row[0])
		artistID, hasArtist := asText(row[2])
		title, _ := asText(row[1])
		artistName, _ := asText(row[3])

		if hasSong && songID != "" {
			if _, dup := seenSongs[songID]; !dup {
				seenSongs[songID] = struct{}{}
				cat.songRows = append(cat.songRows, []any{
					songID,
					textColumn(row[1]),
					textColumn(row[2]),
					bigintColumn(row[7]),
					doubleColumn(row[8]),
				})
			}

			// Linkage is all-or-nothing: a catalog row missing artist_id
			// cannot resolve an event, so it stays out of the index and the
			// event falls through to a fully null linkage.
			if hasArtist && artistID != "" {
				key := match(title, artistName)
				if _, dup := cat.byKey[key]; !dup {
					cat.byKey[key] = catalogRef{songID: songID, artistID: artistID}
				}
			}
		}

		if hasArtist && artistID != "" {
			if _, dup := seenArtists[artistID]; !dup {
				seenArtists[artistID] = struct{}{}
				cat.artistRows = append(cat.artistRows, []any{
					artistID,
					textColumn(row[3]),
					textColumn(row[4]),
					doubleColumn(row[5]),
					doubleColumn(row[6]),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("etl: build catalog: %w", err)
	}
	return cat, nil
}

// loadUsers scans playback events and keeps one attribute row per user: the
// row from the event with the greatest ts. When two events for a user carry
// the same ts, the one later in scan order wins. Users are inserted in
// user_id order so repeated runs produce identical statements.
func (e *Engine) loadUsers(ctx context.Context, batchSize int) (int64, error) {
	type userRec struct {
		row []any
		ts  int64
	}
	latest := make(map[string]userRec)

	cols := []string{"page", "ts", "user_id", "first_name", "last_name", "gender", "level"}
	err := e.Repo.SelectRows(ctx, star.TableStagingEvents, cols, func(row []any) error {
		page, _ := asText(row[0])
		if page != "NextSong" {
			return nil
		}
		userID, ok := asText(row[2])
		if !ok || userID == "" {
			return nil
		}
		ts, _ := asInt64(row[1])

		if cur, ok := latest[userID]; ok && cur.ts > ts {
			return nil
		}
		latest[userID] = userRec{
			ts: ts,
			row: []any{
				userID,
				textColumn(row[3]),
				textColumn(row[4]),
				textColumn(row[5]),
				textColumn(row[6]),
			},
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("etl: scan users: %w", err)
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, latest[id].row)
	}

	userCols := append([]string{"user_id"}, star.UsersTable().ColumnNames()...)
	return e.insertBatched(ctx, star.TableUsers, userCols, rows, []string{"user_id"}, batchSize)
}

// loadSongplays makes the single fact pass over playback events. Each event
// yields one songplay row; the first event at each distinct start time also
// yields a time dimension row. Surrogate songplay ids count up from 1 in scan
// order. Events without a usable ts are skipped and counted.
func (e *Engine) loadSongplays(ctx context.Context, cat *catalog, match Matcher, batchSize int) (timeInserted, playsInserted int64, _ error) {
	logf := e.logger()

	timeCols := append([]string{"start_time"}, star.TimeTable().ColumnNames()...)
	playCols := append([]string{"songplay_id"}, star.SongplaysTable().ColumnNames()...)

	seenTimes := make(map[int64]struct{})
	timeBatch := make([][]any, 0, batchSize)
	playBatch := make([][]any, 0, batchSize)

	var (
		songplayID int64
		skippedTS  int64
		unmatched  int64
		loadErr    error
	)

	flushTime := func() error {
		n, err := e.insertBatched(ctx, star.TableTime, timeCols, timeBatch, []string{"start_time"}, batchSize)
		timeInserted += n
		timeBatch = timeBatch[:0]
		return err
	}
	flushPlays := func() error {
		n, err := e.insertBatched(ctx, star.TableSongplays, playCols, playBatch, nil, batchSize)
		playsInserted += n
		playBatch = playBatch[:0]
		return err
	}

	cols := []string{"page", "ts", "user_id", "level", "song", "artist", "session_id", "location", "user_agent"}
	err := e.Repo.SelectRows(ctx, star.TableStagingEvents, cols, func(row []any) error {
		page, _ := asText(row[0])
		if page != "NextSong" {
			return nil
		}
		ms, ok := asInt64(row[1])
		if !ok {
			skippedTS++
			return nil
		}
		startTime := startTimeFromMillis(ms)

		if _, dup := seenTimes[startTime.Unix()]; !dup {
			seenTimes[startTime.Unix()] = struct{}{}
			hour, day, week, month, year, weekday := TimeParts(startTime)
			timeBatch = append(timeBatch, []any{startTime, hour, day, week, month, year, weekday})
			if len(timeBatch) >= batchSize {
				if err := flushTime(); err != nil {
					loadErr = err
					return err
				}
			}
		}

		song, _ := asText(row[4])
		artist, _ := asText(row[5])
		ref, matched := cat.byKey[match(song, artist)]
		if !matched {
			unmatched++
		}

		songplayID++
		playBatch = append(playBatch, []any{
			songplayID,
			startTime,
			textColumn(row[2]),
			textColumn(row[3]),
			ref.songID,
			ref.artistID,
			bigintColumn(row[6]),
			textColumn(row[7]),
			textColumn(row[8]),
		})
		if len(playBatch) >= batchSize {
			if err := flushPlays(); err != nil {
				loadErr = err
				return err
			}
		}
		return nil
	})
	if err != nil {
		if loadErr != nil {
			return timeInserted, playsInserted, loadErr
		}
		return timeInserted, playsInserted, fmt.Errorf("etl: scan songplays: %w", err)
	}

	if err := flushTime(); err != nil {
		return timeInserted, playsInserted, err
	}
	if err := flushPlays(); err != nil {
		return timeInserted, playsInserted, err
	}

	if skippedTS > 0 {
		logf("stage=songplays skipped_no_ts=%d", skippedTS)
		metrics.IncCounter("warehouse_events_skipped_total", float64(skippedTS), metrics.Labels{"reason": "missing_ts"})
	}
	if unmatched > 0 {
		logf("stage=songplays unmatched=%d", unmatched)
		metrics.IncCounter("warehouse_plays_unmatched_total", float64(unmatched), nil)
	}
	return timeInserted, playsInserted, nil
}

// insertBatched inserts rows in batchSize slices and sums affected counts.
func (e *Engine) insertBatched(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string, batchSize int) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := e.Repo.InsertRows(ctx, table, columns, rows[start:end], conflictColumns)
		total += n
		if err != nil {
			return total, fmt.Errorf("etl: insert %s: %w", table, err)
		}
	}
	return total, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
