package etl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"warehouse/internal/star"
	"warehouse/internal/storage"
)

// fakeRepo is an in-memory storage.Repository. Tables are seeded with
// explicit column lists; SelectRows projects stored rows onto the requested
// columns, and InsertRows honors conflict columns the way the real backends
// do (existing key wins, duplicate dropped).
type fakeRepo struct {
	cols map[string][]string
	rows map[string][][]any

	insertCalls []struct {
		table string
		n     int
	}

	insertErr map[string]error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cols: make(map[string][]string),
		rows: make(map[string][][]any),
	}
}

func (r *fakeRepo) seed(table string, cols []string, rows [][]any) {
	r.cols[table] = cols
	r.rows[table] = append([][]any(nil), rows...)
}

func (r *fakeRepo) Close() {}

func (r *fakeRepo) ResetSchema(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		cols := []string{}
		if t.PrimaryKey != nil {
			cols = append(cols, t.PrimaryKey.Name)
		}
		for _, c := range t.Columns {
			cols = append(cols, c.Name)
		}
		r.cols[t.Name] = cols
		r.rows[t.Name] = nil
	}
	return nil
}

func (r *fakeRepo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.InsertRows(ctx, table, columns, rows, nil)
}

func (r *fakeRepo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	r.insertCalls = append(r.insertCalls, struct {
		table string
		n     int
	}{table: table, n: len(rows)})

	if err := r.insertErr[table]; err != nil {
		return 0, err
	}

	if _, ok := r.cols[table]; !ok {
		r.cols[table] = columns
	}

	var inserted int64
	for _, row := range rows {
		if len(conflictColumns) > 0 && r.hasKey(table, columns, conflictColumns, row) {
			continue
		}
		stored := make([]any, len(r.cols[table]))
		for i, c := range r.cols[table] {
			if j := indexOf(columns, c); j >= 0 {
				stored[i] = row[j]
			}
		}
		r.rows[table] = append(r.rows[table], stored)
		inserted++
	}
	return inserted, nil
}

func (r *fakeRepo) hasKey(table string, columns, conflictColumns []string, row []any) bool {
	for _, existing := range r.rows[table] {
		match := true
		for _, kc := range conflictColumns {
			i := indexOf(r.cols[table], kc)
			j := indexOf(columns, kc)
			if i < 0 || j < 0 || fmt.Sprint(existing[i]) != fmt.Sprint(row[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (r *fakeRepo) SelectRows(ctx context.Context, table string, columns []string, fn func(row []any) error) error {
	stored, ok := r.cols[table]
	if !ok {
		return fmt.Errorf("fake: unknown table %s", table)
	}
	for _, row := range r.rows[table] {
		out := make([]any, len(columns))
		for i, c := range columns {
			if j := indexOf(stored, c); j >= 0 {
				out[i] = row[j]
			}
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRepo) CountRows(ctx context.Context, table string) (int64, error) {
	return int64(len(r.rows[table])), nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

// find returns the first stored row whose column equals want, as a
// column-name map.
func (r *fakeRepo) find(t *testing.T, table, column string, want any) map[string]any {
	t.Helper()
	i := indexOf(r.cols[table], column)
	if i < 0 {
		t.Fatalf("table %s has no column %s", table, column)
	}
	for _, row := range r.rows[table] {
		if fmt.Sprint(row[i]) == fmt.Sprint(want) {
			out := make(map[string]any, len(row))
			for j, c := range r.cols[table] {
				out[c] = row[j]
			}
			return out
		}
	}
	t.Fatalf("table %s: no row with %s=%v", table, column, want)
	return nil
}

var eventCols = []string{
	"page", "ts", "user_id", "first_name", "last_name", "gender", "level",
	"song", "artist", "session_id", "location", "user_agent",
}

var songCols = []string{
	"song_id", "title", "artist_id", "artist_name", "artist_location",
	"artist_latitude", "artist_longitude", "year", "duration",
}

func eventRow(ts int64, userID, level, song, artist string) []any {
	return projectRow(eventCols, map[string]any{
		"page": "NextSong", "ts": ts, "user_id": userID,
		"first_name": "First" + userID, "last_name": "Last" + userID,
		"gender": "F", "level": level,
		"song": song, "artist": artist,
		"session_id": int64(101), "location": "Somewhere, CA", "user_agent": "agent/1.0",
	})
}

func projectRow(cols []string, vals map[string]any) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = vals[c]
	}
	return out
}

func seedCatalog(repo *fakeRepo) {
	repo.seed(star.TableStagingSongs, songCols, [][]any{
		{"SOAAA01", "Setanta matins", "AR001", "Elena", "Dublin", 52.3, -6.2, int64(1994), 178.5},
		{"SOBBB02", "Intro", "AR002", "The Box Tops", "Memphis, TN", nil, nil, int64(1969), 75.2},
		// Duplicate song_id: first row above wins.
		{"SOAAA01", "Setanta matins (remaster)", "AR001", "Elena", "Dublin", 52.3, -6.2, int64(2004), 180.0},
	})
}

func TestEngineRun(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	seedCatalog(repo)

	// 2018-11-15 00:30:26 UTC, in epoch millis.
	base := time.Date(2018, 11, 15, 0, 30, 26, 0, time.UTC).UnixMilli()

	repo.seed(star.TableStagingEvents, eventCols, [][]any{
		eventRow(base, "8", "free", "Setanta matins", "Elena"),
		// Same second, different user: shares the time row.
		eventRow(base+500, "10", "paid", "No Such Song", "Nobody"),
		eventRow(base+60_000, "8", "paid", "Intro", "The Box Tops"),
		// Non-playback event: ignored everywhere.
		projectRow(eventCols, map[string]any{"page": "Login", "ts": base, "user_id": "8"}),
	})

	engine := &Engine{Repo: repo, BatchSize: 2}
	sum, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := LoadSummary{
		UsersInserted:     2,
		SongsInserted:     2,
		ArtistsInserted:   2,
		TimeRowsInserted:  2,
		SongplaysInserted: 3,
	}
	if sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}

	// Matched play carries catalog linkage.
	play := repo.find(t, star.TableSongplays, "songplay_id", int64(1))
	if play["song_id"] != "SOAAA01" || play["artist_id"] != "AR001" {
		t.Errorf("matched play linkage = (%v, %v), want (SOAAA01, AR001)", play["song_id"], play["artist_id"])
	}

	// Unmatched play keeps the event but nulls the linkage.
	play = repo.find(t, star.TableSongplays, "songplay_id", int64(2))
	if play["song_id"] != nil || play["artist_id"] != nil {
		t.Errorf("unmatched play linkage = (%v, %v), want (nil, nil)", play["song_id"], play["artist_id"])
	}

	// User 8 played twice; the later event's level wins.
	user := repo.find(t, star.TableUsers, "user_id", "8")
	if user["level"] != "paid" {
		t.Errorf("user 8 level = %v, want paid (latest event)", user["level"])
	}

	// Duplicate catalog song_id: first row's attributes win.
	song := repo.find(t, star.TableSongs, "song_id", "SOAAA01")
	if song["title"] != "Setanta matins" || song["year"] != int64(1994) {
		t.Errorf("song SOAAA01 = %v / %v, want first catalog row", song["title"], song["year"])
	}

	// Time row for the base second: 2018-11-15 was a Thursday (weekday 3).
	tm := repo.find(t, star.TableTime, "hour", int64(0))
	if tm["weekday"] != int64(3) || tm["week"] != int64(46) || tm["day"] != int64(15) {
		t.Errorf("time row = %+v, want weekday=3 week=46 day=15", tm)
	}
}

func TestEngineRunPartialCatalogRowNullsBothIDs(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	// Catalog row with a song_id but no artist_id: it still feeds the songs
	// dimension, but it cannot resolve an event.
	repo.seed(star.TableStagingSongs, songCols, [][]any{
		{"SONLY01", "Title X", nil, "Artist X", "Nowhere", nil, nil, int64(2001), 120.0},
	})
	repo.seed(star.TableStagingEvents, eventCols, [][]any{
		eventRow(time.Date(2018, 11, 2, 9, 0, 0, 0, time.UTC).UnixMilli(), "5", "free", "Title X", "Artist X"),
	})

	engine := &Engine{Repo: repo}
	sum, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SongsInserted != 1 || sum.ArtistsInserted != 0 {
		t.Fatalf("summary = %+v, want one song and no artists", sum)
	}

	play := repo.find(t, star.TableSongplays, "songplay_id", int64(1))
	if play["song_id"] != nil || play["artist_id"] != nil {
		t.Errorf("play linkage = (%v, %v), want (nil, nil) for a catalog row without artist_id",
			play["song_id"], play["artist_id"])
	}
}

func TestEngineRunUserTieBreak(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.seed(star.TableStagingSongs, songCols, nil)

	ts := time.Date(2018, 11, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	repo.seed(star.TableStagingEvents, eventCols, [][]any{
		eventRow(ts, "42", "free", "A", "B"),
		// Identical ts: the later row in scan order wins.
		eventRow(ts, "42", "paid", "A", "B"),
	})

	engine := &Engine{Repo: repo}
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	user := repo.find(t, star.TableUsers, "user_id", "42")
	if user["level"] != "paid" {
		t.Errorf("tied-ts user level = %v, want paid (last in scan order)", user["level"])
	}
}

func TestEngineRunSkipsEventsWithoutTS(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.seed(star.TableStagingSongs, songCols, nil)
	repo.seed(star.TableStagingEvents, eventCols, [][]any{
		projectRow(eventCols, map[string]any{"page": "NextSong", "user_id": "1", "song": "A", "artist": "B"}),
		eventRow(time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC).UnixMilli(), "1", "free", "A", "B"),
	})

	engine := &Engine{Repo: repo}
	sum, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SongplaysInserted != 1 || sum.TimeRowsInserted != 1 {
		t.Fatalf("summary = %+v, want one play and one time row", sum)
	}

	// 2020-01-06 was a Monday: weekday 0, ISO week 2.
	tm := repo.find(t, star.TableTime, "day", int64(6))
	if tm["weekday"] != int64(0) || tm["week"] != int64(2) {
		t.Errorf("time row = %+v, want weekday=0 week=2", tm)
	}
}

func TestEngineRunInsertError(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.seed(star.TableStagingSongs, songCols, nil)
	repo.seed(star.TableStagingEvents, eventCols, [][]any{
		eventRow(time.Now().UnixMilli(), "1", "free", "A", "B"),
	})
	repo.insertErr = map[string]error{star.TableUsers: fmt.Errorf("boom")}

	engine := &Engine{Repo: repo}
	if _, err := engine.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded, want users insert error")
	}
}

func TestEngineRunRequiresRepo(t *testing.T) {
	t.Parallel()

	engine := &Engine{}
	if _, err := engine.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with nil Repo")
	}
}

func TestEngineFoldedMatch(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	seedCatalog(repo)
	repo.seed(star.TableStagingEvents, eventCols, [][]any{
		eventRow(time.Date(2018, 11, 15, 1, 0, 0, 0, time.UTC).UnixMilli(), "3", "free", "SETANTA MATINS", "elena"),
	})

	engine := &Engine{Repo: repo, Match: FoldedMatch}
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	play := repo.find(t, star.TableSongplays, "songplay_id", int64(1))
	if play["song_id"] != "SOAAA01" {
		t.Errorf("folded match song_id = %v, want SOAAA01", play["song_id"])
	}
}
