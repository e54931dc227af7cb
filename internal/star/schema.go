// Package star declares the fixed warehouse schema: two staging relations fed
// by the raw activity-log and song-catalog copies, one songplay fact table and
// four dimension tables, plus the full-refresh reset that precedes every run.
package star

import (
	"context"

	"warehouse/internal/storage"
)

// Relation names. All loads and queries reference these constants; nothing
// else in the module spells out a table name.
const (
	TableStagingEvents = "staging_events"
	TableStagingSongs  = "staging_songs"
	TableSongplays     = "songplays"
	TableUsers         = "users"
	TableSongs         = "songs"
	TableArtists       = "artists"
	TableTime          = "time"
)

func notNull() *bool { b := false; return &b }

// Tables returns the specs for all seven relations in reset order: staging
// first, then dimensions, then the fact table. The warehouse enforces no
// cross-table referential integrity, so the order matters only for log
// readability and determinism.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		StagingEventsTable(),
		StagingSongsTable(),
		UsersTable(),
		SongsTable(),
		ArtistsTable(),
		TimeTable(),
		SongplaysTable(),
	}
}

// StagingEventsTable holds one row per raw activity-log record. No
// constraints: duplicates and non-playback events are expected and filtered
// during the transform, not here.
func StagingEventsTable() storage.TableSpec {
	return storage.TableSpec{
		Name: TableStagingEvents,
		Columns: []storage.ColumnSpec{
			{Name: "artist", Type: "text"},
			{Name: "auth", Type: "text"},
			{Name: "first_name", Type: "text"},
			{Name: "gender", Type: "text"},
			{Name: "item_in_session", Type: "bigint"},
			{Name: "last_name", Type: "text"},
			{Name: "length", Type: "double precision"},
			{Name: "level", Type: "text"},
			{Name: "location", Type: "text"},
			{Name: "method", Type: "text"},
			{Name: "page", Type: "text"},
			{Name: "registration", Type: "double precision"},
			{Name: "session_id", Type: "bigint"},
			{Name: "song", Type: "text"},
			{Name: "status", Type: "bigint"},
			{Name: "ts", Type: "bigint"},
			{Name: "user_agent", Type: "text"},
			{Name: "user_id", Type: "text"},
		},
	}
}

// StagingSongsTable holds one row per raw catalog record. song_id is the
// primary key in the source data, but the staging relation itself enforces
// nothing (raw copy).
func StagingSongsTable() storage.TableSpec {
	return storage.TableSpec{
		Name: TableStagingSongs,
		Columns: []storage.ColumnSpec{
			{Name: "song_id", Type: "text"},
			{Name: "title", Type: "text"},
			{Name: "artist_id", Type: "text"},
			{Name: "artist_name", Type: "text"},
			{Name: "artist_location", Type: "text"},
			{Name: "artist_latitude", Type: "double precision"},
			{Name: "artist_longitude", Type: "double precision"},
			{Name: "year", Type: "bigint"},
			{Name: "duration", Type: "double precision"},
		},
	}
}

// SongplaysTable is the fact table. The surrogate songplay_id is assigned by
// the engine (strictly increasing within a run), so the primary key is a plain
// bigint, not a generated identity. song_id and artist_id are null when the
// played title/artist did not resolve against the catalog.
func SongplaysTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableSongplays,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "songplay_id", Type: "bigint"},
		Columns: []storage.ColumnSpec{
			{Name: "start_time", Type: "timestamptz", Nullable: notNull()},
			{Name: "user_id", Type: "text"},
			{Name: "level", Type: "text"},
			{Name: "song_id", Type: "text"},
			{Name: "artist_id", Type: "text"},
			{Name: "session_id", Type: "bigint"},
			{Name: "location", Type: "text"},
			{Name: "user_agent", Type: "text"},
		},
	}
}

func UsersTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableUsers,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "user_id", Type: "text"},
		Columns: []storage.ColumnSpec{
			{Name: "first_name", Type: "text"},
			{Name: "last_name", Type: "text"},
			{Name: "gender", Type: "text"},
			{Name: "level", Type: "text"},
		},
	}
}

func SongsTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableSongs,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "song_id", Type: "text"},
		Columns: []storage.ColumnSpec{
			{Name: "title", Type: "text"},
			{Name: "artist_id", Type: "text"},
			{Name: "year", Type: "bigint"},
			{Name: "duration", Type: "double precision"},
		},
	}
}

func ArtistsTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableArtists,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "artist_id", Type: "text"},
		Columns: []storage.ColumnSpec{
			{Name: "name", Type: "text"},
			{Name: "location", Type: "text"},
			{Name: "latitude", Type: "double precision"},
			{Name: "longitude", Type: "double precision"},
		},
	}
}

// TimeTable is keyed by the full start_time value; one row per distinct start
// time that appears in the fact table. Weekday uses Monday=0 (see etl.TimeParts).
func TimeTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableTime,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "start_time", Type: "timestamptz"},
		Columns: []storage.ColumnSpec{
			{Name: "hour", Type: "bigint", Nullable: notNull()},
			{Name: "day", Type: "bigint", Nullable: notNull()},
			{Name: "week", Type: "bigint", Nullable: notNull()},
			{Name: "month", Type: "bigint", Nullable: notNull()},
			{Name: "year", Type: "bigint", Nullable: notNull()},
			{Name: "weekday", Type: "bigint", Nullable: notNull()},
		},
	}
}

// ResetSchema drops and recreates all seven relations (full refresh). This
// destroys all prior analytic data on purpose: the pipeline has exactly one
// mode, and every run starts from an empty schema. Fails fast on the first
// DDL error.
func ResetSchema(ctx context.Context, repo storage.Repository) error {
	return repo.ResetSchema(ctx, Tables())
}

// EventFieldMap maps raw activity-log JSON keys to staging_events columns.
// Keys absent from the map already match their column name.
func EventFieldMap() map[string]string {
	return map[string]string{
		"firstName":     "first_name",
		"itemInSession": "item_in_session",
		"lastName":      "last_name",
		"sessionId":     "session_id",
		"userAgent":     "user_agent",
		"userId":        "user_id",
	}
}

// SongFieldMap maps raw catalog JSON keys to staging_songs columns. The
// catalog uses snake_case already, so the map is empty; it exists so both
// staging loads flow through the same parser surface.
func SongFieldMap() map[string]string {
	return map[string]string{}
}
