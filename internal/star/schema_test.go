package star

import (
	"reflect"
	"testing"
)

func TestTablesOrder(t *testing.T) {
	t.Parallel()

	var names []string
	for _, spec := range Tables() {
		names = append(names, spec.Name)
	}
	want := []string{
		TableStagingEvents, TableStagingSongs,
		TableUsers, TableSongs, TableArtists, TableTime,
		TableSongplays,
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Tables() order = %v, want %v", names, want)
	}
}

func TestStagingTablesHaveNoConstraints(t *testing.T) {
	t.Parallel()

	for _, spec := range Tables()[:2] {
		if spec.PrimaryKey != nil || len(spec.Constraints) != 0 {
			t.Errorf("%s: staging relation carries constraints", spec.Name)
		}
	}
}

func TestDimensionPrimaryKeys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		pk     string
		pkType string
	}{
		{name: TableUsers, pk: "user_id", pkType: "text"},
		{name: TableSongs, pk: "song_id", pkType: "text"},
		{name: TableArtists, pk: "artist_id", pkType: "text"},
		{name: TableTime, pk: "start_time", pkType: "timestamptz"},
		{name: TableSongplays, pk: "songplay_id", pkType: "bigint"},
	}
	byName := map[string]int{}
	tables := Tables()
	for i, spec := range tables {
		byName[spec.Name] = i
	}
	for _, tc := range cases {
		spec := tables[byName[tc.name]]
		if spec.PrimaryKey == nil {
			t.Errorf("%s: no primary key", tc.name)
			continue
		}
		if spec.PrimaryKey.Name != tc.pk || spec.PrimaryKey.Type != tc.pkType {
			t.Errorf("%s: pk = %s %s, want %s %s",
				tc.name, spec.PrimaryKey.Name, spec.PrimaryKey.Type, tc.pk, tc.pkType)
		}
	}
}

func TestEventFieldMapTargetsExistingColumns(t *testing.T) {
	t.Parallel()

	cols := map[string]bool{}
	for _, c := range StagingEventsTable().Columns {
		cols[c.Name] = true
	}
	for key, col := range EventFieldMap() {
		if !cols[col] {
			t.Errorf("field map %q -> %q: no such staging column", key, col)
		}
	}
}

func TestTimeTableColumnsNotNull(t *testing.T) {
	t.Parallel()

	for _, c := range TimeTable().Columns {
		if c.Nullable == nil || *c.Nullable {
			t.Errorf("time.%s is nullable, want NOT NULL", c.Name)
		}
	}
}
