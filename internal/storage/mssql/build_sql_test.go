package mssql

import (
	"reflect"
	"strings"
	"testing"

	"warehouse/internal/storage"
)

func TestBuildInsertSQLPlain(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("songplays", []string{"songplay_id", "level"}, [][]any{
		{int64(1), "free"},
		{int64(2), "paid"},
	}, nil)

	want := "INSERT INTO [songplays] ([songplay_id], [level]) VALUES (@p1, @p2), (@p3, @p4);"
	if q != want {
		t.Errorf("sql =\n%s\nwant\n%s", q, want)
	}
	if !reflect.DeepEqual(args, []any{int64(1), "free", int64(2), "paid"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildInsertSQLDedupe(t *testing.T) {
	t.Parallel()

	q, _ := buildInsertSQL("users", []string{"user_id", "level"}, [][]any{{"8", "free"}}, []string{"user_id"})

	for _, want := range []string{
		"INSERT INTO [users] ([user_id], [level])",
		"SELECT v.[user_id], v.[level] FROM (VALUES (@p1, @p2)) AS v ([user_id], [level])",
		"WHERE NOT EXISTS (SELECT 1 FROM [users] AS t WHERE t.[user_id] = v.[user_id])",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("sql missing %q:\n%s", want, q)
		}
	}
}

func TestBuildCreateTableSQLTypeMapping(t *testing.T) {
	t.Parallel()

	notNull := false
	spec := storage.TableSpec{
		Name:       "time",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "start_time", Type: "timestamptz"},
		Columns: []storage.ColumnSpec{
			{Name: "hour", Type: "bigint", Nullable: &notNull},
			{Name: "length", Type: "double precision"},
			{Name: "note", Type: "text"},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"hour"}}},
	}

	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		"[start_time] DATETIMEOFFSET PRIMARY KEY",
		"[hour] BIGINT NOT NULL",
		"[length] FLOAT",
		"[note] NVARCHAR(MAX)",
		"UNIQUE ([hour])",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestBuildCreateTableSQLKeyColumnsIndexable(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "users",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "user_id", Type: "text"},
		Columns:    []storage.ColumnSpec{{Name: "first_name", Type: "text"}},
	}
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	if !strings.Contains(ddl, "[user_id] NVARCHAR(450) PRIMARY KEY") {
		t.Errorf("text PK not mapped to indexable type:\n%s", ddl)
	}
	if !strings.Contains(ddl, "[first_name] NVARCHAR(MAX)") {
		t.Errorf("non-key text column not NVARCHAR(MAX):\n%s", ddl)
	}
}

func TestMssqlIdentQuoting(t *testing.T) {
	t.Parallel()

	if got := mssqlIdent("week]day"); got != "[week]]day]" {
		t.Errorf("mssqlIdent = %s", got)
	}
}
