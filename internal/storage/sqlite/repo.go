package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"warehouse/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMPTZ type. Timestamps are therefore bound as
//     RFC3339Nano strings for reliable round-trip behavior and easy debugging;
//     the declared column type keeps the portable name for documentation.
//   - Conflict handling uses "INSERT OR IGNORE", which relies on the UNIQUE/PK
//     constraints declared by the table spec.
//
// An in-memory DSN (":memory:" or "file::memory:?cache=shared") gives tests a
// real warehouse without external services.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases stable and matches the
	// pipeline's single-writer model.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// ResetSchema drops and recreates each relation in order, failing fast on the
// first DDL error.
func (r *Repo) ResetSchema(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(t.Name)+";"); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// CopyRows appends raw rows. SQLite has no COPY protocol; a plain multi-row
// INSERT over constraint-free staging tables is equivalent.
func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.insert(ctx, table, columns, rows, false)
}

// InsertRows inserts rows; a non-empty conflictColumns switches to
// INSERT OR IGNORE. SQLite cannot target specific columns the way Postgres
// ON CONFLICT does, so the declared PK/UNIQUE constraints must match.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	return r.insert(ctx, table, columns, rows, len(conflictColumns) > 0)
}

func (r *Repo) insert(ctx context.Context, table string, columns []string, rows [][]any, ignoreConflicts bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	prefix := "INSERT INTO "
	if ignoreConflicts {
		prefix = "INSERT OR IGNORE INTO "
	}

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SelectRows streams the named columns of every row to fn.
func (r *Repo) SelectRows(ctx context.Context, table string, columns []string, fn func(row []any) error) error {
	q := "SELECT " + joinIdents(columns) + " FROM " + sqlIdent(table)

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		out := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range out {
			scan[i] = &out[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return err
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// bindValue converts values the driver would mangle. time.Time is stored as
// an RFC3339Nano string so equal timestamps always collide on the PK.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// buildCreateTableSQL generates DDL with portable types mapped to SQLite
// storage classes.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", sqlIdent(t.PrimaryKey.Name), typeSQL(t.PrimaryKey.Type)))
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typeSQL(c.Type))
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func typeSQL(portable string) string {
	switch strings.ToLower(strings.TrimSpace(portable)) {
	case "bigint":
		return "INTEGER"
	case "double precision":
		return "REAL"
	case "timestamptz":
		// Stored as RFC3339Nano text; see bindValue.
		return "TEXT"
	default:
		return "TEXT"
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}
