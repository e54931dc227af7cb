package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"warehouse/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server specifics handled here:
//   - No ON CONFLICT / OR IGNORE: idempotent inserts use a VALUES derived
//     table with a NOT EXISTS anti-join (no MERGE).
//   - Hard limit of 2100 parameters per statement: inserts chunk rows to stay
//     comfortably below it.
//   - NVARCHAR(MAX) cannot be indexed, so key columns map to NVARCHAR(450).
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver, and
// validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// ResetSchema drops and recreates each relation in order, failing fast on the
// first DDL error.
func (r *Repo) ResetSchema(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		drop := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", t.Name, mssqlIdent(t.Name))
		if _, err := r.db.ExecContext(ctx, drop); err != nil {
			return fmt.Errorf("mssql: drop table %s: %w", t.Name, err)
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// CopyRows appends raw rows in parameter-limit-sized chunks.
func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.insertChunked(ctx, table, columns, rows, nil)
}

// InsertRows inserts rows, idempotently per conflict key when conflictColumns
// is non-empty.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	return r.insertChunked(ctx, table, columns, rows, conflictColumns)
}

func (r *Repo) insertChunked(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if table == "" || len(columns) == 0 {
		return 0, fmt.Errorf("mssql: table and columns are required")
	}

	// SQL Server allows at most 2100 parameters per statement.
	rowsPerStmt := 2000 / len(columns)
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}

	var total int64
	for start := 0; start < len(rows); start += rowsPerStmt {
		end := start + rowsPerStmt
		if end > len(rows) {
			end = len(rows)
		}

		q, args := buildInsertSQL(table, columns, rows[start:end], conflictColumns)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// SelectRows streams the named columns of every row to fn.
func (r *Repo) SelectRows(ctx context.Context, table string, columns []string, fn func(row []any) error) error {
	q := "SELECT " + joinIdents(columns) + " FROM " + mssqlIdent(table)

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("mssql: select from %s: %w", table, err)
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
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+mssqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count %s: %w", table, err)
	}
	return n, nil
}

// buildInsertSQL constructs one INSERT statement and its args.
//
// Plain form:
//
//	INSERT INTO t (c1, c2) VALUES (@p1, @p2), (@p3, @p4)
//
// Dedupe form (conflictColumns non-empty):
//
//	INSERT INTO t (c1, c2)
//	SELECT v.c1, v.c2 FROM (VALUES (@p1, @p2), ...) AS v (c1, c2)
//	WHERE NOT EXISTS (SELECT 1 FROM t WHERE t.k = v.k ...)
//
// Pure and deterministic so placeholder numbering and the anti-join are unit
// testable without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var values strings.Builder
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("(")
		for j := range columns {
			if j > 0 {
				values.WriteString(", ")
			}
			fmt.Fprintf(&values, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		values.WriteString(")")
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(")")

	if len(conflictColumns) == 0 {
		b.WriteString(" VALUES ")
		b.WriteString(values.String())
		b.WriteString(";")
		return b.String(), args
	}

	selCols := make([]string, 0, len(columns))
	for _, c := range columns {
		selCols = append(selCols, "v."+mssqlIdent(c))
	}

	preds := make([]string, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		preds = append(preds, fmt.Sprintf("t.%s = v.%s", mssqlIdent(c), mssqlIdent(c)))
	}

	fmt.Fprintf(
		&b,
		" SELECT %s FROM (VALUES %s) AS v (%s) WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE %s);",
		strings.Join(selCols, ", "),
		values.String(),
		joinIdents(columns),
		mssqlIdent(table),
		strings.Join(preds, " AND "),
	)
	return b.String(), args
}

// buildCreateTableSQL generates DDL with portable types mapped to SQL Server
// types. Key columns (primary key, unique constraint members) use
// NVARCHAR(450) instead of NVARCHAR(MAX) to stay indexable.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	keyCols := map[string]bool{}
	if t.PrimaryKey != nil {
		keyCols[t.PrimaryKey.Name] = true
	}
	for _, con := range t.Constraints {
		for _, c := range con.Columns {
			keyCols[c] = true
		}
	}

	var parts []string

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name), typeSQL(t.PrimaryKey.Type, true)))
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", mssqlIdent(c.Name), typeSQL(c.Type, keyCols[c.Name]))
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
			return "", fmt.Errorf("mssql: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", mssqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func typeSQL(portable string, key bool) string {
	switch strings.ToLower(strings.TrimSpace(portable)) {
	case "bigint":
		return "BIGINT"
	case "double precision":
		return "FLOAT"
	case "timestamptz":
		return "DATETIMEOFFSET"
	default:
		if key {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}

func mssqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func joinIdents(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, mssqlIdent(c))
	}
	return strings.Join(out, ", ")
}
