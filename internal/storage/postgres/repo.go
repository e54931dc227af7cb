package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"warehouse/internal/storage"
)

// Repo implements storage.Repository for Postgres (and Postgres-protocol
// warehouses). Bulk staging copies use the COPY protocol; analytic inserts
// use multi-row INSERT with ON CONFLICT DO NOTHING for idempotent keys.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed Repo and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// ResetSchema drops and recreates each relation in order. Fail-fast: the
// first DDL error aborts the reset.
func (r *Repo) ResetSchema(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(t.Name)+";"); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// CopyRows bulk-appends rows via the COPY protocol. Staging relations declare
// no constraints, so COPY's append-only semantics are exactly right.
func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// InsertRows performs a multi-row INSERT. When conflictColumns is non-empty
// the statement carries ON CONFLICT (...) DO NOTHING, which makes re-issued
// keys a silent no-op instead of a unique violation.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(table, columns, rows, conflictColumns)
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

// SelectRows streams the named columns of every row to fn.
func (r *Repo) SelectRows(ctx context.Context, table string, columns []string, fn func(row []any) error) error {
	q := "SELECT " + joinIdents(columns) + " FROM " + pgIdent(table)

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountRows returns the relation's current row count.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(conflictColumns))
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

// buildCreateTableSQL generates CREATE TABLE DDL for a relation spec.
//
// Primary keys are declarative here; the engine supplies surrogate values
// itself, so no identity/serial types are emitted.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", pgIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", pgIdent(c.Name), c.Type)
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

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", pgIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, pgIdent(c))
	}
	return strings.Join(out, ", ")
}
