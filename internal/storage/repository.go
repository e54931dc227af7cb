package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to create a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic interface over the warehouse.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the load pipeline needs. Each backend implements these semantics
// in its own idiomatic way (Postgres ON CONFLICT, SQLite OR IGNORE, SQL Server
// NOT EXISTS).
type Repository interface {
	// Close releases any backend resources (connections, prepared statements, etc).
	// Callers should treat Close as "call once" at shutdown.
	Close()

	// ResetSchema drops every listed relation if it exists and recreates it, in
	// the given order. Full-refresh semantics: all prior contents are destroyed.
	// The first DDL failure aborts; no attempt is made to roll back relations
	// already created.
	ResetSchema(ctx context.Context, tables []TableSpec) error

	// CopyRows bulk-appends raw rows into a staging relation. No constraint or
	// conflict handling; staging relations declare none.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// InsertRows inserts rows into an analytic relation. When conflictColumns
	// is non-empty the insert is idempotent per key: a row whose conflict
	// columns already exist is silently dropped.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)

	// SelectRows streams the named columns of every row to fn. A non-nil error
	// from fn stops the scan and is returned unchanged.
	SelectRows(ctx context.Context, table string, columns []string, fn func(row []any) error) error

	// CountRows returns the current row count of a relation.
	CountRows(ctx context.Context, table string) (int64, error)
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. The kind becomes
// the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
