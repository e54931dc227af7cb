// Package all registers every storage backend. Import it for side effects
// from binaries that select a backend at runtime.
package all

import (
	_ "warehouse/internal/storage/mssql"
	_ "warehouse/internal/storage/postgres"
	_ "warehouse/internal/storage/sqlite"
)
