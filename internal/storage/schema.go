// The relation spec types live here so both the star-schema definition and the
// backend packages can import them without circular deps.
package storage

// TableSpec declares one warehouse relation: its columns, optional primary
// key, and optional declarative unique constraints.
//
// Primary keys and constraints are per-relation only; the schema declares no
// cross-table referential integrity. Backends enforce what they can (sqlite
// relies on declared keys for INSERT OR IGNORE), and loads are written so
// correctness does not depend on enforcement.
type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

// PrimaryKeySpec declares the relation's primary key column. Type is the
// portable name ("bigint", "text", "timestamptz"); backends translate it.
// Values are always supplied by the load, never generated by the engine's
// backend.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ColumnNames returns the declared column names in order, excluding the
// primary key column.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}
