// Package config defines the pipeline configuration surface: where the raw
// NDJSON datasets live, which storage backend to load, and runtime knobs.
package config

// Pipeline is the top-level config decoded from the user's JSON file.
type Pipeline struct {
	Job      string        `json:"job"`
	Sources  Sources       `json:"sources"`
	Storage  Storage       `json:"storage"`
	Matching Matching      `json:"matching"`
	Runtime  RuntimeConfig `json:"runtime"`
}

// Sources names the two raw dataset locations. Each location is either a
// local directory or an s3://bucket/prefix URL; files under it with a .json
// suffix are read as NDJSON.
type Sources struct {
	Events string `json:"events"`
	Songs  string `json:"songs"`
}

type Storage struct {
	// Backend kind: "postgres" | "sqlite" | "mssql"
	Kind string `json:"kind"`

	// DSN may reference environment variables ($VAR / ${VAR}); they are
	// expanded before the connection is opened.
	DSN string `json:"dsn"`
}

// Matching selects the song-resolution strategy. Empty means "exact".
type Matching struct {
	Strategy string `json:"strategy"`
}

// RuntimeConfig controls execution behavior.
type RuntimeConfig struct {
	// BatchSize caps rows per insert statement. Zero means the default.
	BatchSize int `json:"batch_size"`
}
