package config

import "strings"

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path locates the offending field in the
// JSON document.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// ValidatePipeline checks a decoded Pipeline and returns all findings at
// once, errors and warnings alike, so the user can fix a config in one pass.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	addErr := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: msg})
	}
	addWarn := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: msg})
	}

	if strings.TrimSpace(p.Job) == "" {
		addWarn("job", "empty; metrics will use the default job name")
	}

	if strings.TrimSpace(p.Sources.Events) == "" {
		addErr("sources.events", "required: directory path or s3:// URL of the activity logs")
	}
	if strings.TrimSpace(p.Sources.Songs) == "" {
		addErr("sources.songs", "required: directory path or s3:// URL of the song catalog")
	}

	switch p.Storage.Kind {
	case "postgres", "sqlite", "mssql":
	case "":
		addErr("storage.kind", "required: one of postgres, sqlite, mssql")
	default:
		addErr("storage.kind", "unknown backend "+quote(p.Storage.Kind)+"; expected postgres, sqlite, or mssql")
	}
	if strings.TrimSpace(p.Storage.DSN) == "" {
		addErr("storage.dsn", "required")
	}

	switch p.Matching.Strategy {
	case "", "exact", "folded":
	default:
		addErr("matching.strategy", "unknown strategy "+quote(p.Matching.Strategy)+"; expected exact or folded")
	}

	if p.Runtime.BatchSize < 0 {
		addErr("runtime.batch_size", "must be >= 0")
	}

	return issues
}

func quote(s string) string { return `"` + s + `"` }
