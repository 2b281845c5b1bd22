package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks a normalized pipeline.
//
// When to use:
//   - After Normalize and before any directory is created.
//
// Edge cases:
//   - An unknown split name is an error; the output file names depend on it.
//   - An artifact directory equal to DataPath is only a warning.
//   - A configured export kind without a DSN is an error.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if !slices.Contains(Splits, p.Name) {
		errf("name", "must be one of %s, got %q", strings.Join(Splits, ", "), p.Name)
	}
	if strings.TrimSpace(p.SrcFolder) == "" {
		errf("src_folder", "required")
	}
	if strings.TrimSpace(p.DataPath) == "" {
		errf("data_path", "required")
	}
	if strings.TrimSpace(p.DatabasePath) == "" {
		errf("database_path", "required")
	}
	if p.DatabasePath != "" && filepath.Clean(p.ArtifactDir()) == filepath.Clean(p.DataPath) {
		warnf("database_path", "artifacts would be copied into data_path itself")
	}
	if p.TablesFile != filepath.Base(p.TablesFile) {
		errf("tables_file", "must be a file name, got %q", p.TablesFile)
	}

	checkKeywords := func(path string, kws []string) {
		if len(kws) == 0 {
			errf(path, "at least one keyword required")
			return
		}
		for i, kw := range kws {
			if strings.TrimSpace(kw) == "" {
				errf(fmt.Sprintf("%s[%d]", path, i), "empty keyword")
			}
		}
	}
	checkKeywords("keywords.source", p.Keywords.Source)
	checkKeywords("keywords.label", p.Keywords.Label)

	if p.Schema.MaxColumns <= 0 {
		errf("schema.max_columns", "must be > 0, got %d", p.Schema.MaxColumns)
	}
	for i, ext := range p.Artifacts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errf(fmt.Sprintf("artifacts.extensions[%d]", i), "must start with '.', got %q", ext)
		}
	}

	if p.Runtime.ConvertWorkers < 1 {
		errf("runtime.convert_workers", "must be >= 1, got %d", p.Runtime.ConvertWorkers)
	}
	if !p.Runtime.Rederive() && p.Runtime.ConvertWorkers > 1 {
		warnf("runtime.rederive_from_disk", "disabled; converting against in-memory registry")
	}

	switch p.Export.Kind {
	case "", "none":
	case "sqlite", "postgres", "mssql":
		if strings.TrimSpace(p.Export.DSN) == "" {
			errf("export.dsn", "required for export kind %q", p.Export.Kind)
		}
	default:
		errf("export.kind", "unknown kind %q", p.Export.Kind)
	}

	switch strings.ToLower(p.Metrics.Backend) {
	case "", "none", "datadog":
	default:
		errf("metrics.backend", "unknown backend %q", p.Metrics.Backend)
	}
	if p.Metrics.FlushEvery < 0 {
		errf("metrics.flush_every", "must not be negative")
	}

	switch strings.ToLower(p.Logging.Format) {
	case "", "console", "json":
	default:
		errf("logging.format", "unknown format %q", p.Logging.Format)
	}
	switch strings.ToLower(p.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errf("logging.level", "unknown level %q", p.Logging.Level)
	}
	return issues
}
