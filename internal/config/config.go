// Package config defines the corpus conversion configuration and its
// validation rules.
//
// A Pipeline is decoded from JSON or YAML (chosen by file extension). CLI
// flags are applied on top by cmd/nl2sql, then Normalize fills defaults and
// ValidatePipeline reports problems before any file is touched.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by Normalize.
const (
	DefaultJob          = "nl2sql"
	DefaultName         = "train"
	DefaultSrcFolder    = "download/01.Training"
	DefaultDataPath     = "nia"
	DefaultDatabasePath = "database"
	DefaultTablesFile   = "tables.json"
	DefaultMaxColumns   = 50
	DefaultFlushEvery   = 60 * time.Second
)

// Default folder keywords. Earlier entries win when more than one matches.
var (
	DefaultSourceKeywords = []string{"원천데이터", "01.원천데이터", "1.원천데이터", "TS"}
	DefaultLabelKeywords  = []string{"라벨링데이터", "02.라벨링데이터", "2.라벨링데이터", "TL"}
	DefaultExtensions     = []string{".sqlite", ".sql"}
)

// Splits lists the accepted values of Pipeline.Name.
var Splits = []string{"train", "valid", "dev"}

// Pipeline is the full configuration of one conversion run.
type Pipeline struct {
	Job          string `json:"job,omitempty" yaml:"job,omitempty"`
	Name         string `json:"name" yaml:"name"`
	SrcFolder    string `json:"src_folder" yaml:"src_folder"`
	DataPath     string `json:"data_path" yaml:"data_path"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	TablesFile   string `json:"tables_file,omitempty" yaml:"tables_file,omitempty"`

	Keywords  Keywords  `json:"keywords" yaml:"keywords"`
	Schema    Schema    `json:"schema" yaml:"schema"`
	Artifacts Artifacts `json:"artifacts" yaml:"artifacts"`
	Runtime   Runtime   `json:"runtime" yaml:"runtime"`
	Export    Export    `json:"export" yaml:"export"`
	Metrics   Metrics   `json:"metrics" yaml:"metrics"`
	Logging   Logging   `json:"logging" yaml:"logging"`
}

// Keywords select the source and label folders under SrcFolder.
type Keywords struct {
	Source []string `json:"source,omitempty" yaml:"source,omitempty"`
	Label  []string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Schema holds the schema admission limits.
type Schema struct {
	MaxColumns int `json:"max_columns,omitempty" yaml:"max_columns,omitempty"`
}

// Artifacts lists the database artifact extensions copied during ingest.
type Artifacts struct {
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// Runtime tunes execution.
type Runtime struct {
	// ConvertWorkers > 1 converts records concurrently; output order is
	// unchanged.
	ConvertWorkers int `json:"convert_workers,omitempty" yaml:"convert_workers,omitempty"`

	// RederiveFromDisk reloads the persisted registry file before
	// converting. Nil means true.
	RederiveFromDisk *bool `json:"rederive_from_disk,omitempty" yaml:"rederive_from_disk,omitempty"`
}

// Rederive reports the effective RederiveFromDisk setting.
func (r Runtime) Rederive() bool {
	return r.RederiveFromDisk == nil || *r.RederiveFromDisk
}

// Export configures the optional database sink.
type Export struct {
	// Kind is "", "none", "sqlite", "postgres" or "mssql".
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	// DSN has environment variables expanded by Normalize.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Enabled reports whether an export sink is configured.
func (e Export) Enabled() bool {
	k := strings.ToLower(strings.TrimSpace(e.Kind))
	return k != "" && k != "none"
}

// Metrics configures the metrics backend.
type Metrics struct {
	// Backend is "", "none" or "datadog".
	Backend    string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	FlushEvery Duration `json:"flush_every,omitempty" yaml:"flush_every,omitempty"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Duration decodes either a Go duration string ("30s") or a number of
// seconds.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!int" || n.Tag == "!!float" {
		var secs float64
		if err := n.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads a pipeline config from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON. Unknown JSON fields are errors.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Decode(b, filepath.Ext(path))
}

// Decode parses b as YAML when ext is ".yaml"/".yml" and as JSON otherwise.
func Decode(b []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("config: decode json: %w", err)
		}
	}
	return p, nil
}

// Normalize fills defaults, trims names and expands environment variables in
// the export DSN. It returns the updated copy.
func Normalize(p Pipeline) Pipeline {
	p.Name = strings.TrimSpace(p.Name)
	if p.Job == "" {
		p.Job = DefaultJob
	}
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.SrcFolder == "" {
		p.SrcFolder = DefaultSrcFolder
	}
	if p.DataPath == "" {
		p.DataPath = DefaultDataPath
	}
	if p.DatabasePath == "" {
		p.DatabasePath = DefaultDatabasePath
	}
	if p.TablesFile == "" {
		p.TablesFile = DefaultTablesFile
	}
	if len(p.Keywords.Source) == 0 {
		p.Keywords.Source = append([]string(nil), DefaultSourceKeywords...)
	}
	if len(p.Keywords.Label) == 0 {
		p.Keywords.Label = append([]string(nil), DefaultLabelKeywords...)
	}
	if p.Schema.MaxColumns == 0 {
		p.Schema.MaxColumns = DefaultMaxColumns
	}
	if len(p.Artifacts.Extensions) == 0 {
		p.Artifacts.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if p.Runtime.ConvertWorkers == 0 {
		p.Runtime.ConvertWorkers = 1
	}
	if p.Metrics.FlushEvery == 0 {
		p.Metrics.FlushEvery = Duration(DefaultFlushEvery)
	}
	p.Export.Kind = strings.ToLower(strings.TrimSpace(p.Export.Kind))
	p.Export.DSN = os.ExpandEnv(p.Export.DSN)
	return p
}

// OutputFiles returns the records and gold file paths for the configured
// split.
func (p Pipeline) OutputFiles() (records, gold string) {
	return filepath.Join(p.DataPath, p.Name+".json"), filepath.Join(p.DataPath, p.Name+"_gold.sql")
}

// ArtifactDir returns the directory database artifacts are copied into.
// DatabasePath is relative to DataPath unless absolute.
func (p Pipeline) ArtifactDir() string {
	if filepath.IsAbs(p.DatabasePath) {
		return p.DatabasePath
	}
	return filepath.Join(p.DataPath, p.DatabasePath)
}

// TablesPath returns the registry file path.
func (p Pipeline) TablesPath() string {
	return filepath.Join(p.DataPath, p.TablesFile)
}
