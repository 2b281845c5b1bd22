package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_JSONAndYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "p.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"name": "valid",
		"src_folder": "in",
		"data_path": "out",
		"database_path": "db",
		"keywords": {"source": ["TS"], "label": ["TL"]},
		"runtime": {"convert_workers": 4, "rederive_from_disk": false},
		"metrics": {"backend": "datadog", "flush_every": "30s"}
	}`), 0o644))

	yamlPath := filepath.Join(dir, "p.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
name: valid
src_folder: in
data_path: out
database_path: db
keywords:
  source: [TS]
  label: [TL]
runtime:
  convert_workers: 4
  rederive_from_disk: false
metrics:
  backend: datadog
  flush_every: 30
`), 0o644))

	fromJSON, err := Load(jsonPath)
	require.NoError(t, err)
	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)

	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Fatalf("json vs yaml (-json +yaml):\n%s", diff)
	}
	assert.Equal(t, 30*time.Second, fromJSON.Metrics.FlushEvery.D())
	assert.False(t, fromJSON.Runtime.Rederive())
	assert.Equal(t, 4, fromJSON.Runtime.ConvertWorkers)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unknown := filepath.Join(dir, "u.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"name":"train","bogus":1}`), 0o644))

	_, err := Load(unknown)
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	_, err = Decode([]byte(`flush: [`), ".yml")
	require.Error(t, err)
}

func TestNormalize_Defaults(t *testing.T) {
	t.Setenv("NL2SQL_TEST_DSN", "file:x.db")

	p := Normalize(Pipeline{Export: Export{Kind: " SQLite ", DSN: "${NL2SQL_TEST_DSN}"}})

	assert.Equal(t, DefaultJob, p.Job)
	assert.Equal(t, "train", p.Name)
	assert.Equal(t, DefaultSrcFolder, p.SrcFolder)
	assert.Equal(t, DefaultDataPath, p.DataPath)
	assert.Equal(t, DefaultDatabasePath, p.DatabasePath)
	assert.Equal(t, DefaultSourceKeywords, p.Keywords.Source)
	assert.Equal(t, DefaultLabelKeywords, p.Keywords.Label)
	assert.Equal(t, 50, p.Schema.MaxColumns)
	assert.Equal(t, []string{".sqlite", ".sql"}, p.Artifacts.Extensions)
	assert.Equal(t, 1, p.Runtime.ConvertWorkers)
	assert.True(t, p.Runtime.Rederive())
	assert.Equal(t, "sqlite", p.Export.Kind)
	assert.Equal(t, "file:x.db", p.Export.DSN)
	assert.True(t, p.Export.Enabled())

	records, gold := p.OutputFiles()
	assert.Equal(t, filepath.Join("nia", "train.json"), records)
	assert.Equal(t, filepath.Join("nia", "train_gold.sql"), gold)
	assert.Equal(t, filepath.Join("nia", "tables.json"), p.TablesPath())
	assert.Equal(t, filepath.Join("nia", "database"), p.ArtifactDir())
}

func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Pipeline)
		wantPaths []string
		wantErr   bool
	}{
		{name: "defaults_ok", mutate: func(*Pipeline) {}},
		{name: "bad_split", mutate: func(p *Pipeline) { p.Name = "test" }, wantPaths: []string{"name"}, wantErr: true},
		{name: "empty_keyword", mutate: func(p *Pipeline) { p.Keywords.Label = []string{"TL", " "} }, wantPaths: []string{"keywords.label[1]"}, wantErr: true},
		{name: "bad_extension", mutate: func(p *Pipeline) { p.Artifacts.Extensions = []string{"sqlite"} }, wantPaths: []string{"artifacts.extensions[0]"}, wantErr: true},
		{name: "export_needs_dsn", mutate: func(p *Pipeline) { p.Export.Kind = "postgres" }, wantPaths: []string{"export.dsn"}, wantErr: true},
		{name: "unknown_export", mutate: func(p *Pipeline) { p.Export = Export{Kind: "oracle", DSN: "x"} }, wantPaths: []string{"export.kind"}, wantErr: true},
		{name: "tables_file_path", mutate: func(p *Pipeline) { p.TablesFile = "../tables.json" }, wantPaths: []string{"tables_file"}, wantErr: true},
		{name: "same_dirs_warn", mutate: func(p *Pipeline) { p.DatabasePath = "." }, wantPaths: []string{"database_path"}},
		{name: "bad_metrics", mutate: func(p *Pipeline) { p.Metrics.Backend = "statsd" }, wantPaths: []string{"metrics.backend"}, wantErr: true},
		{name: "bad_workers", mutate: func(p *Pipeline) { p.Runtime.ConvertWorkers = -2 }, wantPaths: []string{"runtime.convert_workers"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := Normalize(Pipeline{})
			tc.mutate(&p)

			issues := ValidatePipeline(p)
			var paths []string
			for _, iss := range issues {
				paths = append(paths, iss.Path)
			}
			assert.Equal(t, tc.wantPaths, paths)
			assert.Equal(t, tc.wantErr, HasErrors(issues))
		})
	}
}

func TestPipeline_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	in := Normalize(Pipeline{SrcFolder: "drop", Metrics: Metrics{FlushEvery: Duration(90 * time.Second)}})
	b, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), "flush_every: 1m30s")

	out, err := Decode(b, ".yaml")
	require.NoError(t, err)
	if diff := cmp.Diff(in, Normalize(out)); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}
