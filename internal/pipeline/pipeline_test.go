package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"nl2sql/internal/config"
	"nl2sql/internal/convert"
	"nl2sql/internal/ingest"
	"nl2sql/internal/storage"
	_ "nl2sql/internal/storage/sqlite"
)

const shopSchema = `{
	"db_id": "shop",
	"table_names_original": ["t", "orders"],
	"column_names_original": [[-1, "*"], [0, "id"], [0, "name"], [1, "id"]],
	"column_types": ["text", "number", "text", "number"]
}`

const shopSchemaV2 = `{
	"db_id": "shop",
	"table_names_original": ["t"],
	"column_names_original": [[-1, "*"], [0, "other"]],
	"column_types": ["text", "text"]
}`

const badSchema = `{
	"db_id": "bad",
	"table_names_original": ["x"],
	"column_names_original": [[-1, "*"], [0, "a"]],
	"column_types": ["text"]
}`

func label(dbID, query, utterance string) string {
	b, _ := json.Marshal(map[string]string{
		"db_id":          dbID,
		"utterance_id":   "u-" + utterance,
		"hardness":       "easy",
		"utterance_type": "BR2",
		"query":          query,
		"utterance":      utterance,
	})
	return string(b)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// corpusTree lays out a vendor drop under root/src and returns the config
// for it.
func corpusTree(t *testing.T, withLabels bool) config.Pipeline {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src", "01.원천데이터")
	writeFile(t, filepath.Join(src, "a", "1.json"), `{"data": [`+shopSchema+`, `+badSchema+`]}`)
	writeFile(t, filepath.Join(src, "a", "shop.sqlite"), "first")
	writeFile(t, filepath.Join(src, "b", "2.json"), `{"data": [`+shopSchemaV2+`]}`)
	writeFile(t, filepath.Join(src, "b", "shop.sqlite"), "second")
	writeFile(t, filepath.Join(src, "b", "notes.json"), `{"meta": true}`)

	if withLabels {
		lbl := filepath.Join(root, "src", "02.라벨링데이터")
		writeFile(t, filepath.Join(lbl, "x", "labels.json"), `{"data": [`+
			label("shop", "SELECT * FROM t", "list all")+`, `+
			label("unknown", "SELECT * FROM t", "who")+`, `+
			label("shop", "SELECT nope FROM t", "broken")+`, `+
			label("shop", "SELECT name FROM t WHERE id = 1", "name of one")+
			`]}`)
	}

	return config.Pipeline{
		Name:      "train",
		SrcFolder: filepath.Join(root, "src"),
		DataPath:  filepath.Join(root, "out"),
	}
}

func testRunner(log *zap.Logger) *Runner {
	r := NewDefaultRunner(log)
	r.NewRunID = func() string { return "run-test" }
	r.Now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	cfg := corpusTree(t, true)
	core, logs := observer.New(zap.InfoLevel)
	sum, err := testRunner(zap.New(core)).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "run-test", sum.RunID)
	assert.Equal(t, 1, sum.Schemas)
	assert.Equal(t, 1, sum.Ingest.Admitted)
	assert.Equal(t, 1, sum.Ingest.Conflicts)
	assert.Equal(t, map[string]int{ingest.ReasonColumnTypes: 1}, sum.Ingest.Rejected)
	assert.Equal(t, 1, sum.Ingest.ArtifactsCopied)
	assert.Equal(t, 1, sum.Ingest.ArtifactsSkipped)

	assert.Equal(t, 2, sum.Converted)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, map[string]int{convert.FailureUnknownDatabase: 1, convert.FailureDecompose: 1}, sum.Failures)
	assert.Equal(t, 1, logs.FilterMessage("run complete").Len())

	// registry: first definition of shop only
	var tables []map[string]any
	b, err := os.ReadFile(filepath.Join(cfg.DataPath, "tables.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &tables))
	require.Len(t, tables, 1)
	assert.Equal(t, "shop", tables[0]["db_id"])
	assert.Len(t, tables[0]["table_names_original"], 2)

	// artifacts: first copy wins
	art, err := os.ReadFile(filepath.Join(cfg.DataPath, "database", "shop.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(art))

	// gold lines pair 1:1 with records
	assert.Equal(t, filepath.Join(cfg.DataPath, "train_gold.sql"), sum.GoldPath)
	gold, err := os.ReadFile(sum.GoldPath)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t\tshop\nSELECT name FROM t WHERE id = 1\tshop\n", string(gold))

	var records []map[string]any
	b, err = os.ReadFile(sum.RecordsPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &records))
	require.Len(t, records, 2)
	assert.Equal(t, []any{"list", "all"}, records[0]["question_toks"])
	assert.Equal(t, "u-name of one", records[1]["utterance_id"])
	assert.NotNil(t, records[1]["sql"])
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := corpusTree(t, true)
	r := testRunner(nil)
	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	tablesPath := filepath.Join(cfg.DataPath, "tables.json")
	before, err := os.ReadFile(tablesPath)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Ingest.Admitted)
	assert.Equal(t, 0, sum.Ingest.ArtifactsCopied)
	assert.Equal(t, 2, sum.Ingest.ArtifactsSkipped)
	assert.Equal(t, 2, sum.Converted)

	after, err := os.ReadFile(tablesPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	entries, err := os.ReadDir(filepath.Join(cfg.DataPath, "database"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRun_MissingLabelFolderStillWritesOutputs(t *testing.T) {
	t.Parallel()

	cfg := corpusTree(t, false)
	sum, err := testRunner(nil).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Empty(t, sum.LabelRoot)
	assert.NotEmpty(t, sum.SourceRoot)
	assert.Equal(t, 1, sum.Schemas)
	assert.Zero(t, sum.Converted)

	b, err := os.ReadFile(sum.RecordsPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(b))
	gold, err := os.ReadFile(sum.GoldPath)
	require.NoError(t, err)
	assert.Empty(t, gold)
}

func TestRun_InMemoryViews(t *testing.T) {
	t.Parallel()

	cfg := corpusTree(t, true)
	off := false
	cfg.Runtime.RederiveFromDisk = &off
	cfg.Runtime.ConvertWorkers = 3

	sum, err := testRunner(nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Converted)
	assert.Equal(t, 2, sum.Failed)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		cfg := corpusTree(t, false)
		cfg.Name = "test"
		_, err := testRunner(nil).Run(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name")
	})

	t.Run("unreadable src folder", func(t *testing.T) {
		t.Parallel()
		cfg := corpusTree(t, false)
		cfg.SrcFolder = filepath.Join(cfg.SrcFolder, "does-not-exist")
		_, err := testRunner(nil).Run(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ingest")
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		cfg := corpusTree(t, true)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := testRunner(nil).Run(ctx, cfg)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRun_ExportSQLite(t *testing.T) {
	t.Parallel()

	cfg := corpusTree(t, true)
	cfg.Export = config.Export{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "corpus.db")}

	r := testRunner(nil)
	sum, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.ExportedSchemas)
	assert.Equal(t, int64(2), sum.ExportedRecords)

	sum, err = r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.ExportedSchemas, "schemas are first-writer-wins")
	assert.Equal(t, int64(2), sum.ExportedRecords, "the split is replaced")
}

type fakeSink struct {
	ensureErr error
	closed    int
	schemas   []storage.SchemaRow
	split     string
	records   []storage.RecordRow
}

func (s *fakeSink) Close() { s.closed++ }

func (s *fakeSink) EnsureTables(context.Context) error { return s.ensureErr }

func (s *fakeSink) InsertSchemas(_ context.Context, rows []storage.SchemaRow) (int64, error) {
	s.schemas = append(s.schemas, rows...)
	return int64(len(rows)), nil
}

func (s *fakeSink) ReplaceRecords(_ context.Context, split string, rows []storage.RecordRow) (int64, error) {
	s.split, s.records = split, rows
	return int64(len(rows)), nil
}

func TestRun_ExportUsesSinkSeam(t *testing.T) {
	t.Parallel()

	cfg := corpusTree(t, true)
	cfg.Name = "dev"
	cfg.Export = config.Export{Kind: "postgres", DSN: "postgres://example/corpus"}

	sink := &fakeSink{}
	var gotCfg storage.Config
	r := testRunner(nil)
	r.NewSink = func(_ context.Context, c storage.Config) (storage.Sink, error) {
		gotCfg = c
		return sink, nil
	}

	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Kind: "postgres", DSN: "postgres://example/corpus"}, gotCfg)
	assert.Equal(t, 1, sink.closed)
	require.Len(t, sink.schemas, 1)
	assert.Equal(t, "run-test", sink.schemas[0].RunID)
	assert.Equal(t, 4, sink.schemas[0].Columns)
	assert.Equal(t, "dev", sink.split)
	require.Len(t, sink.records, 2)
	assert.Equal(t, 1, sink.records[1].Seq)
	assert.Equal(t, "name of one", sink.records[1].Question)

	// Export failures are fatal but the outputs stay on disk.
	boom := errors.New("boom")
	sink2 := &fakeSink{ensureErr: boom}
	r.NewSink = func(context.Context, storage.Config) (storage.Sink, error) { return sink2, nil }
	sum, err := r.Run(context.Background(), cfg)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sink2.closed)
	_, statErr := os.Stat(sum.GoldPath)
	assert.NoError(t, statErr)
}
