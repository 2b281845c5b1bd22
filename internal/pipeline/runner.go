// Package pipeline sequences one corpus conversion run: registry load,
// schema ingest, registry persist, view derivation, label collection,
// record conversion, output files and the optional export.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nl2sql/internal/config"
	"nl2sql/internal/convert"
	"nl2sql/internal/decompose"
	"nl2sql/internal/ingest"
	"nl2sql/internal/metrics"
	"nl2sql/internal/registry"
	"nl2sql/internal/scan"
	"nl2sql/internal/storage"
)

// Runner executes pipeline runs. The function fields are seams for tests.
type Runner struct {
	// storage-agnostic factory seam
	NewSink func(ctx context.Context, cfg storage.Config) (storage.Sink, error)

	// Decomposer is passed to the converter; nil means decompose.Spider.
	Decomposer decompose.Decomposer

	Logger   *zap.Logger
	Now      func() time.Time
	NewRunID func() string
}

func NewDefaultRunner(log *zap.Logger) *Runner {
	return &Runner{
		NewSink:  storage.New,
		Logger:   log,
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

// Summary reports what one run did.
type Summary struct {
	RunID string

	SourceRoot string // empty when no source folder matched
	LabelRoot  string // empty when no label folder matched

	Ingest ingest.Stats
	Labels convert.Collection

	Schemas   int
	Converted int
	Failed    int
	Failures  map[string]int

	RecordsPath string
	GoldPath    string

	ExportedSchemas int64
	ExportedRecords int64
}

// Run executes the steps in order with no retries and no rollback. A missing
// source or label folder skips the matching step; the outputs are still
// written.
//
// Errors:
//   - Invalid configuration.
//   - Filesystem failures (unreadable source folder, unwritable outputs).
//   - Export failures; the output files are already on disk by then.
//   - ctx.Err().
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (Summary, error) {
	cfg = config.Normalize(cfg)
	if issues := config.ValidatePipeline(cfg); config.HasErrors(issues) {
		return Summary{}, fmt.Errorf("invalid config: %s", joinIssues(issues))
	}

	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	newRunID := r.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}
	runID := newRunID()
	log = log.With(zap.String("run_id", runID), zap.String("split", cfg.Name))

	sum := Summary{RunID: runID}
	regOpts := registry.Options{MaxColumns: cfg.Schema.MaxColumns, Logger: log}
	tablesPath := cfg.TablesPath()

	// 1) registry
	var reg *registry.Registry
	err := step("load_registry", func() error {
		var err error
		reg, err = registry.Load(tablesPath, regOpts)
		return err
	})
	if err != nil {
		return sum, err
	}
	log.Info("registry loaded", zap.String("path", tablesPath), zap.Int("schemas", reg.Len()), zap.Int("kept_verbatim", reg.Kept()))

	// 2) source tree
	err = step("ingest", func() error {
		root, found, err := scan.FindRoot(cfg.SrcFolder, cfg.Keywords.Source)
		if err != nil {
			return err
		}
		if !found {
			log.Info("no source folder; ingest skipped", zap.String("src_folder", cfg.SrcFolder))
			return nil
		}
		sum.SourceRoot = root

		dir := cfg.ArtifactDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		in := &ingest.Ingestor{
			Registry:    reg,
			ArtifactDir: dir,
			Extensions:  cfg.Artifacts.Extensions,
			Logger:      log,
		}
		sum.Ingest, err = in.Run(ctx, root)
		return err
	})
	if err != nil {
		return sum, err
	}
	if sum.SourceRoot != "" {
		st := sum.Ingest
		log.Info("ingest done",
			zap.String("root", sum.SourceRoot),
			zap.Int("files", st.Files),
			zap.Int("admitted", st.Admitted),
			zap.Int("duplicates", st.Duplicates),
			zap.Int("conflicts", st.Conflicts),
			zap.Int("rejected", st.RejectedTotal()),
			zap.Int("artifacts_copied", st.ArtifactsCopied),
			zap.Int("artifacts_skipped", st.ArtifactsSkipped),
		)
	}

	// 3) persist
	if err := step("persist_registry", func() error { return reg.Persist(tablesPath) }); err != nil {
		return sum, err
	}

	// 4) views
	var defs registry.Definitions
	err = step("derive_views", func() error {
		if !cfg.Runtime.Rederive() {
			defs = reg.DeriveViews()
			return nil
		}
		var err error
		defs, err = registry.LoadViews(tablesPath, regOpts)
		return err
	})
	if err != nil {
		return sum, err
	}
	sum.Schemas = len(defs)

	// 5) label tree
	err = step("collect_labels", func() error {
		root, found, err := scan.FindRoot(cfg.SrcFolder, cfg.Keywords.Label)
		if err != nil {
			return err
		}
		if !found {
			log.Info("no label folder; conversion skipped", zap.String("src_folder", cfg.SrcFolder))
			return nil
		}
		sum.LabelRoot = root
		sum.Labels, err = convert.Collect(ctx, root, log)
		return err
	})
	if err != nil {
		return sum, err
	}

	// 6) convert
	var res convert.Result
	err = step("convert", func() error {
		c := &convert.Converter{
			Definitions: defs,
			Decomposer:  r.Decomposer,
			Workers:     cfg.Runtime.ConvertWorkers,
			Logger:      log,
		}
		var err error
		res, err = c.Convert(ctx, sum.Labels.Items)
		return err
	})
	if err != nil {
		return sum, err
	}
	sum.Converted = len(res.Records)
	sum.Failed = res.Failed
	sum.Failures = res.Failures

	// 7) outputs
	sum.RecordsPath, sum.GoldPath = cfg.OutputFiles()
	err = step("write_outputs", func() error {
		return writeOutputs(sum.RecordsPath, sum.GoldPath, res)
	})
	if err != nil {
		return sum, err
	}

	// 8) export
	if cfg.Export.Enabled() {
		err = step("export", func() error {
			var err error
			sum.ExportedSchemas, sum.ExportedRecords, err = r.export(ctx, cfg, reg, res, runID, now())
			return err
		})
		if err != nil {
			return sum, err
		}
		log.Info("export done",
			zap.String("kind", cfg.Export.Kind),
			zap.Int64("schemas", sum.ExportedSchemas),
			zap.Int64("records", sum.ExportedRecords),
		)
	}

	log.Info("run complete",
		zap.Int("schemas", sum.Schemas),
		zap.Int("converted", sum.Converted),
		zap.Int("failed", sum.Failed),
		zap.Any("failures", sum.Failures),
		zap.String("records", sum.RecordsPath),
		zap.String("gold", sum.GoldPath),
	)
	return sum, nil
}

// step runs fn and records its duration under name.
func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
		err = fmt.Errorf("%s: %w", name, err)
	}
	metrics.ObserveStep(name, status, start)
	return err
}

func joinIssues(issues []config.Issue) string {
	var msgs []string
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
