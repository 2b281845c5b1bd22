package pipeline

import (
	"context"
	"fmt"
	"time"

	"nl2sql/internal/config"
	"nl2sql/internal/convert"
	"nl2sql/internal/registry"
	"nl2sql/internal/storage"
)

// export copies the registry and the converted split into the configured
// sink. It does NOT import any backend packages; cmd/nl2sql links them.
func (r *Runner) export(ctx context.Context, cfg config.Pipeline, reg *registry.Registry, res convert.Result, runID string, at time.Time) (schemas, records int64, err error) {
	newSink := r.NewSink
	if newSink == nil {
		newSink = storage.New
	}

	sink, err := newSink(ctx, storage.Config{Kind: cfg.Export.Kind, DSN: cfg.Export.DSN})
	if err != nil {
		return 0, 0, fmt.Errorf("new sink (kind=%s): %w", cfg.Export.Kind, err)
	}
	defer sink.Close()

	if err := sink.EnsureTables(ctx); err != nil {
		return 0, 0, err
	}

	schemaRows, err := storage.SchemaRows(reg.Schemas(), runID, at)
	if err != nil {
		return 0, 0, err
	}
	if schemas, err = sink.InsertSchemas(ctx, schemaRows); err != nil {
		return 0, 0, fmt.Errorf("insert schemas: %w", err)
	}

	recordRows, err := storage.RecordRows(res.Records, cfg.Name, runID)
	if err != nil {
		return schemas, 0, err
	}
	if records, err = sink.ReplaceRecords(ctx, cfg.Name, recordRows); err != nil {
		return schemas, 0, fmt.Errorf("replace records: %w", err)
	}
	return schemas, records, nil
}
