// Package ingest walks the source tree of a corpus drop: schema definitions
// found in JSON envelope files are admitted into the registry, and database
// artifacts (.sqlite, .sql) are copied into one flat artifact directory.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"nl2sql/internal/corpus"
	"nl2sql/internal/metrics"
	"nl2sql/internal/parser/envelope"
	"nl2sql/internal/registry"
	"nl2sql/internal/scan"
	"nl2sql/internal/schema"
	"nl2sql/internal/textenc"

	"go.uber.org/zap"
)

// Rejection reasons reported in Stats.Rejected.
const (
	ReasonColumnTypes    = "column_types_mismatch"
	ReasonTooManyColumns = "too_many_columns"
	ReasonAmbiguousTable = "ambiguous_table"
	ReasonNotSchema      = "not_schema"
	ReasonUndecodable    = "undecodable"
)

// Stats summarizes one ingest run.
type Stats struct {
	Files          int
	JSONFiles      int
	NotEnvelope    int
	MalformedFiles int

	Admitted   int
	Duplicates int
	Conflicts  int
	Rejected   map[string]int

	ArtifactsCopied  int
	ArtifactsSkipped int
}

// RejectedTotal sums Rejected over all reasons.
func (s Stats) RejectedTotal() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// Ingestor admits schemas and copies artifacts from one source tree.
type Ingestor struct {
	Registry *registry.Registry
	// ArtifactDir receives copied artifacts. It must exist.
	ArtifactDir string
	// Extensions are matched case-insensitively against file names,
	// e.g. ".sqlite", ".sql".
	Extensions []string
	Logger     *zap.Logger
}

// Run walks root and processes every file.
//
// Edge cases:
//   - JSON files that are not {"data": [...]} envelopes are skipped silently.
//   - Malformed or unreadable JSON files are logged at WARN and contribute
//     nothing.
//   - Elements are admitted as they are read, so a db_id admitted from one
//     file is already known when the next file is read.
//   - An artifact whose name already exists in ArtifactDir is not copied.
//
// Errors:
//   - Directory walk failures and artifact copy failures are returned; the
//     registry keeps whatever was admitted before the failure.
//   - ctx.Err() between files.
func (in *Ingestor) Run(ctx context.Context, root string) (Stats, error) {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}
	st := Stats{Rejected: make(map[string]int)}

	exts := make([]string, len(in.Extensions))
	for i, e := range in.Extensions {
		exts[i] = strings.ToLower(e)
	}

	for f, err := range scan.Walk(root) {
		if err != nil {
			return st, fmt.Errorf("ingest: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Files++

		switch ext := f.Ext(); {
		case ext == ".json":
			st.JSONFiles++
			in.ingestSchemas(ctx, log, f, &st)
		case slices.Contains(exts, ext):
			copied, err := CopyArtifact(f.Path(), filepath.Join(in.ArtifactDir, f.Name))
			if err != nil {
				return st, fmt.Errorf("ingest: %w", err)
			}
			if copied {
				st.ArtifactsCopied++
				metrics.Count(metrics.ArtifactsTotal, "copied")
				log.Debug("artifact copied", zap.String("file", f.Path()))
			} else {
				st.ArtifactsSkipped++
				metrics.Count(metrics.ArtifactsTotal, "skipped")
			}
		}
	}
	return st, nil
}

func (in *Ingestor) ingestSchemas(ctx context.Context, log *zap.Logger, f scan.File, st *Stats) {
	path := f.Path()
	b, err := textenc.ReadFile(path)
	if err != nil {
		st.MalformedFiles++
		log.Warn("unreadable schema file", zap.String("file", path), zap.Error(err))
		return
	}
	elems, err := envelope.ReadAll(ctx, b)
	if errors.Is(err, envelope.ErrNoData) {
		st.NotEnvelope++
		log.Debug("not an envelope file", zap.String("file", path))
		return
	}
	if err != nil {
		st.MalformedFiles++
		log.Warn("malformed schema file", zap.String("file", path), zap.Error(err))
		return
	}

	for i, raw := range elems {
		if string(raw) == "null" {
			in.reject(log, st, path, i, "", ReasonNotSchema, corpus.ErrNotSchema)
			continue
		}
		var s corpus.Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			reason := ReasonUndecodable
			if errors.Is(err, corpus.ErrNotSchema) {
				reason = ReasonNotSchema
			}
			in.reject(log, st, path, i, "", reason, err)
			continue
		}

		out, err := in.Registry.Admit(s)
		switch out {
		case registry.Admitted:
			st.Admitted++
			log.Debug("schema admitted", zap.String("db_id", s.DBID), zap.String("file", path))
		case registry.Duplicate:
			st.Duplicates++
		case registry.Conflict:
			st.Conflicts++
		case registry.Rejected:
			in.reject(log, st, path, i, s.DBID, rejectReason(err), err)
			continue
		}
		metrics.Count(metrics.SchemasTotal, out.String())
	}
}

func (in *Ingestor) reject(log *zap.Logger, st *Stats, path string, index int, dbID, reason string, err error) {
	st.Rejected[reason]++
	metrics.Count(metrics.SchemasTotal, "rejected")
	log.Debug("schema rejected",
		zap.String("file", path),
		zap.Int("index", index),
		zap.String("db_id", dbID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, schema.ErrColumnTypesMismatch):
		return ReasonColumnTypes
	case errors.Is(err, schema.ErrTooManyColumns):
		return ReasonTooManyColumns
	case errors.Is(err, schema.ErrAmbiguousTable):
		return ReasonAmbiguousTable
	default:
		return ReasonUndecodable
	}
}

// CopyArtifact copies src to dst unless dst already exists. The existence
// check and the create are one O_EXCL open, so concurrent copies of the same
// name leave exactly one winner. Mode and modification time are preserved.
//
// A partially written dst is removed on failure.
func CopyArtifact(src, dst string) (copied bool, err error) {
	in, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("open artifact %s: %w", src, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return false, fmt.Errorf("stat artifact %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fi.Mode().Perm())
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create artifact %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return false, fmt.Errorf("copy artifact %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return false, fmt.Errorf("close artifact %s: %w", dst, err)
	}
	if err := os.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return true, fmt.Errorf("chtimes artifact %s: %w", dst, err)
	}
	return true, nil
}
