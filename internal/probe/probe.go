// Package probe samples a corpus drop before a conversion run.
//
// The probe package is responsible for:
//   - Listing the children of the drop root and which keyword set each matches
//   - Sampling a bounded number of JSON files under the source and label trees
//   - Classifying envelope elements as schema-shaped or record-shaped
//   - Predicting unknown-database drops (label db_ids with no sampled schema)
//   - Generating a starter config.Pipeline for the drop
//
// All inference is best-effort: unreadable or malformed files are counted,
// never fatal. Only an unreadable drop root is an error.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"nl2sql/internal/config"
	"nl2sql/internal/parser/envelope"
	"nl2sql/internal/scan"
	"nl2sql/internal/textenc"
)

// DefaultMaxFiles bounds the JSON files sampled per tree.
const DefaultMaxFiles = 200

// Options control the sampling.
type Options struct {
	SrcFolder string
	// SourceKeywords and LabelKeywords default to the config defaults.
	SourceKeywords []string
	LabelKeywords  []string
	// MaxFiles <= 0 means DefaultMaxFiles.
	MaxFiles int
	Logger   *zap.Logger
}

// Child is one immediate child of the drop root.
type Child struct {
	Name   string
	Dir    bool
	Source bool // matches a source keyword
	Label  bool // matches a label keyword
}

// TreeSample summarizes the sampled part of one tree.
type TreeSample struct {
	Root string

	Files          int
	JSONFiles      int
	SampledFiles   int
	NotEnvelope    int
	MalformedFiles int
	Capped         bool // more JSON files than MaxFiles

	Elements int
	Schemas  int // elements with db_id and column_names_original
	Records  int // elements with db_id, query and utterance

	DBIDs      []string       // distinct db_ids of the shaped elements, sorted
	Extensions map[string]int // non-JSON files by lower-cased extension
}

// Result is the outcome of Probe.
type Result struct {
	SrcFolder string
	Children  []Child

	Source *TreeSample // nil when no source folder matched
	Label  *TreeSample // nil when no label folder matched

	// UnknownDBIDs are label db_ids absent from the sampled schemas. With a
	// capped source sample this over-reports.
	UnknownDBIDs []string

	Pipeline config.Pipeline
}

// Probe inspects opt.SrcFolder.
//
// Errors:
//   - The drop root cannot be read.
//   - ctx.Err() between files.
func Probe(ctx context.Context, opt Options) (Result, error) {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	srcKW := opt.SourceKeywords
	if len(srcKW) == 0 {
		srcKW = config.DefaultSourceKeywords
	}
	lblKW := opt.LabelKeywords
	if len(lblKW) == 0 {
		lblKW = config.DefaultLabelKeywords
	}
	maxFiles := opt.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	res := Result{SrcFolder: opt.SrcFolder}
	entries, err := os.ReadDir(opt.SrcFolder)
	if err != nil {
		return res, fmt.Errorf("probe: read %s: %w", opt.SrcFolder, err)
	}
	for _, e := range entries {
		name := textenc.NFC(e.Name())
		res.Children = append(res.Children, Child{
			Name:   e.Name(),
			Dir:    e.IsDir(),
			Source: containsAny(name, srcKW),
			Label:  containsAny(name, lblKW),
		})
	}

	p := config.Pipeline{SrcFolder: opt.SrcFolder}

	if root, found, err := scan.FindRoot(opt.SrcFolder, srcKW); err != nil {
		return res, err
	} else if found {
		if res.Source, err = sampleTree(ctx, log, root, maxFiles); err != nil {
			return res, err
		}
		p.Keywords.Source = []string{textenc.NFC(filepath.Base(root))}
		p.Artifacts.Extensions = artifactExtensions(res.Source.Extensions)
	}
	if root, found, err := scan.FindRoot(opt.SrcFolder, lblKW); err != nil {
		return res, err
	} else if found {
		if res.Label, err = sampleTree(ctx, log, root, maxFiles); err != nil {
			return res, err
		}
		p.Keywords.Label = []string{textenc.NFC(filepath.Base(root))}
	}

	if res.Label != nil {
		known := map[string]bool{}
		if res.Source != nil {
			for _, id := range res.Source.DBIDs {
				known[id] = true
			}
		}
		for _, id := range res.Label.DBIDs {
			if !known[id] {
				res.UnknownDBIDs = append(res.UnknownDBIDs, id)
			}
		}
	}

	res.Pipeline = config.Normalize(p)
	return res, nil
}

func sampleTree(ctx context.Context, log *zap.Logger, root string, maxFiles int) (*TreeSample, error) {
	ts := &TreeSample{Root: root, Extensions: map[string]int{}}
	ids := map[string]bool{}

	for f, err := range scan.Walk(root) {
		if err != nil {
			log.Warn("probe: walk error", zap.Error(err))
			continue
		}
		if err := ctx.Err(); err != nil {
			return ts, err
		}
		ts.Files++

		ext := f.Ext()
		if ext != ".json" {
			ts.Extensions[ext]++
			continue
		}
		ts.JSONFiles++
		if ts.SampledFiles >= maxFiles {
			ts.Capped = true
			continue
		}
		ts.SampledFiles++

		b, err := textenc.ReadFile(f.Path())
		if err != nil {
			ts.MalformedFiles++
			continue
		}
		elems, err := envelope.ReadAll(ctx, b)
		switch {
		case errors.Is(err, envelope.ErrNoData):
			ts.NotEnvelope++
			continue
		case ctx.Err() != nil:
			return ts, ctx.Err()
		case err != nil:
			ts.MalformedFiles++
			log.Debug("probe: malformed file", zap.String("file", f.Path()), zap.Error(err))
			continue
		}

		for _, raw := range elems {
			ts.Elements++
			shape, id := classify(raw)
			switch shape {
			case shapeSchema:
				ts.Schemas++
			case shapeRecord:
				ts.Records++
			default:
				continue
			}
			if id != "" {
				ids[id] = true
			}
		}
	}

	for id := range ids {
		ts.DBIDs = append(ts.DBIDs, id)
	}
	sort.Strings(ts.DBIDs)
	return ts, nil
}

type shape int

const (
	shapeOther shape = iota
	shapeSchema
	shapeRecord
)

// classify looks at the keys of one element. db_id is read as text whatever
// its JSON type.
func classify(raw json.RawMessage) (shape, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return shapeOther, ""
	}
	rawID, ok := fields["db_id"]
	if !ok {
		return shapeOther, ""
	}
	id := scalarText(rawID)

	_, hasColumns := fields["column_names_original"]
	_, hasQuery := fields["query"]
	_, hasUtterance := fields["utterance"]
	switch {
	case hasColumns:
		return shapeSchema, id
	case hasQuery && hasUtterance:
		return shapeRecord, id
	default:
		return shapeOther, id
	}
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	t := strings.TrimSpace(string(raw))
	if t == "null" {
		return ""
	}
	return t
}

// artifactExtensions keeps the default artifact extensions that occur in
// the sample. It returns nil (use the defaults) when none occur.
func artifactExtensions(seen map[string]int) []string {
	var out []string
	for _, ext := range config.DefaultExtensions {
		if seen[ext] > 0 {
			out = append(out, ext)
		}
	}
	return out
}

func containsAny(name string, keywords []string) bool {
	for _, k := range keywords {
		if k = textenc.NFC(k); k != "" && strings.Contains(name, k) {
			return true
		}
	}
	return false
}
