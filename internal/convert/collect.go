package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nl2sql/internal/parser/envelope"
	"nl2sql/internal/scan"
	"nl2sql/internal/textenc"

	"go.uber.org/zap"
)

// Item is one element of a label envelope, tagged with where it came from.
type Item struct {
	File  string
	Index int
	Raw   json.RawMessage
}

// Collection is the materialized label corpus.
type Collection struct {
	Items []Item

	Files          int
	JSONFiles      int
	NotEnvelope    int
	MalformedFiles int
}

// Collect walks root and gathers the elements of every {"data": [...]} file,
// in traversal order and, within a file, element order.
//
// Edge cases:
//   - JSON files without a data array are skipped silently.
//   - Malformed or unreadable JSON files are logged at WARN and contribute
//     nothing.
//
// Errors:
//   - Directory walk failures and ctx.Err() are returned.
func Collect(ctx context.Context, root string, log *zap.Logger) (Collection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var c Collection

	for f, err := range scan.Walk(root) {
		if err != nil {
			return c, fmt.Errorf("collect labels: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return c, err
		}
		c.Files++
		if f.Ext() != ".json" {
			continue
		}
		c.JSONFiles++

		path := f.Path()
		b, err := textenc.ReadFile(path)
		if err != nil {
			c.MalformedFiles++
			log.Warn("unreadable label file", zap.String("file", path), zap.Error(err))
			continue
		}
		elems, err := envelope.ReadAll(ctx, b)
		switch {
		case errors.Is(err, envelope.ErrNoData):
			c.NotEnvelope++
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return c, err
		case err != nil:
			c.MalformedFiles++
			log.Warn("malformed label file", zap.String("file", path), zap.Error(err))
			continue
		}
		for i, raw := range elems {
			c.Items = append(c.Items, Item{File: path, Index: i, Raw: raw})
		}
	}
	return c, nil
}
