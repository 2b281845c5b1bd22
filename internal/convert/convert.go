// Package convert turns raw label records into canonical records and gold
// lines by decomposing each record's SQL against its database's idMap.
//
// Every per-record problem is a counted failure, never an error: the label
// corpus is vendor-produced and routinely contains SQL the decomposer cannot
// handle. Failures are typed so logs and statistics can tell them apart.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"nl2sql/internal/corpus"
	"nl2sql/internal/decompose"
	"nl2sql/internal/metrics"
	"nl2sql/internal/registry"
	"nl2sql/internal/schema"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Failure kinds reported in Result.Failures.
const (
	FailureUnknownDatabase = "unknown_database"
	FailureDecompose       = "decompose"
	FailureInvalidRecord   = "invalid_record"
)

var (
	// ErrUnknownDatabase: the record's db_id has no admitted schema.
	ErrUnknownDatabase = errors.New("convert: unknown database")

	// ErrInvalidRecord: the element is not a record object or lacks a
	// required field.
	ErrInvalidRecord = errors.New("convert: invalid record")
)

// DecomposeError wraps a decomposer failure, including a recovered panic.
type DecomposeError struct {
	DBID  string
	Query string
	Err   error
}

func (e *DecomposeError) Error() string {
	return fmt.Sprintf("convert: decompose %s: %v", e.DBID, e.Err)
}

func (e *DecomposeError) Unwrap() error { return e.Err }

// FailureKind classifies err into one of the Failure* kinds.
func FailureKind(err error) string {
	var de *DecomposeError
	switch {
	case errors.Is(err, ErrUnknownDatabase):
		return FailureUnknownDatabase
	case errors.As(err, &de):
		return FailureDecompose
	default:
		return FailureInvalidRecord
	}
}

// Result is the outcome of one conversion run. Records and their gold lines
// are in input order.
type Result struct {
	Records  []corpus.Record
	Failed   int
	Failures map[string]int
}

// Gold returns the gold lines of r.Records, in order.
func (r Result) Gold() []corpus.GoldLine {
	out := make([]corpus.GoldLine, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Gold()
	}
	return out
}

// Converter converts label records against a set of schema definitions.
type Converter struct {
	Definitions registry.Definitions
	// Decomposer defaults to decompose.Spider.
	Decomposer decompose.Decomposer
	// Workers > 1 converts records in parallel; output order is unchanged.
	Workers int
	Logger  *zap.Logger

	once    sync.Once
	mu      sync.Mutex
	mappers map[string]mapperEntry
}

type mapperEntry struct {
	m   *schema.Mapper
	err error
}

func (c *Converter) init() {
	c.once.Do(func() {
		if c.Decomposer == nil {
			c.Decomposer = decompose.Spider{}
		}
		if c.Logger == nil {
			c.Logger = zap.NewNop()
		}
		c.mappers = make(map[string]mapperEntry)
	})
}

// mapper returns the idMap of dbID, built once per Converter.
func (c *Converter) mapper(def *registry.Definition) (*schema.Mapper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := def.Schema.DBID
	if e, ok := c.mappers[id]; ok {
		return e.m, e.err
	}
	m, err := def.Mapper()
	c.mappers[id] = mapperEntry{m: m, err: err}
	return m, err
}

// ConvertOne converts a single raw label element.
//
// Errors:
//   - ErrInvalidRecord (wrapped) for non-object elements and missing fields.
//   - ErrUnknownDatabase (wrapped) when db_id is not in Definitions.
//   - *DecomposeError when the idMap cannot be built or the decomposer
//     fails or panics.
func (c *Converter) ConvertOne(raw json.RawMessage) (corpus.Record, error) {
	c.init()

	var rr corpus.RawRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return corpus.Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rr.DBID == "" {
		return corpus.Record{}, fmt.Errorf("%w: no db_id", ErrInvalidRecord)
	}

	def, ok := c.Definitions[rr.DBID]
	if !ok {
		return corpus.Record{}, fmt.Errorf("%w: %s", ErrUnknownDatabase, rr.DBID)
	}
	if err := rr.Validate(); err != nil {
		return corpus.Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	m, err := c.mapper(def)
	if err != nil {
		return corpus.Record{}, &DecomposeError{DBID: rr.DBID, Query: rr.Query, Err: err}
	}
	tree, err := c.decompose(def.View, m, rr.Query)
	if err != nil {
		return corpus.Record{}, &DecomposeError{DBID: rr.DBID, Query: rr.Query, Err: err}
	}
	return corpus.NewRecord(rr, tree), nil
}

func (c *Converter) decompose(view schema.View, m *schema.Mapper, sql string) (q *decompose.Query, err error) {
	defer func() {
		if r := recover(); r != nil {
			q, err = nil, fmt.Errorf("decomposer panic: %v", r)
		}
	}()
	q, err = c.Decomposer.Decompose(view, m, sql)
	if err == nil && q == nil {
		err = errors.New("decomposer returned no tree")
	}
	return q, err
}

type outcome struct {
	rec corpus.Record
	err error
}

// Convert converts items and merges the results back into input order.
//
// Errors:
//   - ctx.Err() when ctx is canceled; per-record failures never abort.
func (c *Converter) Convert(ctx context.Context, items []Item) (Result, error) {
	c.init()
	outs := make([]outcome, len(items))

	convertAt := func(i int) {
		rec, err := c.ConvertOne(items[i].Raw)
		outs[i] = outcome{rec: rec, err: err}
	}

	if c.Workers <= 1 {
		for i := range items {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			convertAt(i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.Workers)
		for i := range items {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				convertAt(i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	res := Result{Records: make([]corpus.Record, 0, len(items)), Failures: make(map[string]int)}
	for i, o := range outs {
		if o.err != nil {
			kind := FailureKind(o.err)
			res.Failed++
			res.Failures[kind]++
			metrics.Count(metrics.RecordsTotal, kind)
			c.Logger.Debug("record dropped",
				zap.String("file", items[i].File),
				zap.Int("index", items[i].Index),
				zap.String("reason", kind),
				zap.Error(o.err),
			)
			continue
		}
		res.Records = append(res.Records, o.rec)
		metrics.Count(metrics.RecordsTotal, "converted")
	}
	return res, nil
}
