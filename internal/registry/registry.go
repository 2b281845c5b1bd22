// Package registry holds the deduplicated set of database schemas known to a
// conversion run, keyed by db_id.
//
// The registry is append-only: the first definition admitted for a db_id wins
// and later definitions are ignored, whatever their content. It is loaded
// from and persisted to a single JSON array file (tables.json).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"nl2sql/internal/corpus"
	"nl2sql/internal/schema"
	"nl2sql/internal/textenc"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// Outcome is the result of Admit.
type Outcome int

const (
	// Admitted: db_id was new and the definition passed schema.Check.
	Admitted Outcome = iota
	// Duplicate: db_id was already known with an identical definition.
	Duplicate
	// Conflict: db_id was already known with a different definition. The
	// definition is ignored like a Duplicate.
	Conflict
	// Rejected: db_id was new but the definition failed schema.Check.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case Conflict:
		return "conflict"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures a Registry.
type Options struct {
	// MaxColumns is passed to schema.Check. <= 0 means schema.DefaultMaxColumns.
	MaxColumns int
	Logger     *zap.Logger
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	schemas []corpus.Schema
	index   map[string]int
	prints  map[string][2]uint64

	// entries is the persisted order: decoded schemas and the loaded
	// elements kept verbatim because they did not decode or repeat a db_id.
	entries []entry
	opaque  map[string]bool // db_ids only seen in verbatim elements

	maxColumns int
	log        *zap.Logger
}

// New returns an empty registry.
func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		index:      make(map[string]int),
		prints:     make(map[string][2]uint64),
		opaque:     make(map[string]bool),
		maxColumns: opts.MaxColumns,
		log:        log,
	}
}

// Load reads the registry file at path.
//
// Edge cases:
//   - A missing file yields an empty registry.
//   - A malformed file is logged at WARN and yields an empty registry.
//   - Elements that fail to decode are logged and kept verbatim: Persist
//     writes them back unchanged and in place. Their db_id, when readable,
//     counts as known so later definitions cannot replace them.
//   - Repeated db_ids inside the file keep their first occurrence for
//     lookups; the repeats are kept verbatim too.
//
// Loaded definitions are trusted and not re-checked.
//
// Errors:
//   - Only I/O errors other than "not exist" are returned.
func Load(path string, opts Options) (*Registry, error) {
	r := New(opts)

	b, err := textenc.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(b, &elems); err != nil {
		r.log.Warn("registry file is malformed; starting empty", zap.String("path", path), zap.Error(err))
		return r, nil
	}
	for i, raw := range elems {
		var s corpus.Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			r.log.Warn("keeping undecodable registry element as is", zap.String("path", path), zap.Int("index", i), zap.Error(err))
			r.keep(raw)
			continue
		}
		if r.known(s.DBID) {
			r.log.Debug("repeated db_id in registry file", zap.String("path", path), zap.String("db_id", s.DBID))
			r.keep(raw)
			continue
		}
		r.add(s)
	}
	r.log.Debug("registry loaded", zap.String("path", path), zap.Int("schemas", len(r.schemas)))
	return r, nil
}

type entry struct {
	schema int // index into schemas, or -1
	raw    json.RawMessage
}

func (r *Registry) add(s corpus.Schema) {
	r.entries = append(r.entries, entry{schema: len(r.schemas)})
	r.index[s.DBID] = len(r.schemas)
	r.schemas = append(r.schemas, s)
	r.prints[s.DBID] = fingerprint(s)
}

func (r *Registry) keep(raw json.RawMessage) {
	r.entries = append(r.entries, entry{schema: -1, raw: raw})
	if id, ok := rawDBID(raw); ok && !r.known(id) {
		r.opaque[id] = true
	}
}

func (r *Registry) known(id string) bool {
	_, ok := r.index[id]
	return ok || r.opaque[id]
}

// rawDBID reads db_id from an element that did not decode as a schema.
func rawDBID(raw json.RawMessage) (string, bool) {
	var head struct {
		DBID json.RawMessage `json:"db_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || len(head.DBID) == 0 {
		return "", false
	}
	var id string
	if err := json.Unmarshal(head.DBID, &id); err == nil {
		return id, true
	}
	var n json.Number
	if err := json.Unmarshal(head.DBID, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Known reports whether db_id has been admitted or loaded, including db_ids
// of elements kept verbatim.
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known(id)
}

// Kept returns the number of loaded elements kept verbatim.
func (r *Registry) Kept() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) - len(r.schemas)
}

// IDs returns the known db_ids in admission order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.schemas))
	for i, s := range r.schemas {
		out[i] = s.DBID
	}
	return out
}

// Len returns the number of known schemas.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.schemas)
}

// Get returns the definition of db_id.
func (r *Registry) Get(id string) (corpus.Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return corpus.Schema{}, false
	}
	return r.schemas[i], true
}

// Schemas returns a copy of the accepted sequence in admission order.
func (r *Registry) Schemas() []corpus.Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]corpus.Schema(nil), r.schemas...)
}

// Admit adds s unless its db_id is already known. The check and the insert
// happen under one lock, so concurrent callers keep first-writer-wins.
//
// The returned error is the schema.Check failure for Rejected and nil
// otherwise.
func (r *Registry) Admit(s corpus.Schema) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opaque[s.DBID] {
		r.log.Debug("db_id held by an undecodable registry element", zap.String("db_id", s.DBID))
		return Duplicate, nil
	}
	if _, ok := r.index[s.DBID]; ok {
		if fingerprint(s) != r.prints[s.DBID] {
			r.log.Info("conflicting definition ignored", zap.String("db_id", s.DBID))
			return Conflict, nil
		}
		return Duplicate, nil
	}
	if err := schema.Check(&s, r.maxColumns); err != nil {
		return Rejected, err
	}
	r.add(s)
	return Admitted, nil
}

// Persist writes the registry to path as an indented JSON array: loaded
// elements in file order (verbatim ones unchanged), then admitted schemas.
// The file is replaced atomically via a temp file in the same directory.
func (r *Registry) Persist(path string) error {
	r.mu.Lock()
	out := make([]any, len(r.entries))
	for i, e := range r.entries {
		if e.schema < 0 {
			out[i] = e.raw
		} else {
			out[i] = r.schemas[e.schema]
		}
	}
	r.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tables-*.json")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := corpus.WriteJSON(tmp, out); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("registry: rename to %s: %w", path, err)
	}
	r.log.Debug("registry persisted", zap.String("path", path), zap.Int("entries", len(out)))
	return nil
}

// fingerprint hashes the canonical encoding of s. Schema.MarshalJSON sorts
// keys, so equal content hashes equal regardless of source key order.
func fingerprint(s corpus.Schema) [2]uint64 {
	b, err := corpus.Marshal(s)
	if err != nil {
		return [2]uint64{}
	}
	h := murmur3.New128()
	h.Write(b)
	h1, h2 := h.Sum128()
	return [2]uint64{h1, h2}
}

// Definition is one schema with its simplified view.
type Definition struct {
	Schema corpus.Schema
	View   schema.View
}

// Mapper builds a fresh idMap for the definition.
func (d *Definition) Mapper() (*schema.Mapper, error) {
	return schema.NewMapper(&d.Schema)
}

// Definitions indexes derived views by db_id.
type Definitions map[string]*Definition

// IDs returns the db_ids, sorted.
func (d Definitions) IDs() []string {
	out := make([]string, 0, len(d))
	for id := range d {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DeriveViews derives Definitions from the in-memory registry.
func (r *Registry) DeriveViews() Definitions {
	return derive(r.Schemas())
}

// LoadViews re-reads the persisted registry at path and derives Definitions
// from it, so the views match what is on disk.
func LoadViews(path string, opts Options) (Definitions, error) {
	r, err := Load(path, opts)
	if err != nil {
		return nil, err
	}
	return r.DeriveViews(), nil
}

func derive(schemas []corpus.Schema) Definitions {
	out := make(Definitions, len(schemas))
	for i := range schemas {
		s := schemas[i]
		out[s.DBID] = &Definition{Schema: s, View: schema.NewView(&s)}
	}
	return out
}
