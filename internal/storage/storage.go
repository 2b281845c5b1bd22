// Package storage is the optional export sink of a pipeline run: admitted
// schemas and converted records are copied into a relational database after
// the output files are written.
//
// Backends live in subpackages and register themselves by kind from init();
// import internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Sink.
//
// When to use:
//   - Use Config when constructing a Sink via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - New returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// Sink is the backend-agnostic export interface.
//
// Each backend implements these semantics in its own idiomatic way (Postgres
// ON CONFLICT, SQLite OR IGNORE, SQL Server NOT EXISTS).
type Sink interface {
	// Close releases any backend resources (connections, pools).
	//
	// When to use:
	//   - Always call Close when you are done with the sink to avoid leaks.
	//
	// Edge cases:
	//   - Callers should treat Close as "call once".
	Close()

	// EnsureTables creates the export tables if they do not exist.
	EnsureTables(ctx context.Context) error

	// InsertSchemas inserts schema rows whose db_id is not stored yet.
	// Existing rows are left untouched (first writer wins, like the registry).
	// It returns the number of rows inserted.
	InsertSchemas(ctx context.Context, rows []SchemaRow) (int64, error)

	// ReplaceRecords deletes every stored record of split and inserts rows,
	// in one transaction. It returns the number of rows inserted.
	ReplaceRecords(ctx context.Context, split string, rows []RecordRow) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Sink using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
