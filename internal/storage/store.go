// Package storage is the Store Writer's backend-agnostic surface: a small
// Store interface, a registry of backend factories keyed by kind, and the
// table specs and batching helpers shared by every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// When to use:
//   - Use Config when constructing a Store via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory. File-backed backends
//     (sqlite, duckdb) treat it as the destination file path.
//
// Errors:
//   - New returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// Store is the destination of one rebuild.
//
// A run calls CreateTable for every table it writes, InsertRows any number
// of times, then Commit. Closing a Store that was not committed discards
// what was written: file-backed stores never touch the destination file
// before Commit, server stores leave whatever tables were created.
type Store interface {
	// CreateTable drops the table if it exists and creates it from spec.
	//
	// Edge cases:
	//   - spec.Columns must be non-empty; column order is preserved.
	CreateTable(ctx context.Context, spec TableSpec) error

	// InsertRows appends rows to table. Each row holds one value per column
	// in columns order; nil is NULL. One call is one transaction.
	//
	// Errors:
	//   - Returns the number of rows written before the failure.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Commit makes the rebuild visible. For file-backed stores this
	// replaces the destination file.
	Commit(ctx context.Context) error

	// Close releases connections. Call once, on every exit path.
	Close()
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "duckdb", "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The kind string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
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

// New opens a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
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
