// Package duckdb is the default analytical file store backend.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"

	"natality/internal/frame"
	"natality/internal/storage"
)

// maxParams keeps one INSERT at a size the parser handles quickly.
const maxParams = 20_000

var dialect = storage.Dialect{
	Name:        "duckdb",
	Quote:       storage.QuoteIdent,
	Placeholder: storage.QuestionMark,
	Types: storage.SQLTypes{
		frame.Uint8:    "UTINYINT",
		frame.Uint16:   "USMALLINT",
		frame.Uint32:   "UINTEGER",
		frame.Float32:  "FLOAT",
		frame.Float64:  "DOUBLE",
		frame.Category: "VARCHAR",
		frame.String:   "VARCHAR",
	},
	MaxParams: maxParams,
}

// Store builds the database in "<dsn>.tmp". Commit checkpoints, closes and
// renames it over the destination.
type Store struct {
	*storage.SQLStore
	target    storage.FileTarget
	committed bool
}

func init() {
	storage.Register("duckdb", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	target, err := storage.NewFileTarget(cfg.DSN)
	if err != nil {
		return nil, err
	}
	dsn := target.TempDSN()
	if target.InMemory() {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		target.Discard()
		return nil, err
	}
	return &Store{SQLStore: &storage.SQLStore{DB: db, Dialect: dialect}, target: target}, nil
}

func (s *Store) Commit(ctx context.Context) error {
	if s.committed {
		return nil
	}
	if !s.target.InMemory() {
		if _, err := s.DB.ExecContext(ctx, "CHECKPOINT"); err != nil {
			return fmt.Errorf("duckdb: checkpoint: %w", err)
		}
	}
	if err := s.DB.Close(); err != nil {
		s.target.Discard()
		return fmt.Errorf("duckdb: close: %w", err)
	}
	s.committed = true
	if err := s.target.Commit(); err != nil {
		s.target.Discard()
		return err
	}
	return nil
}

func (s *Store) Close() {
	if s.committed {
		return
	}
	_ = s.DB.Close()
	s.target.Discard()
	s.committed = true
}
