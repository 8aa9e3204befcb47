// Package sqlite is the pure-Go file store backend (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"natality/internal/frame"
	"natality/internal/storage"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER of the bundled engine.
const maxParams = 32766

var dialect = storage.Dialect{
	Name:        "sqlite",
	Quote:       storage.QuoteIdent,
	Placeholder: storage.QuestionMark,
	Types: storage.SQLTypes{
		frame.Uint8:    "INTEGER",
		frame.Uint16:   "INTEGER",
		frame.Uint32:   "INTEGER",
		frame.Float32:  "REAL",
		frame.Float64:  "REAL",
		frame.Category: "TEXT",
		frame.String:   "TEXT",
	},
	MaxParams: maxParams,
}

// Store writes a fresh database file next to the destination and swaps it
// in on Commit.
type Store struct {
	*storage.SQLStore
	target    storage.FileTarget
	committed bool
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the temp database for cfg.DSN (a file path, optionally
// "file:" prefixed with query parameters).
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	target, err := storage.NewFileTarget(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", target.TempDSN())
	if err != nil {
		return nil, err
	}
	// One writer; the temp file is private to this run.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		target.Discard()
		return nil, err
	}
	for _, pragma := range []string{"PRAGMA journal_mode=OFF", "PRAGMA synchronous=OFF"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			target.Discard()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return &Store{SQLStore: &storage.SQLStore{DB: db, Dialect: dialect}, target: target}, nil
}

// Commit closes the database and replaces the destination file.
func (s *Store) Commit(ctx context.Context) error {
	if s.committed {
		return nil
	}
	if err := s.DB.Close(); err != nil {
		s.target.Discard()
		return fmt.Errorf("sqlite: close: %w", err)
	}
	s.committed = true
	if err := s.target.Commit(); err != nil {
		s.target.Discard()
		return err
	}
	return nil
}

// Close discards an uncommitted rebuild.
func (s *Store) Close() {
	if s.committed {
		return
	}
	_ = s.DB.Close()
	s.target.Discard()
	s.committed = true
}
