package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect captures what differs between database/sql backends.
type Dialect struct {
	Name        string
	Quote       func(string) string
	Placeholder func(int) string
	Types       SQLTypes
	// MaxParams is the bind-parameter limit of one statement.
	MaxParams int
}

// SQLStore implements CreateTable and InsertRows over database/sql. Backends
// embed it and add Commit and Close.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect
}

// CreateTable drops and recreates spec.Name.
func (s *SQLStore) CreateTable(ctx context.Context, spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%s: %w", s.Dialect.Name, err)
	}
	defs, err := s.Dialect.Types.Columns(spec, s.Dialect.Quote)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Dialect.Name, err)
	}
	name := QuoteQualified(spec.Name, s.Dialect.Quote)
	if _, err := s.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("%s: drop table %s: %w", s.Dialect.Name, spec.Name, err)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", name, strings.Join(defs, ",\n  "))
	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s: create table %s: %w", s.Dialect.Name, spec.Name, err)
	}
	return nil
}

// InsertRows writes rows in one transaction, split into multi-row INSERT
// statements that respect the dialect's parameter limit.
func (s *SQLStore) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", s.Dialect.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	per := RowsPerStatement(len(columns), s.Dialect.MaxParams, len(rows))
	name := QuoteQualified(table, s.Dialect.Quote)
	var (
		full     string
		affected int64
	)
	for lo := 0; lo < len(rows); lo += per {
		hi := min(lo+per, len(rows))
		q := full
		if hi-lo != per || q == "" {
			q = InsertSQL(name, columns, hi-lo, s.Dialect.Quote, s.Dialect.Placeholder)
			if hi-lo == per {
				full = q
			}
		}
		if _, err := tx.ExecContext(ctx, q, Flatten(rows[lo:hi])...); err != nil {
			return 0, fmt.Errorf("%s: insert into %s: %w", s.Dialect.Name, table, err)
		}
		affected += int64(hi - lo)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", s.Dialect.Name, err)
	}
	return affected, nil
}

// QueryInt64 runs a single-value query. Backends use it in tests and
// post-load checks.
func (s *SQLStore) QueryInt64(ctx context.Context, q string, args ...any) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
