// Package postgres is the server store backend. Rows are loaded with COPY.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"natality/internal/frame"
	"natality/internal/storage"
)

// Postgres has no unsigned integers; each width moves up one signed type.
var types = storage.SQLTypes{
	frame.Uint8:    "SMALLINT",
	frame.Uint16:   "INTEGER",
	frame.Uint32:   "BIGINT",
	frame.Float32:  "REAL",
	frame.Float64:  "DOUBLE PRECISION",
	frame.Category: "TEXT",
	frame.String:   "TEXT",
}

/*
Store writes into a Postgres database. Rebuild semantics are per table:
CreateTable drops and recreates, so a failed run leaves the tables it
touched empty or partial and the next run starts over.
*/
type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Commit is a no-op: every CreateTable and InsertRows call is already durable.
func (s *Store) Commit(context.Context) error { return nil }

func (s *Store) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	stmts, err := buildCreateSQL(spec)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: %s: %w", q, err)
		}
	}
	return nil
}

// InsertRows streams rows with COPY inside one transaction.
func (s *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return n, nil
}

// buildCreateSQL returns the statements that rebuild spec.Name: an optional
// CREATE SCHEMA for qualified names, DROP TABLE IF EXISTS and CREATE TABLE.
func buildCreateSQL(spec storage.TableSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	defs, err := types.Columns(spec, pgIdent)
	if err != nil {
		return nil, err
	}
	name := identifier(spec.Name).Sanitize()

	var out []string
	if schema, _ := splitQualifiedName(spec.Name); schema != "" {
		out = append(out, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgIdent(schema)))
	}
	out = append(out,
		"DROP TABLE IF EXISTS "+name,
		fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", ")),
	)
	return out, nil
}

func pgIdent(id string) string { return pgx.Identifier{id}.Sanitize() }

func identifier(name string) pgx.Identifier {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{strings.TrimSpace(name)}
}

// splitQualifiedName splits "schema.table". Anything other than exactly
// one dot is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
