// Package mssql is the Microsoft SQL Server store backend.
package mssql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"natality/internal/frame"
	"natality/internal/storage"
)

// SQL Server rejects statements with more than 2100 parameters.
const maxParams = 2000

var dialect = storage.Dialect{
	Name:        "mssql",
	Quote:       mssqlIdent,
	Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	Types: storage.SQLTypes{
		frame.Uint8:    "TINYINT",
		frame.Uint16:   "INT",
		frame.Uint32:   "BIGINT",
		frame.Float32:  "REAL",
		frame.Float64:  "FLOAT",
		frame.Category: "NVARCHAR(32)",
		frame.String:   "NVARCHAR(MAX)",
	},
	MaxParams: maxParams,
}

// Store writes through database/sql with the "sqlserver" driver. Like
// postgres, rebuild is drop-and-recreate per table and Commit is a no-op.
type Store struct {
	*storage.SQLStore
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{SQLStore: &storage.SQLStore{DB: db, Dialect: dialect}}, nil
}

func (s *Store) Commit(context.Context) error { return nil }

func (s *Store) Close() { _ = s.DB.Close() }

// mssqlIdent bracket-quotes one identifier part.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
