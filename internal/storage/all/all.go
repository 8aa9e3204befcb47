// Package all registers every store backend.
package all

import (
	_ "natality/internal/storage/duckdb"
	_ "natality/internal/storage/mssql"
	_ "natality/internal/storage/postgres"
	_ "natality/internal/storage/sqlite"
)
