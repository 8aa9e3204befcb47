package storage

import (
	"context"
	"fmt"
	"strings"

	"natality/internal/frame"
)

// WriteTable inserts every row of t into table in batches of batch rows.
// Columns are written in t's order.
//
// Errors:
//   - Returns the rows written before the first failing batch, and that
//     batch's error annotated with its first row index.
func WriteTable(ctx context.Context, s Store, table string, t *frame.Table, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	cols := t.Names()
	var total int64
	rows := make([][]any, 0, min(batch, t.Rows()))
	start := 0
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		n, err := s.InsertRows(ctx, table, cols, rows)
		total += n
		if err != nil {
			return fmt.Errorf("insert %s rows %d..%d: %w", table, start, start+len(rows)-1, err)
		}
		start += len(rows)
		rows = make([][]any, 0, cap(rows))
		return nil
	}
	for i := range t.Rows() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows = append(rows, t.Row(i, make([]any, 0, len(cols))))
		if len(rows) == batch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}

// RowsPerStatement caps a multi-row INSERT so that rows*columns bind
// parameters stay within maxParams. It never returns less than 1.
func RowsPerStatement(columns, maxParams, want int) int {
	if columns <= 0 {
		return max(want, 1)
	}
	return max(min(want, maxParams/columns), 1)
}

// InsertSQL renders "INSERT INTO table (cols) VALUES (...), (...)" for nrows
// rows. placeholder receives the 1-based parameter ordinal.
func InsertSQL(table string, columns []string, nrows int, quote func(string) string, placeholder func(int) string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
	}
	b.WriteString(") VALUES ")
	p := 0
	for r := range nrows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			p++
			b.WriteString(placeholder(p))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// QuestionMark is the positional placeholder of sqlite and duckdb.
func QuestionMark(int) string { return "?" }

// QuoteIdent double-quotes an identifier (sqlite, duckdb, postgres).
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteQualified quotes each dot-separated part of a table name.
func QuoteQualified(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = quote(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// Flatten concatenates rows into one argument list.
func Flatten(rows [][]any) []any {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]any, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
