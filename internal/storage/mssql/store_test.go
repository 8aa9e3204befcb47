package mssql

import (
	"strings"
	"testing"

	"natality/internal/frame"
	"natality/internal/storage"
)

func TestInsertSQL_NamedPlaceholders(t *testing.T) {
	t.Parallel()

	q := storage.InsertSQL(storage.QuoteQualified("dbo.us_births", mssqlIdent), []string{"dob_yy", "mager"}, 2, dialect.Quote, dialect.Placeholder)
	want := "INSERT INTO [dbo].[us_births] ([dob_yy], [mager]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("got  %q\nwant %q", q, want)
	}
}

func TestRowsPerStatement_RespectsParameterLimit(t *testing.T) {
	t.Parallel()

	per := storage.RowsPerStatement(170, dialect.MaxParams, 500)
	if per*170 > 2100 {
		t.Fatalf("%d rows x 170 columns exceeds the SQL Server parameter limit", per)
	}
	if per != 11 {
		t.Fatalf("expected 11 rows per statement, got %d", per)
	}
}

func TestDialectTypes_CoverEveryLogicalType(t *testing.T) {
	t.Parallel()

	for _, typ := range []frame.Type{frame.Uint8, frame.Uint16, frame.Uint32, frame.Float32, frame.Float64, frame.Category, frame.String} {
		if _, ok := dialect.Types[typ]; !ok {
			t.Fatalf("no SQL type for %s", typ)
		}
	}
	if got := mssqlIdent("we]ird"); !strings.Contains(got, "]]") {
		t.Fatalf("closing bracket not escaped: %q", got)
	}
}
