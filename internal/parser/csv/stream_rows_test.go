package csv

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"natality/internal/config"
)

func src(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func TestReadAll_AlignsHeaderToColumns(t *testing.T) {
	input := "\uFEFFDob YY, MAGER ,extra\n2005, 31 ,x\n2006,,y\n"
	rows, err := ReadAll(context.Background(), src(input), []string{"mager", "dob_yy", "absent"}, nil)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := [][]string{{"31", "2005", ""}, {"", "2006", ""}}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows want %d", len(rows), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Fatalf("row %d col %d: got=%q want=%q", i, j, rows[i][j], want[i][j])
			}
		}
	}
}

func TestStreamCSVRows_RequireColumns(t *testing.T) {
	opt := config.Options{"require_columns": true}
	_, err := ReadAll(context.Background(), src("a,b\n1,2\n"), []string{"a", "c", "d"}, opt)
	var mc *MissingColumnsError
	if !errors.As(err, &mc) {
		t.Fatalf("got=%v want *MissingColumnsError", err)
	}
	if strings.Join(mc.Columns, ",") != "c,d" {
		t.Fatalf("got=%v want=[c d]", mc.Columns)
	}
}

func TestStreamCSVRows_HeaderMapAndDelimiter(t *testing.T) {
	opt := config.Options{
		"comma":      ";",
		"header_map": map[string]any{"Birth Year": "dob_yy"},
	}
	rows, err := ReadAll(context.Background(), src("Birth Year;sex\n2010;F\n"), []string{"dob_yy", "sex"}, opt)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if rows[0][0] != "2010" || rows[0][1] != "F" {
		t.Fatalf("got=%v want=[2010 F]", rows[0])
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		" CA_DOWNS ":   "ca_downs",
		"\uFEFFyear":   "year",
		"Total Weight": "total_weight",
	}
	for in, want := range tests {
		if got := NormalizeHeader(in); got != want {
			t.Fatalf("NormalizeHeader(%q): got=%q want=%q", in, got, want)
		}
	}
}
