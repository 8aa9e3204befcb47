package fixedwidth

import (
	"context"
	"io"
	"strings"
	"testing"

	"natality/internal/transformer"
)

func collect(t *testing.T, input string, spans []Span) ([][]any, []int) {
	t.Helper()
	out := make(chan *transformer.Row, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- StreamRows(context.Background(), io.NopCloser(strings.NewReader(input)), spans, nil, out, nil)
		close(out)
	}()

	var rows [][]any
	var lines []int
	for r := range out {
		rows = append(rows, append([]any(nil), r.V...))
		lines = append(lines, r.Line)
		r.Free()
	}
	if err := <-errc; err != nil {
		t.Fatalf("StreamRows: %v", err)
	}
	return rows, lines
}

func TestStreamRows_SlicesByteOffsets(t *testing.T) {
	spans := []Span{
		{Name: "dob_yy", Start: 0, End: 4},
		{Name: "mager", Start: 4, End: 6},
		{Name: "ca_down", Start: 7, End: 8},
	}
	input := "201837 N\r\n2019  xP\n\n2020"

	rows, lines := collect(t, input, spans)
	want := [][]any{
		{"2018", "37", "N"},
		{"2019", nil, "P"},
		{"2020", nil, nil},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows want %d", len(rows), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Fatalf("row %d col %s: got=%v want=%v", i, spans[j].Name, rows[i][j], want[i][j])
			}
		}
	}
	if lines[2] != 4 {
		t.Fatalf("blank line must still advance the counter: got line=%d want=4", lines[2])
	}
}

func TestStreamRows_DecodesLatin1AfterSlicing(t *testing.T) {
	// 0xE9 is a single byte in latin-1; the next field must not shift.
	spans := []Span{{Name: "a", Start: 0, End: 4}, {Name: "b", Start: 4, End: 5}}

	rows, _ := collect(t, "caf\xe91\n", spans)
	if rows[0][0] != "café" || rows[0][1] != "1" {
		t.Fatalf("got=%q,%q want=café,1", rows[0][0], rows[0][1])
	}
}

func TestValidateSpans(t *testing.T) {
	tests := []struct {
		name  string
		spans []Span
		ok    bool
	}{
		{"ok", []Span{{"a", 0, 1}, {"b", 1, 3}}, true},
		{"overlap_allowed", []Span{{"a", 0, 2}, {"b", 1, 3}}, true},
		{"empty_range", []Span{{"a", 2, 2}}, false},
		{"negative", []Span{{"a", -1, 2}}, false},
		{"duplicate", []Span{{"a", 0, 1}, {"a", 1, 2}}, false},
		{"no_name", []Span{{"", 0, 1}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSpans(tc.spans)
			if (err == nil) != tc.ok {
				t.Fatalf("got err=%v want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestStreamRows_CancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan *transformer.Row)
	err := StreamRows(ctx, io.NopCloser(strings.NewReader("2018\n2019\n")), []Span{{"y", 0, 4}}, nil, out, nil)
	if err != context.Canceled {
		t.Fatalf("got=%v want=%v", err, context.Canceled)
	}
}
