// Package fixedwidth streams positional text records into pooled rows.
package fixedwidth

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"

	"natality/internal/config"
	"natality/internal/transformer"
)

// Span is one field of a positional record: a 0-based half-open byte range.
type Span struct {
	Name  string
	Start int
	End   int
}

func (s Span) Width() int { return s.End - s.Start }

// ValidateSpans rejects empty names, negative offsets and empty ranges.
// Spans may overlap and need not be sorted.
func ValidateSpans(spans []Span) error {
	seen := make(map[string]bool, len(spans))
	for i, s := range spans {
		switch {
		case s.Name == "":
			return fmt.Errorf("fixedwidth: span %d has no name", i)
		case s.Start < 0 || s.End <= s.Start:
			return fmt.Errorf("fixedwidth: span %s has invalid range [%d,%d)", s.Name, s.Start, s.End)
		case seen[s.Name]:
			return fmt.Errorf("fixedwidth: duplicate span %s", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// StreamRows reads newline-terminated latin-1 records from src and sends one
// pooled *transformer.Row per record, with V[i] holding spans[i].
//
// Offsets are byte offsets into the raw line, so slicing happens before
// decoding. Fields are trimmed; blank fields and fields past the end of a
// short line are nil. Blank lines are skipped.
//
// Options:
//   - max_line_bytes (default 1 MiB): longer records are reported via onErr
//     and end the stream.
//   - trim_space (default true).
//
// On ctx cancellation the in-flight row is dropped, not re-pooled.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	spans []Span,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	if err := ValidateSpans(spans); err != nil {
		return err
	}

	trim := opt.Bool("trim_space", true)
	maxLine := opt.Int("max_line_bytes", 1<<20)

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	dec := charmap.ISO8859_1.NewDecoder()
	decode := func(b []byte) (string, error) {
		for _, c := range b {
			if c >= 0x80 {
				s, err := dec.Bytes(b)
				return string(s), err
			}
		}
		return string(b), nil
	}

	line := 0
	for sc.Scan() {
		line++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw := bytes.TrimRight(sc.Bytes(), "\r")
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		row := transformer.GetRow(len(spans))
		row.Line = line
		for i, s := range spans {
			if s.Start >= len(raw) {
				continue
			}
			end := min(s.End, len(raw))
			field := raw[s.Start:end]
			if trim {
				field = bytes.TrimSpace(field)
			}
			if len(field) == 0 {
				continue
			}
			v, err := decode(field)
			if err != nil {
				if onErr != nil {
					onErr(line, fmt.Errorf("decode %s: %w", s.Name, err))
				}
				continue
			}
			row.V[i] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		if onErr != nil {
			onErr(line+1, fmt.Errorf("fixedwidth read: %w", err))
		}
		return err
	}
	return nil
}
