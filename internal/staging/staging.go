// Package staging persists one normalized year as a Parquet file so the
// merge step can reconcile schemas before any row is loaded.
//
// Files are written to "<name>.tmp" and renamed into place by Close; a
// failed year leaves nothing behind under the final name. The frame schema
// of the year is stored as JSON in the footer key/value metadata, so the
// logical types survive the round trip (Parquet only knows the physical
// ones).
package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"natality/internal/frame"
)

// SchemaKey is the footer metadata key holding the JSON frame schema.
const SchemaKey = "natality.schema"

// File describes a finished staging file.
type File struct {
	Year   int
	Path   string
	Schema frame.Schema
	Rows   int64
}

// PathFor is the staging file path of year under dir.
func PathFor(dir string, year int) string {
	return filepath.Join(dir, fmt.Sprintf("natality_%d.parquet", year))
}

// Writer appends tables of one fixed schema to a staging file.
type Writer struct {
	year      int
	path, tmp string

	schema frame.Schema
	fw     source.ParquetFile
	pw     *writer.CSVWriter
	rows   int64
}

// Create prepares the staging file for year. Nothing is written until the
// first Write or Init fixes the schema.
func Create(dir string, year int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}
	p := PathFor(dir, year)
	return &Writer{year: year, path: p, tmp: p + ".tmp"}, nil
}

func (w *Writer) open(schema frame.Schema) error {
	md := make([]string, len(schema))
	for i, f := range schema {
		tag, err := columnTag(f)
		if err != nil {
			return err
		}
		md[i] = tag
	}
	fw, err := local.NewLocalFileWriter(w.tmp)
	if err != nil {
		return fmt.Errorf("staging: create %s: %w", w.tmp, err)
	}
	pw, err := writer.NewCSVWriter(md, fw, 1)
	if err != nil {
		_ = fw.Close()
		_ = os.Remove(w.tmp)
		return fmt.Errorf("staging: year %d: %w", w.year, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	w.schema, w.fw, w.pw = schema, fw, pw
	return nil
}

// Init fixes the schema without writing a row, so a year without records
// still stages an empty file. Once the schema is fixed Init only checks that
// schema matches it.
func (w *Writer) Init(schema frame.Schema) error {
	if w.pw == nil {
		return w.open(schema)
	}
	if !sameSchema(w.schema, schema) {
		return fmt.Errorf("staging: year %d: chunk schema differs from the first chunk", w.year)
	}
	return nil
}

// Write appends every row of t. The first call fixes the schema; later
// tables must have the same one.
func (w *Writer) Write(t *frame.Table) error {
	if err := w.Init(t.Schema()); err != nil {
		return err
	}
	cols := t.Columns()
	for i := range t.Rows() {
		// The writer buffers rec until the row group is flushed.
		rec := make([]any, len(cols))
		for j, c := range cols {
			rec[j] = physical(c, i)
		}
		if err := w.pw.Write(rec); err != nil {
			return fmt.Errorf("staging: year %d row %d: %w", w.year, w.rows, err)
		}
		w.rows++
	}
	return nil
}

// Rows is the number of rows written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Close finishes the file and moves it into place.
func (w *Writer) Close() (File, error) {
	if w.pw == nil {
		return File{}, fmt.Errorf("staging: year %d: nothing written", w.year)
	}
	meta, err := json.Marshal(w.schema)
	if err != nil {
		w.Abort()
		return File{}, fmt.Errorf("staging: year %d: %w", w.year, err)
	}
	value := string(meta)
	w.pw.Footer.KeyValueMetadata = append(w.pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: SchemaKey, Value: &value})

	if err := w.pw.WriteStop(); err != nil {
		w.Abort()
		return File{}, fmt.Errorf("staging: year %d: finish: %w", w.year, err)
	}
	if err := w.fw.Close(); err != nil {
		w.fw = nil
		w.Abort()
		return File{}, fmt.Errorf("staging: year %d: close: %w", w.year, err)
	}
	w.fw, w.pw = nil, nil
	if err := os.Rename(w.tmp, w.path); err != nil {
		_ = os.Remove(w.tmp)
		return File{}, fmt.Errorf("staging: year %d: %w", w.year, err)
	}
	return File{Year: w.year, Path: w.path, Schema: w.schema, Rows: w.rows}, nil
}

// Abort discards the temp file. Safe to call after Close.
func (w *Writer) Abort() {
	if w.fw != nil {
		_ = w.fw.Close()
		w.fw = nil
	}
	w.pw = nil
	_ = os.Remove(w.tmp)
}

// Remove deletes staged files. Missing files are ignored.
func Remove(files ...File) error {
	var errs []error
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sameSchema(a, b frame.Schema) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func columnTag(f frame.Field) (string, error) {
	var typ string
	switch f.Type {
	case frame.Uint8, frame.Uint16:
		typ = "type=INT32"
	case frame.Uint32:
		typ = "type=INT64"
	case frame.Float32:
		typ = "type=FLOAT"
	case frame.Float64:
		typ = "type=DOUBLE"
	case frame.Category, frame.String:
		typ = "type=BYTE_ARRAY, convertedtype=UTF8"
	default:
		return "", fmt.Errorf("staging: column %s: unsupported type %s", f.Name, f.Type)
	}
	return fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", f.Name, typ), nil
}

// physical converts row i of c to the Go type the Parquet column expects;
// nil is null.
func physical(c *frame.Column, i int) any {
	switch c.Type {
	case frame.Uint8, frame.Uint16:
		if v, ok := c.Num(i); ok {
			return int32(v)
		}
	case frame.Uint32:
		if v, ok := c.Num(i); ok {
			return int64(v)
		}
	case frame.Float32:
		if v, ok := c.Num(i); ok {
			return float32(v)
		}
	case frame.Float64:
		if v, ok := c.Num(i); ok {
			return v
		}
	default:
		if v, ok := c.Str(i); ok {
			return v
		}
	}
	return nil
}
