package staging

import (
	"encoding/json"
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"natality/internal/frame"
)

// ReadSchema returns the frame schema and row count stored in a staging
// file without reading any column data.
func ReadSchema(path string) (frame.Schema, int64, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, 0, fmt.Errorf("staging: open %s: %w", path, err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("staging: %s: %w", path, err)
	}
	defer pr.ReadStop()
	schema, err := footerSchema(pr, path)
	if err != nil {
		return nil, 0, err
	}
	return schema, pr.GetNumRows(), nil
}

// Read loads a whole staging file as a table with its original logical
// types.
func Read(path string) (*frame.Table, error) {
	var out *frame.Table
	err := ReadChunks(path, 0, func(t *frame.Table) error {
		out = t
		return nil
	})
	return out, err
}

// ReadChunks streams a staging file as consecutive tables of at most chunk
// rows. chunk <= 0 reads the file as one table. An empty file yields one
// empty table carrying the schema. fn owns each table; an error from fn
// stops the read and is returned as is.
func ReadChunks(path string, chunk int, fn func(*frame.Table) error) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("staging: open %s: %w", path, err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return fmt.Errorf("staging: %s: %w", path, err)
	}
	defer pr.ReadStop()

	schema, err := footerSchema(pr, path)
	if err != nil {
		return err
	}
	total := int(pr.GetNumRows())
	if chunk <= 0 || chunk > total {
		chunk = total
	}
	if total == 0 {
		return fn(empty(schema))
	}
	for lo := 0; lo < total; lo += chunk {
		n := min(chunk, total-lo)
		t := frame.NewTable(n)
		for ci, f := range schema {
			col, err := readColumn(pr, ci, f, n)
			if err != nil {
				return fmt.Errorf("staging: %s column %s rows %d..%d: %w", path, f.Name, lo, lo+n-1, err)
			}
			if err := t.Add(col); err != nil {
				return err
			}
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// readColumn reads the next n values of column ci. The column reader keeps
// a cursor per column, so successive calls continue where the last stopped.
func readColumn(pr *reader.ParquetReader, ci int, f frame.Field, n int) (*frame.Column, error) {
	col := frame.NewColumn(f.Name, f.Type, n)
	values, _, dls, err := pr.ReadColumnByIndex(int64(ci), int64(n))
	if err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, fmt.Errorf("read %d values, want %d", len(values), n)
	}
	for i, v := range values {
		if v == nil || (i < len(dls) && dls[i] == 0) {
			continue
		}
		if err := set(col, i, v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return col, nil
}

func empty(schema frame.Schema) *frame.Table {
	t := frame.NewTable(0)
	for _, f := range schema {
		_ = t.Add(frame.NewColumn(f.Name, f.Type, 0))
	}
	return t
}

func footerSchema(pr *reader.ParquetReader, path string) (frame.Schema, error) {
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Key != SchemaKey || kv.Value == nil {
			continue
		}
		var s frame.Schema
		if err := json.Unmarshal([]byte(*kv.Value), &s); err != nil {
			return nil, fmt.Errorf("staging: %s: schema metadata: %w", path, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("staging: %s: no %s metadata", path, SchemaKey)
}

func set(c *frame.Column, i int, v any) error {
	switch x := v.(type) {
	case int32:
		c.SetNum(i, float64(x))
	case int64:
		c.SetNum(i, float64(x))
	case float32:
		c.SetNum(i, float64(x))
	case float64:
		c.SetNum(i, x)
	case string:
		if !c.Type.IsText() {
			return fmt.Errorf("text value in %s column", c.Type)
		}
		c.SetStr(i, x)
		return nil
	default:
		return fmt.Errorf("unexpected value type %T", v)
	}
	if c.Type.IsText() {
		return fmt.Errorf("numeric value in %s column", c.Type)
	}
	return nil
}
