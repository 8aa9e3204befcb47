// Package transformer holds the pooled row record passed from the source
// parsers to the vintage normalizer.
package transformer

import "sync"

// Row is one raw source record in source-column order. Values are nil
// (missing), string (text and fixed-width sources) or float64 (SAS/Stata).
//
// One goroutine owns a Row at a time; sending it on a channel transfers
// ownership. The final consumer calls Free once nothing references r.V.
// Cancellation paths call Drop instead so an in-flight Row is never reused
// while a draining reader still holds it.
type Row struct {
	V    []any
	Line int // 1-based record number in the source file
}

var rowPool sync.Pool

// GetRow returns a zeroed Row of width n.
func GetRow(n int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < n {
			r.V = make([]any, n)
		}
		r.V = r.V[:n]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, n)}
}

// Free returns r to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases r without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
