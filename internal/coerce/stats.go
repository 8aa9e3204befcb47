package coerce

import (
	"fmt"
	"sort"
	"sync"
)

// Stats counts rejected values per Reason.
type Stats struct {
	ParseInvalid int64
	NonInteger   int64
	RangeInvalid int64
}

func (s *Stats) add(r Reason) {
	switch r {
	case ParseInvalid:
		s.ParseInvalid++
	case NonIntegerValue:
		s.NonInteger++
	case OutOfRange:
		s.RangeInvalid++
	}
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.ParseInvalid += o.ParseInvalid
	s.NonInteger += o.NonInteger
	s.RangeInvalid += o.RangeInvalid
}

// Total is the number of rejected values.
func (s Stats) Total() int64 { return s.ParseInvalid + s.NonInteger + s.RangeInvalid }

// Count returns the counter for r.
func (s Stats) Count(r Reason) int64 {
	switch r {
	case ParseInvalid:
		return s.ParseInvalid
	case NonIntegerValue:
		return s.NonInteger
	case OutOfRange:
		return s.RangeInvalid
	}
	return 0
}

func (s Stats) String() string {
	return fmt.Sprintf("parse_invalid=%d non_integer=%d range_invalid=%d", s.ParseInvalid, s.NonInteger, s.RangeInvalid)
}

// Report accumulates Stats per column. Safe for concurrent use.
type Report struct {
	mu     sync.Mutex
	fields map[string]Stats
}

func NewReport() *Report { return &Report{fields: map[string]Stats{}} }

func (r *Report) Add(column string, s Stats) {
	if s.Total() == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.fields[column]
	cur.Merge(s)
	r.fields[column] = cur
}

// Merge folds another report into r.
func (r *Report) Merge(o *Report) {
	if o == nil {
		return
	}
	for _, k := range o.Columns() {
		r.Add(k, o.Get(k))
	}
}

func (r *Report) Get(column string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fields[column]
}

// Columns lists columns with at least one rejection, sorted.
func (r *Report) Columns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.fields))
	for k := range r.fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Total sums every column.
func (r *Report) Total() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t Stats
	for _, s := range r.fields {
		t.Merge(s)
	}
	return t
}
