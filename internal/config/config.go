// Package config holds the JSON pipeline configuration for a harmonization run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Pipeline is the root of a run configuration.
type Pipeline struct {
	// Job names the run in logs and metrics.
	Job string `json:"job"`

	Source    Source    `json:"source"`
	Staging   Staging   `json:"staging"`
	Reference Reference `json:"reference"`
	Storage   Storage   `json:"storage"`
	Coerce    Coerce    `json:"coerce"`
	Reconcile Reconcile `json:"reconcile"`
	Runtime   Runtime   `json:"runtime"`
}

// Source locates the per-year input files.
type Source struct {
	// Dir is scanned for files whose name carries the four-digit year.
	Dir string `json:"dir"`

	// From and To bound the years to process, inclusive. Zero means the
	// registry's full range.
	From int `json:"from"`
	To   int `json:"to"`

	// Files overrides discovery for specific years: "2014" -> path.
	Files map[string]string `json:"files,omitempty"`

	// Options are passed to the row parsers (csv: comma, lazy_quotes...).
	Options Options `json:"options,omitempty"`
}

// Staging is where per-year intermediate files are written.
type Staging struct {
	Dir string `json:"dir"`
	// Keep leaves staging files in place after a successful load.
	Keep bool `json:"keep"`
}

// Reference lists the lookup-table CSV paths. Empty PrevalenceYear uses the
// built-in published series; other empty paths disable the derived field.
type Reference struct {
	PrevalenceYear string `json:"prevalence_year,omitempty"`
	PrevalenceAge  string `json:"prevalence_age,omitempty"`
	ReductionRate  string `json:"reduction_rate,omitempty"`
	CaseWeights    string `json:"case_weights,omitempty"`

	// PrevalenceEthnicity is copied into the store but joined into no
	// derived field.
	PrevalenceEthnicity string `json:"prevalence_ethnicity,omitempty"`
}

// Storage selects the store backend and the unified table name.
type Storage struct {
	Kind  string `json:"kind"`
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

// Coerce sets the run-wide coercion policies.
type Coerce struct {
	NonInteger string `json:"non_integer"` // "null" | "truncate"
	Range      string `json:"range"`       // "null" | "error"
}

// Reconcile tunes schema unification.
type Reconcile struct {
	Strict bool `json:"strict"`
}

// Runtime holds concurrency and batching knobs.
type Runtime struct {
	// Workers is the number of years staged concurrently.
	Workers int `json:"workers"`
	// ChunkRows bounds rows held in memory per year.
	ChunkRows int `json:"chunk_rows"`
	// InsertBatch is the number of rows per store insert statement.
	InsertBatch int `json:"insert_batch"`
}

const (
	DefaultTable       = "us_births"
	DefaultWorkers     = 4
	DefaultChunkRows   = 100_000
	DefaultInsertBatch = 500
)

// Load reads and decodes a pipeline config and applies defaults.
func Load(path string) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pipeline{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	p.ApplyDefaults()
	return p, nil
}

// ApplyDefaults fills zero values. DSN environment references are expanded.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = "natality"
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = "duckdb"
	}
	if p.Storage.Table == "" {
		p.Storage.Table = DefaultTable
	}
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	if p.Coerce.NonInteger == "" {
		p.Coerce.NonInteger = "null"
	}
	if p.Coerce.Range == "" {
		p.Coerce.Range = "null"
	}
	if p.Runtime.Workers <= 0 {
		p.Runtime.Workers = DefaultWorkers
	}
	if p.Runtime.ChunkRows <= 0 {
		p.Runtime.ChunkRows = DefaultChunkRows
	}
	if p.Runtime.InsertBatch <= 0 {
		p.Runtime.InsertBatch = DefaultInsertBatch
	}
}

// FileFor returns the configured override path for year, if any.
func (s Source) FileFor(year int) (string, bool) {
	p, ok := s.Files[strconv.Itoa(year)]
	return p, ok && p != ""
}
