package config

import (
	"fmt"
	"strconv"
)

// Severity grades a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by a JSON-ish path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

var storageKinds = map[string]bool{"duckdb": true, "sqlite": true, "postgres": true, "mssql": true}

// ValidatePipeline checks p after ApplyDefaults. It never stops early, so a
// single pass reports every problem.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if p.Source.Dir == "" && len(p.Source.Files) == 0 {
		add(SeverityError, "source.dir", "either source.dir or source.files is required")
	}
	if p.Source.From != 0 && p.Source.To != 0 && p.Source.From > p.Source.To {
		add(SeverityError, "source.from", "from=%d is after to=%d", p.Source.From, p.Source.To)
	}
	for k := range p.Source.Files {
		if _, err := strconv.Atoi(k); err != nil {
			add(SeverityError, "source.files."+k, "key must be a four-digit year")
		}
	}

	if p.Staging.Dir == "" {
		add(SeverityError, "staging.dir", "staging.dir is required")
	}

	if !storageKinds[p.Storage.Kind] {
		add(SeverityError, "storage.kind", "unsupported kind %q", p.Storage.Kind)
	}
	if p.Storage.DSN == "" {
		add(SeverityError, "storage.dsn", "storage.dsn is required")
	}

	switch p.Coerce.NonInteger {
	case "null", "truncate":
	default:
		add(SeverityError, "coerce.non_integer", "must be null or truncate, got %q", p.Coerce.NonInteger)
	}
	switch p.Coerce.Range {
	case "null", "error":
	default:
		add(SeverityError, "coerce.range", "must be null or error, got %q", p.Coerce.Range)
	}

	if p.Reference.PrevalenceAge == "" {
		add(SeverityWarning, "reference.prevalence_age", "not set; p_ds_lb_wt_mage will be null")
	}
	if p.Reference.ReductionRate == "" {
		add(SeverityWarning, "reference.reduction_rate", "not set; p_ds_lb_wt_mage_reduc will be null")
	}
	if p.Reference.CaseWeights == "" {
		add(SeverityWarning, "reference.case_weights", "not set; ds_case_weight will be null for indicated rows")
	}

	if p.Runtime.Workers > 64 {
		add(SeverityWarning, "runtime.workers", "%d workers is more than there are vintages", p.Runtime.Workers)
	}
	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
