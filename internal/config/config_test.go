package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_AppliesDefaults(t *testing.T) {
	p, err := Load(writeConfig(t, `{
		"source": {"dir": "/data/natality", "from": 1990, "to": 1995},
		"staging": {"dir": "/tmp/stage"},
		"storage": {"dsn": "births.duckdb"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "natality", p.Job)
	assert.Equal(t, "duckdb", p.Storage.Kind)
	assert.Equal(t, DefaultTable, p.Storage.Table)
	assert.Equal(t, "null", p.Coerce.NonInteger)
	assert.Equal(t, "null", p.Coerce.Range)
	assert.Equal(t, DefaultWorkers, p.Runtime.Workers)
	assert.Equal(t, DefaultChunkRows, p.Runtime.ChunkRows)
	assert.Equal(t, DefaultInsertBatch, p.Runtime.InsertBatch)
	assert.Equal(t, 1990, p.Source.From)
}

func TestLoad_ExpandsDSNFromEnvironment(t *testing.T) {
	t.Setenv("NATALITY_PG", "postgres://u:p@db/births")
	p, err := Load(writeConfig(t, `{"storage": {"kind": "postgres", "dsn": "${NATALITY_PG}"}}`))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/births", p.Storage.DSN)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	_, err = Load(writeConfig(t, `{"source": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestSource_FileFor(t *testing.T) {
	s := Source{Files: map[string]string{"2014": "/x/natl2014.csv", "2015": ""}}

	p, ok := s.FileFor(2014)
	assert.True(t, ok)
	assert.Equal(t, "/x/natl2014.csv", p)

	_, ok = s.FileFor(2015)
	assert.False(t, ok, "empty override is not an override")
	_, ok = s.FileFor(1990)
	assert.False(t, ok)
}

func validPipeline() Pipeline {
	p := Pipeline{
		Source:  Source{Dir: "/data"},
		Staging: Staging{Dir: "/stage"},
		Storage: Storage{DSN: "births.duckdb"},
		Reference: Reference{
			PrevalenceAge: "age.csv",
			ReductionRate: "reduc.csv",
			CaseWeights:   "weights.csv",
		},
	}
	p.ApplyDefaults()
	return p
}

func TestValidatePipeline_Valid(t *testing.T) {
	issues := ValidatePipeline(validPipeline())
	assert.Empty(t, issues)
	assert.False(t, HasErrors(issues))
}

func TestValidatePipeline_ReportsEveryProblem(t *testing.T) {
	p := Pipeline{
		Source:  Source{From: 2000, To: 1990, Files: map[string]string{"latest": "x.csv"}},
		Storage: Storage{Kind: "oracle"},
		Coerce:  Coerce{NonInteger: "round", Range: "clip"},
		Runtime: Runtime{Workers: 100},
	}
	issues := ValidatePipeline(p)
	require.True(t, HasErrors(issues))

	paths := map[string]Severity{}
	for _, iss := range issues {
		paths[iss.Path] = iss.Severity
	}
	for _, want := range []string{
		"source.from",
		"source.files.latest",
		"staging.dir",
		"storage.kind",
		"storage.dsn",
		"coerce.non_integer",
		"coerce.range",
	} {
		assert.Equal(t, SeverityError, paths[want], want)
	}
	assert.Equal(t, SeverityWarning, paths["runtime.workers"])
	assert.Equal(t, SeverityWarning, paths["reference.case_weights"])
}

func TestValidatePipeline_FilesWithoutDir(t *testing.T) {
	p := validPipeline()
	p.Source.Dir = ""
	p.Source.Files = map[string]string{"1989": "natl1989.dat"}
	assert.False(t, HasErrors(ValidatePipeline(p)))

	p.Source.Files = nil
	issues := ValidatePipeline(p)
	require.Len(t, issues, 1)
	assert.Equal(t, "source.dir", issues[0].Path)
}

func TestOptions_Accessors(t *testing.T) {
	o := Options{
		"comma":       "|",
		"tab":         `\t`,
		"lazy_quotes": "true",
		"header":      false,
		"skip":        float64(2),
		"skip_s":      "3",
		"rename":      map[string]any{"MAGER": "mager", "bad": 1},
	}
	assert.Equal(t, '|', o.Rune("comma", ','))
	assert.Equal(t, '\t', o.Rune("tab", ','))
	assert.Equal(t, ',', o.Rune("missing", ','))
	assert.True(t, o.Bool("lazy_quotes", false))
	assert.False(t, o.Bool("header", true))
	assert.Equal(t, 2, o.Int("skip", 0))
	assert.Equal(t, 3, o.Int("skip_s", 0))
	assert.Equal(t, 7, o.Int("comma", 7))
	assert.Equal(t, "|", o.String("comma", ","))
	assert.Equal(t, map[string]string{"MAGER": "mager"}, o.StringMap("rename"))

	var nilOpts Options
	assert.Equal(t, "d", nilOpts.String("x", "d"))
	assert.Empty(t, nilOpts.StringMap("x"))
}
