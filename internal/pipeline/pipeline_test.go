package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natality/internal/config"
	"natality/internal/derive"
	"natality/internal/metrics"
	"natality/internal/reference"
	"natality/internal/registry"
	"natality/internal/storage"
	_ "natality/internal/storage/sqlite"
	"natality/internal/vintage"
)

// memStore keeps everything written to it in memory.
type memStore struct {
	mu        sync.Mutex
	specs     map[string]storage.TableSpec
	columns   map[string][]string
	rows      map[string][][]any
	failTable string
	committed bool
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{specs: map[string]storage.TableSpec{}, columns: map[string][]string{}, rows: map[string][][]any{}}
}

func (m *memStore) CreateTable(_ context.Context, spec storage.TableSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.Name] = spec
	m.rows[spec.Name] = nil
	return nil
}

func (m *memStore) InsertRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if table == m.failTable {
		return 0, errors.New("disk full")
	}
	m.columns[table] = columns
	m.rows[table] = append(m.rows[table], rows...)
	return int64(len(rows)), nil
}

func (m *memStore) Commit(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = true
	return nil
}

func (m *memStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// cell returns the value of column col in row i of table.
func (m *memStore) cell(t *testing.T, table string, i int, col string) any {
	t.Helper()
	for j, c := range m.columns[table] {
		if c == col {
			return m.rows[table][i][j]
		}
	}
	t.Fatalf("table %s has no column %s", table, col)
	return nil
}

// namedCSV writes a CSV carrying every source the registry expects for
// year, blanks except for the given values.
func namedCSV(t *testing.T, dir string, year int, skip string, rows ...map[string]string) string {
	t.Helper()
	var hdr []string
	for _, b := range registry.Default().Expected(year) {
		if b.Alias.Source != skip {
			hdr = append(hdr, strings.ToUpper(b.Alias.Source))
		}
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(hdr, ",") + "\n")
	for _, r := range rows {
		rec := make([]string, len(hdr))
		for i, h := range hdr {
			rec[i] = r[strings.ToLower(h)]
		}
		sb.WriteString(strings.Join(rec, ",") + "\n")
	}
	p := filepath.Join(dir, "natl"+strconv.Itoa(year)+".csv")
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o644))
	return p
}

func testRefs(t *testing.T) *reference.Set {
	t.Helper()
	refs := reference.Empty()
	require.NoError(t, refs.PrevalenceYear.Set(1995, 0.0012))
	require.NoError(t, refs.CaseWeights.Set(1995, 1.5, 1.1, 1.2, math.NaN(), 1.4, 1.3))
	return refs
}

// sourceDir writes 1995 (two records) and 2010 (one record).
func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	namedCSV(t, dir, 1995, "",
		map[string]string{"datayear": "1995", "dmage": "38", "mrace": "1", "orracem": "6", "downs": "1"},
		map[string]string{"datayear": "1995", "dmage": "25", "mrace": "2", "orracem": "7", "downs": "2"},
	)
	namedCSV(t, dir, 2010, "",
		map[string]string{"dob_yy": "2010", "mager": "30", "mracerec": "2", "umhisp": "0", "ca_down": "C"},
	)
	return dir
}

func testPipeline(t *testing.T, src string) config.Pipeline {
	t.Helper()
	p := config.Pipeline{
		Source:  config.Source{Dir: src, From: 1990, To: 2012},
		Staging: config.Staging{Dir: filepath.Join(t.TempDir(), "stage")},
		Storage: config.Storage{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "births.db")},
		Runtime: config.Runtime{Workers: 2, ChunkRows: 1, InsertBatch: 1},
	}
	p.ApplyDefaults()
	return p
}

func memRunner(t *testing.T, store *memStore) (*Runner, *int) {
	t.Helper()
	opened := 0
	r := NewDefaultRunner()
	r.NewStore = func(context.Context, storage.Config) (storage.Store, error) {
		opened++
		return store, nil
	}
	refs := testRefs(t)
	r.LoadReference = func(context.Context, config.Reference) (*reference.Set, error) { return refs, nil }
	return r, &opened
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestRun_StagesReconcilesDerivesAndLoads(t *testing.T) {
	store := newMemStore()
	r, _ := memRunner(t, store)
	p := testPipeline(t, sourceDir(t))

	sum, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, store.committed)
	assert.True(t, store.closed)
	assert.Equal(t, int64(3), sum.Loaded)
	require.Len(t, sum.Years, 2)
	assert.Equal(t, 1995, sum.Years[0].Year)
	assert.Equal(t, int64(2), sum.Years[0].Staged)
	assert.Equal(t, int64(2), sum.Years[0].Loaded)
	assert.Equal(t, int64(1), sum.Years[1].Loaded)
	assert.Empty(t, sum.Failed())

	// Unified table: sorted source columns, then derived columns in order.
	spec := store.specs[config.DefaultTable]
	names := spec.ColumnNames()
	n := len(names) - len(derive.Outputs)
	assert.True(t, sortedStrings(names[:n]), "source columns sorted")
	assert.Equal(t, derive.Outputs.Names(), names[n:])
	assert.Contains(t, names, "datayear", "1995-only column present")
	assert.Contains(t, names, "dob_yy", "2010-only column present")

	tb := config.DefaultTable
	require.Len(t, store.rows[tb], 3)
	assert.Equal(t, int64(1995), store.cell(t, tb, 0, derive.Year))
	assert.Equal(t, int64(38), store.cell(t, tb, 0, derive.MaternalAge))
	assert.Equal(t, int64(1), store.cell(t, tb, 0, derive.DownIndicated))
	assert.Equal(t, int64(1), store.cell(t, tb, 0, derive.DownConfirmed))
	assert.Equal(t, 1.1, store.cell(t, tb, 0, derive.CaseWeight))
	assert.Equal(t, 0.0012, store.cell(t, tb, 0, derive.PYear))
	want, ok := derive.PAgeOnly(38)
	require.True(t, ok)
	assert.InDelta(t, want, store.cell(t, tb, 0, derive.PAgeOnlyColumn), 1e-12)
	assert.Nil(t, store.cell(t, tb, 0, "dob_yy"), "null-filled in a year that lacks it")

	assert.Equal(t, int64(0), store.cell(t, tb, 1, derive.DownIndicated))
	assert.Equal(t, 0.0, store.cell(t, tb, 1, derive.CaseWeight))

	// 2010 is indicated but has no case weight row: null, recorded as missing.
	assert.Equal(t, int64(2010), store.cell(t, tb, 2, derive.Year))
	assert.Equal(t, int64(1), store.cell(t, tb, 2, derive.DownIndicated))
	assert.Nil(t, store.cell(t, tb, 2, derive.CaseWeight))
	assert.Equal(t, []int{2010}, sum.Derive.MissingYears[reference.CaseWeightsTable])

	// Non-empty lookup tables are copied; empty ones are skipped.
	assert.Len(t, store.rows[reference.PrevalenceYearTable], 1)
	assert.Len(t, store.rows[reference.CaseWeightsTable], 1)
	_, created := store.specs[reference.ReductionRateTable]
	assert.False(t, created)

	assert.Empty(t, stagedFiles(t, p.Staging.Dir), "staging removed after load")
}

func TestRun_KeepStaging(t *testing.T) {
	store := newMemStore()
	r, _ := memRunner(t, store)
	p := testPipeline(t, sourceDir(t))
	p.Staging.Keep = true

	_, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"natality_1995.parquet", "natality_2010.parquet"}, stagedFiles(t, p.Staging.Dir))
}

func TestRun_FailedYearIsIsolatedAndBlocksLoad(t *testing.T) {
	src := sourceDir(t)
	namedCSV(t, src, 2012, "ca_downs", map[string]string{"dob_yy": "2012"})

	store := newMemStore()
	r, opened := memRunner(t, store)
	p := testPipeline(t, src)

	sum, err := r.Run(context.Background(), p)
	require.Error(t, err)
	var im *vintage.IncompleteMappingError
	require.True(t, errors.As(err, &im), "got %v", err)
	assert.Equal(t, 2012, im.Vintage.Year)
	assert.Contains(t, err.Error(), "1 of 3 years failed")
	assert.Contains(t, err.Error(), "year 2012")

	require.NotNil(t, sum)
	assert.Equal(t, []int{2012}, sum.Failed())
	assert.Equal(t, int64(2), sum.Years[0].Staged, "other years still staged")
	assert.Equal(t, 0, *opened, "store never opened")
	assert.Empty(t, stagedFiles(t, p.Staging.Dir))
}

func TestRun_YearWithoutRecordsStagesEmpty(t *testing.T) {
	src := sourceDir(t)
	namedCSV(t, src, 2012, "")

	store := newMemStore()
	r, _ := memRunner(t, store)
	p := testPipeline(t, src)

	sum, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, sum.Years, 3)
	assert.Equal(t, 2012, sum.Years[2].Year)
	assert.Equal(t, int64(0), sum.Years[2].Staged)
	assert.Equal(t, int64(0), sum.Years[2].Loaded)
	assert.Equal(t, int64(3), sum.Loaded)
	assert.True(t, store.committed)
	assert.Contains(t, store.specs[config.DefaultTable].ColumnNames(), "ca_down")
}

func TestRun_InsertFailureDoesNotCommit(t *testing.T) {
	store := newMemStore()
	store.failTable = config.DefaultTable
	r, _ := memRunner(t, store)

	_, err := r.Run(context.Background(), testPipeline(t, sourceDir(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "year 1995")
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, store.committed)
	assert.True(t, store.closed)
}

func TestRun_RejectsInvalidConfigAndEmptySource(t *testing.T) {
	r, _ := memRunner(t, newMemStore())

	p := testPipeline(t, t.TempDir())
	p.Storage.Kind = "oracle"
	_, err := r.Run(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.kind")

	_, err = r.Run(context.Background(), testPipeline(t, t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source files for years 1990-2012")
}

func TestCheck_ReportsMappingWithoutStaging(t *testing.T) {
	src := sourceDir(t)
	namedCSV(t, src, 2012, "ca_downs", map[string]string{"dob_yy": "2012"})

	store := newMemStore()
	r, opened := memRunner(t, store)
	p := testPipeline(t, src)

	years, err := r.Check(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 years cannot be mapped")
	var im *vintage.IncompleteMappingError
	require.True(t, errors.As(err, &im))

	require.Len(t, years, 3)
	assert.NoError(t, years[0].Err)
	assert.Equal(t, "csv", years[0].Format)
	assert.Error(t, years[2].Err)
	assert.Equal(t, 0, *opened)
	assert.Empty(t, stagedFiles(t, p.Staging.Dir))

	years, err = r.Check(context.Background(), testPipeline(t, sourceDir(t)))
	require.NoError(t, err)
	assert.Len(t, years, 2)
}

func TestUnifiedSpec_DerivedCollision(t *testing.T) {
	_, err := unifiedSpec("t", derive.Outputs[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), derive.Outputs[0].Name)
}

// recorder is a metrics backend that counts per series and label set.
type recorder struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (r *recorder) IncCounter(name string, delta float64, l metrics.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name+"|"+l["kind"]+l["step"]+l["status"]] += delta
}
func (r *recorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (r *recorder) Flush() error { return nil }

func TestRun_RecordsMetrics(t *testing.T) {
	rec := &recorder{counts: map[string]float64{}}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	r, _ := memRunner(t, newMemStore())
	_, err := r.Run(context.Background(), testPipeline(t, sourceDir(t)))
	require.NoError(t, err)

	assert.Equal(t, 3.0, rec.counts[metrics.RowsTotal+"|staged"])
	assert.Equal(t, 3.0, rec.counts[metrics.RowsTotal+"|loaded"])
	assert.Equal(t, 1.0, rec.counts[metrics.StepTotal+"|commitok"])
	assert.Equal(t, 2.0, rec.counts[metrics.StepTotal+"|stage_yearok"])
}

func TestRun_SQLiteEndToEnd(t *testing.T) {
	p := testPipeline(t, sourceDir(t))
	p.Runtime.InsertBatch = 2

	r := NewDefaultRunner()
	sum, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Loaded)

	_, err = os.Stat(p.Storage.DSN + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp database renamed away")

	db, err := sql.Open("sqlite", p.Storage.DSN)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "us_births" WHERE "down_ind" = 1`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "us_births" WHERE "year" BETWEEN 1990 AND 2000`).Scan(&n))
	assert.Equal(t, 2, n)

	// The built-in prevalence series is copied for downstream joins.
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "prevalence_year"`).Scan(&n))
	assert.Positive(t, n)

	// A second run rebuilds rather than appends.
	_, err = r.Run(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "us_births"`).Scan(&n))
	assert.Equal(t, 3, n)
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}
