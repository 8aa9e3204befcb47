package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileTarget stages a file-backed store next to its destination so a rebuild
// is never visible half-written.
//
// When to use:
//   - File-backed backends open TempDSN, write, close the database and call
//     Commit. On failure they call Discard instead.
//
// Edge cases:
//   - An empty path or ":memory:" yields an in-memory target: TempDSN is the
//     DSN unchanged and Commit/Discard do nothing.
//   - A "file:" prefix and a "?query" suffix are preserved around the path.
type FileTarget struct {
	Path string
	Temp string

	prefix, query string
}

// sidecars are the journal files engines keep beside a database file.
var sidecars = []string{".wal", "-wal", "-journal", "-shm"}

// NewFileTarget parses dsn and removes any temp file left by an earlier
// failed run.
func NewFileTarget(dsn string) (FileTarget, error) {
	var ft FileTarget
	rest := dsn
	if strings.HasPrefix(rest, "file:") {
		ft.prefix, rest = "file:", strings.TrimPrefix(rest, "file:")
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, ft.query = rest[:i], rest[i:]
	}
	if rest == "" || rest == ":memory:" {
		ft.Path = rest
		return ft, nil
	}
	ft.Path = rest
	ft.Temp = rest + ".tmp"
	if dir := filepath.Dir(rest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return FileTarget{}, fmt.Errorf("storage: %w", err)
		}
	}
	if err := ft.removeTemp(); err != nil {
		return FileTarget{}, err
	}
	return ft, nil
}

// InMemory reports whether the target has no file.
func (f FileTarget) InMemory() bool { return f.Temp == "" }

// TempDSN is the DSN the backend should open.
func (f FileTarget) TempDSN() string {
	if f.InMemory() {
		return f.prefix + f.Path + f.query
	}
	return f.prefix + f.Temp + f.query
}

// Commit replaces the destination with the temp file. The database must be
// closed first.
func (f FileTarget) Commit() error {
	if f.InMemory() {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", f.Path, err)
	}
	for _, s := range sidecars {
		_ = os.Remove(f.Path + s)
	}
	if err := os.Rename(f.Temp, f.Path); err != nil {
		return fmt.Errorf("storage: replace %s: %w", f.Path, err)
	}
	return nil
}

// Discard removes the temp file and its sidecars.
func (f FileTarget) Discard() {
	if f.InMemory() {
		return
	}
	_ = f.removeTemp()
}

func (f FileTarget) removeTemp() error {
	for _, p := range append([]string{f.Temp}, suffixed(f.Temp, sidecars)...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: remove %s: %w", p, err)
		}
	}
	return nil
}

func suffixed(base string, suffixes []string) []string {
	out := make([]string, len(suffixes))
	for i, s := range suffixes {
		out[i] = base + s
	}
	return out
}
