package vintage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// yearInName matches a standalone four-digit year, so "Nat2018PublicUS.c20190509"
// yields 2018 and not 2019.
var yearInName = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)[0-9]{2})(?:[^0-9]|$)`)

// YearOf extracts the first standalone year from a file name.
func YearOf(name string) (int, bool) {
	m := yearInName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	return y, err == nil
}

// Discover maps each year in [from, to] to the single supported file in dir
// whose name carries that year. Years with no file are absent from the
// result; two candidates for one year is an error. overrides win over
// discovery and are not checked against dir.
func Discover(dir string, from, to int, overrides map[int]string) (map[int]string, error) {
	out := make(map[int]string)
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || FormatOf(e.Name()) == FormatUnknown {
				continue
			}
			y, ok := YearOf(e.Name())
			if !ok || y < from || y > to {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if prev, dup := out[y]; dup {
				return nil, fmt.Errorf("discover: year %d matches both %s and %s", y, filepath.Base(prev), e.Name())
			}
			out[y] = p
		}
	}
	for y, p := range overrides {
		if y >= from && y <= to {
			out[y] = p
		}
	}
	return out, nil
}

// Years returns the keys of a Discover result in ascending order.
func Years(files map[int]string) []int {
	ys := make([]int, 0, len(files))
	for y := range files {
		ys = append(ys, y)
	}
	sort.Ints(ys)
	return ys
}
