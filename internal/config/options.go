package config

import (
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

// Options is a free-form JSON object of parser knobs with typed accessors.
// Accessors return def when the key is absent or has the wrong shape.
type Options map[string]any

func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

func (o Options) Bool(key string, def bool) bool {
	switch v := o.Any(key).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	switch v := o.Any(key).(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (o Options) String(key, def string) string {
	if v, ok := o.Any(key).(string); ok {
		return v
	}
	return def
}

// Rune returns the first rune of a string option, e.g. a CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	s, ok := o.Any(key).(string)
	if !ok || s == "" {
		return def
	}
	if s == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// StringMap returns a string-to-string object option.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	switch v := o.Any(key).(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]any:
		for k, raw := range v {
			if s, ok := raw.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}
