package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Args is the decoded argument object of a tool call.
type Args map[string]any

var (
	errNotObject    = errors.New("arguments are not a JSON object")
	errTrailingData = errors.New("unexpected data after arguments object")
)

// ParseArgs decodes raw argument text. Empty text yields empty args. The text
// must hold exactly one JSON object. Numbers are kept as json.Number.
func ParseArgs(raw string) (Args, error) {
	if strings.TrimSpace(raw) == "" {
		return Args{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Args{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Args{}, errTrailingData
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Args{}, errNotObject
	}
	return Args(m), nil
}

// String returns a string argument. Absent, null and non-string values report
// false; an empty string is present.
func (a Args) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Enabled is true only for a literal JSON true.
func (a Args) Enabled(key string) bool {
	b, ok := a[key].(bool)
	return ok && b
}
