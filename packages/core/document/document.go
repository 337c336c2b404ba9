// Package document loads scenario documents into plain Go trees made of
// map[string]any, []any, string, int, float64, bool and nil.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extensions lists the file extensions Load understands.
var Extensions = []string{".yaml", ".yml", ".json"}

// IsDocument reports whether path has a supported document extension.
func IsDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load reads and decodes the document at path. JSON is used for .json files,
// YAML for everything else.
func Load(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return doc, nil
}

// Decode parses data according to ext (".json" or a YAML extension).
func Decode(data []byte, ext string) (any, error) {
	if strings.EqualFold(ext, ".json") {
		return ParseJSON(data)
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// ParseJSON decodes a single JSON value, keeping integers as int.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return Normalize(v), nil
}

// Normalize converts decoder output into the canonical tree types: maps with
// non-string keys get stringified keys, every integer type becomes int, every
// float type becomes float64 and json.Number is parsed.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Normalize(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = Normalize(vv)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = vv
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Normalize(vv)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = vv
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case uint:
		return int(t)
	case uint8:
		return int(t)
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// Clone returns a deep copy of maps and slices in v. Scalars are shared.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Clone(vv)
		}
		return out
	default:
		return v
	}
}

// Equal reports deep equality of two trees. Numbers compare by value, so
// int(4) equals float64(4).
func Equal(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}

	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	return a == b
}

func number(v any) (float64, bool) {
	switch n := Normalize(v).(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// TypeName names the tree type of v for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "mapping"
	case []any:
		return "sequence"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
