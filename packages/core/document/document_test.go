package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_YAML(t *testing.T) {
	doc, err := Decode([]byte("name: demo\ncount: 3\nratio: 0.5\nitems: [1, two]\n1: numeric key\n"), ".yaml")
	require.NoError(t, err)

	m, ok := doc.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "demo", m["name"])
	assert.Equal(t, 3, m["count"])
	assert.Equal(t, 0.5, m["ratio"])
	assert.Equal(t, []any{1, "two"}, m["items"])
	assert.Equal(t, "numeric key", m["1"])
}

func TestDecode_JSONKeepsIntegers(t *testing.T) {
	doc, err := Decode([]byte(`{"id": 7, "price": 1.25, "nested": {"big": 12345678901}}`), ".json")
	require.NoError(t, err)

	m := doc.(map[string]any)
	assert.Equal(t, 7, m["id"])
	assert.Equal(t, 1.25, m["price"])
	assert.Equal(t, 12345678901, m["nested"].(map[string]any)["big"])
}

func TestParseJSON_TrailingData(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a": 1} {"b": 2}`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.yml")
	require.NoError(t, os.WriteFile(path, []byte("a: {b: true}"), 0644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": true}}, doc)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", 4, 4.0, true},
		{"different numbers", 4, 5, false},
		{"nested maps", map[string]any{"a": []any{1, "x"}}, map[string]any{"a": []any{1.0, "x"}}, true},
		{"missing key", map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{"string vs number", "1", 1, false},
		{"nil", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := map[string]any{"list": []any{map[string]any{"x": 1}}}
	cp := Clone(orig).(map[string]any)
	cp["list"].([]any)[0].(map[string]any)["x"] = 2

	assert.Equal(t, 1, orig["list"].([]any)[0].(map[string]any)["x"])
}

func TestIsDocument(t *testing.T) {
	assert.True(t, IsDocument("a/b.scenario.yaml"))
	assert.True(t, IsDocument("x.JSON"))
	assert.False(t, IsDocument("x.http"))
}
