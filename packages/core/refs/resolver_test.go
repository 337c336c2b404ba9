package refs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func decode(t *testing.T, src string) any {
	t.Helper()
	doc, err := document.Decode([]byte(src), ".yaml")
	require.NoError(t, err)
	return doc
}

func TestResolve_InternalPointer(t *testing.T) {
	doc := decode(t, `
defs:
  user: {name: alice, roles: [admin]}
a:
  $ref: "#/defs/user"
`)
	out, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, map[string]any{"name": "alice", "roles": []any{"admin"}}, m["a"])
}

func TestResolve_SiblingOverlay(t *testing.T) {
	doc := decode(t, `
defs:
  req: {method: GET, headers: {Accept: json}}
stage:
  $ref: "#/defs/req"
  url: /users
  headers: {X-Trace: "1"}
`)
	out, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)

	stage := out.(map[string]any)["stage"]
	assert.Equal(t, map[string]any{
		"method":  "GET",
		"url":     "/users",
		"headers": map[string]any{"Accept": "json", "X-Trace": "1"},
	}, stage)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	doc := decode(t, `
base: {a: 1}
x: {$ref: "#/base", b: 2}
`)
	before := document.Clone(doc)
	_, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	assert.Equal(t, before, doc)
}

func TestResolve_Idempotent(t *testing.T) {
	doc := decode(t, `
base: {a: [1, 2]}
x: {$ref: "#/base"}
`)
	r := NewResolver()
	once, err := r.Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	twice, err := r.Resolve(once, "/tmp/doc.yaml")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestResolve_Cycles(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"self", `a: {$ref: "#/a"}`},
		{"whole document", `a: {$ref: "#"}`},
		{"mutual", "a: {$ref: \"#/b\"}\nb: {$ref: \"#/a\"}"},
		{"through intermediate", "a: {$ref: \"#/b/x\"}\nb: {$ref: \"#/a\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver().Resolve(decode(t, tt.src), "/tmp/doc.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCircular), "got %v", err)
		})
	}
}

func TestResolve_SameTargetTwiceIsNotACycle(t *testing.T) {
	doc := decode(t, `
d: {v: 1}
a: {$ref: "#/d"}
b: {$ref: "#/d"}
`)
	out, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, m["a"], m["b"])
}

func TestResolve_PointerThroughReference(t *testing.T) {
	doc := decode(t, `
defs: {inner: {deep: {value: 42}}}
alias: {$ref: "#/defs/inner"}
x: {$ref: "#/alias/deep/value"}
`)
	out, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	assert.Equal(t, 42, out.(map[string]any)["x"])
}

func TestResolve_EscapedPointerTokens(t *testing.T) {
	doc := decode(t, `
paths:
  "/users/{id}": {get: ok}
  "a~b": tilde
x: {$ref: "#/paths/~1users~1{id}/get"}
y: {$ref: "#/paths/a~0b"}
`)
	out, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "ok", m["x"])
	assert.Equal(t, "tilde", m["y"])
}

func TestResolve_ArrayIndices(t *testing.T) {
	doc := decode(t, `
list: [a, b, c]
m: {"01": literal}
ok: {$ref: "#/list/2"}
key: {$ref: "#/m/01"}
`)
	out, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "c", m["ok"])
	assert.Equal(t, "literal", m["key"])

	for _, ptr := range []string{"#/list/01", "#/list/9", "#/list/-", "#/missing"} {
		_, err := NewResolver().Resolve(decode(t, "list: [a]\nx: {$ref: \""+ptr+"\"}"), "/tmp/doc.yaml")
		assert.True(t, errors.Is(err, ErrPointer), "%s: got %v", ptr, err)
	}
}

func TestResolve_MergeConflict(t *testing.T) {
	doc := decode(t, `
base: {a: 1, list: [1]}
x: {$ref: "#/base", a: 2}
`)
	_, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMergeConflict))

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "/x/a", rerr.Path)
}

func TestResolve_ListMerge(t *testing.T) {
	doc := decode(t, `
base: {list: [1, 2]}
x: {$ref: "#/base", list: [3]}
`)
	_, err := NewResolver().Resolve(doc, "/tmp/doc.yaml")
	assert.True(t, errors.Is(err, ErrMergeConflict))

	out, err := NewResolver(WithListMerge(true)).Resolve(doc, "/tmp/doc.yaml")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, out.(map[string]any)["x"].(map[string]any)["list"])
}

func TestResolve_ExternalFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common/users.yaml", `
admin: {name: root, $ref: "#/defaults"}
defaults: {active: true}
`)
	main := writeFile(t, dir, "scenario.yaml", `
user:
  $ref: "common/users.yaml#/admin"
  email: root@example.com
whole: {$ref: "common/users.yaml"}
`)

	out, err := NewResolver().ResolveFile(main)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, map[string]any{"name": "root", "active": true, "email": "root@example.com"}, m["user"])
	assert.Contains(t, m["whole"].(map[string]any), "defaults")
}

func TestResolve_SamePointerInDifferentFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "other.yaml", "x: {$ref: \"#/y\"}\ny: from-other\n")
	main := writeFile(t, dir, "main.yaml", "x: {$ref: \"other.yaml#/x\"}\ny: from-main\n")

	out, err := NewResolver().ResolveFile(main)
	require.NoError(t, err)
	assert.Equal(t, "from-other", out.(map[string]any)["x"])
}

func TestResolve_CrossFileCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "v: {$ref: \"b.yaml#/v\"}\n")
	writeFile(t, dir, "b.yaml", "v: {$ref: \"a.yaml#/v\"}\n")

	_, err := NewResolver().ResolveFile(filepath.Join(dir, "a.yaml"))
	assert.True(t, errors.Is(err, ErrCircular), "got %v", err)
}

func TestResolve_PathSafety(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secret.yaml", "token: x\n")
	main := writeFile(t, dir, "project/sub/main.yaml", "x: {$ref: \"../../secret.yaml\"}\n")

	_, err := NewResolver(WithRootDir(filepath.Join(dir, "project"))).ResolveFile(main)
	assert.True(t, errors.Is(err, ErrEscapesRoot), "got %v", err)

	out, err := NewResolver(WithRootDir(dir)).ResolveFile(main)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"token": "x"}, out.(map[string]any)["x"])

	_, err = NewResolver(WithRootDir(dir), WithMaxParentTraversal(1)).ResolveFile(main)
	assert.True(t, errors.Is(err, ErrTraversal), "got %v", err)
}

func TestResolve_MissingFile(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.yaml", "x: {$ref: \"nope.yaml\"}\n")

	_, err := NewResolver().ResolveFile(main)
	assert.True(t, errors.Is(err, ErrFile), "got %v", err)
}

func TestResolve_InvalidRefValue(t *testing.T) {
	_, err := NewResolver().Resolve(decode(t, "x: {$ref: 12}"), "/tmp/doc.yaml")
	assert.True(t, errors.Is(err, ErrSyntax))

	_, err = NewResolver().Resolve(decode(t, "x: {$ref: \"#nope\"}"), "/tmp/doc.yaml")
	assert.True(t, errors.Is(err, ErrSyntax))
}

func TestParsePointer(t *testing.T) {
	ptr, err := ParsePointer("/a~1b/c~0d/0")
	require.NoError(t, err)
	assert.Equal(t, Pointer{"a/b", "c~d", "0"}, ptr)
	assert.Equal(t, "/a~1b/c~0d/0", ptr.String())

	ptr, err = ParsePointer("/~01")
	require.NoError(t, err)
	assert.Equal(t, Pointer{"~1"}, ptr)

	_, err = ParsePointer("/bad~2")
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		base    any
		overlay any
		want    any
		wantErr bool
	}{
		{"nil overlay keeps base", map[string]any{"a": 1}, nil, map[string]any{"a": 1}, false},
		{"nil base takes overlay", nil, "x", "x", false},
		{"nested maps", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": map[string]any{"c": 2}},
			map[string]any{"a": map[string]any{"b": 1, "c": 2}}, false},
		{"equal scalars", 3, 3.0, 3, false},
		{"different scalars", "a", "b", nil, true},
		{"map onto scalar", 1, map[string]any{}, nil, true},
		{"lists without list merge", []any{1}, []any{2}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.base, tt.overlay, false)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMergeConflict))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
