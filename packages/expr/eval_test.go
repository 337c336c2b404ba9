package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVars = MapVars{
	"x":     3,
	"y":     2.5,
	"name":  "Alice",
	"items": []any{1, 2, 3, 4},
	"user": map[string]any{
		"id":    42,
		"roles": []any{"admin", "dev"},
		"email": "alice@example.com",
	},
	"empty":   []any{},
	"nothing": nil,
	"flag":    true,
	"count64": int64(7),
}

func TestEval_Values(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"1 + 2", 3},
		{"x * 2", 6},
		{"x + y", 5.5},
		{"7 / 2", 3.5},
		{"7 // 2", 3},
		{"-7 // 2", -4},
		{"-7 % 3", 2},
		{"2 ** 10", 1024},
		{"2 ** -1", 0.5},
		{"-x", -3},
		{"not flag", false},
		{"'a' + 'b'", "ab"},
		{"'ab' * 3", "ababab"},
		{"[1] * 3", []any{1, 1, 1}},
		{"[1, 2] + [3]", []any{1, 2, 3}},
		{"1 < 2 < 3", true},
		{"1 < 3 < 2", false},
		{"x == 3.0", true},
		{"x != 3", false},
		{"'dev' in user.roles", true},
		{"'ops' not in user.roles", true},
		{"'lic' in name", true},
		{"'id' in user", true},
		{"nothing is None", true},
		{"flag is not None", true},
		{"x if flag else 0", 3},
		{"x if not flag else 0", 0},
		{"nothing or 'fallback'", "fallback"},
		{"x and 'yes'", "yes"},
		{"empty and 'no'", []any{}},
		{"user.id", 42},
		{"user['email']", "alice@example.com"},
		{"user.roles[-1]", "dev"},
		{"items[1:3]", []any{2, 3}},
		{"items[::-1]", []any{4, 3, 2, 1}},
		{"items[-2:]", []any{3, 4}},
		{"name[0]", "A"},
		{"name[1:3]", "li"},
		{"count64 + 1", 8},
		{"{'a': 1, 'b': [x]}", map[string]any{"a": 1, "b": []any{3}}},
		{"{1: 'one'}", map[string]any{"1": "one"}},
		{"(1, 2)", []any{1, 2}},
		{"()", []any{}},
		{"True and None is null", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, testVars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Comprehensions(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"[i * 2 for i in items]", []any{2, 4, 6, 8}},
		{"[i for i in items if i % 2 == 0]", []any{2, 4}},
		{"[i * j for i in [1, 2] for j in [10, 100]]", []any{10, 100, 20, 200}},
		{"{k: v for k, v in [['a', 1], ['b', 2]]}", map[string]any{"a": 1, "b": 2}},
		{"{i % 2 for i in items}", []any{1, 0}},
		{"sum(i for i in items)", 10},
		{"[a if a > 2 else 0 for a in items]", []any{0, 0, 3, 4}},
		{"[p[0] for p in enumerate(['a', 'b'])]", []any{0, 1}},
		{"[i for i in []]", []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, testVars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_ComprehensionVariablesDoNotLeak(t *testing.T) {
	_, err := Eval("[i for i in items] + [i]", testVars)
	assert.True(t, errors.Is(err, ErrUndefinedName))
}

func TestEval_Builtins(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"int('42')", 42},
		{"int(3.9)", 3},
		{"float('1.5')", 1.5},
		{"str(12)", "12"},
		{"str(None)", "null"},
		{"str([1, 'a'])", `[1,"a"]`},
		{"bool([])", false},
		{"len(items)", 4},
		{"len(name)", 5},
		{"len(user)", 3},
		{"min(items)", 1},
		{"max(3, 9, 4)", 9},
		{"max([], default=0)", 0},
		{"sum(items)", 10},
		{"sum([0.5, 1])", 1.5},
		{"abs(-3)", 3},
		{"round(2.567, 2)", 2.57},
		{"round(2.5)", 2},
		{"sorted([3, 1, 2])", []any{1, 2, 3}},
		{"sorted(['b', 'a'], reverse=True)", []any{"b", "a"}},
		{"reversed(items)", []any{4, 3, 2, 1}},
		{"enumerate(['a'], start=1)", []any{[]any{1, "a"}}},
		{"zip([1, 2, 3], ['a', 'b'])", []any{[]any{1, "a"}, []any{2, "b"}}},
		{"range(3)", []any{0, 1, 2}},
		{"range(10, 0, -4)", []any{10, 6, 2}},
		{"list('ab')", []any{"a", "b"}},
		{"list(set([1, 1, 2]))", []any{1, 2}},
		{"dict([['k', 1]], z=2)", map[string]any{"k": 1, "z": 2}},
		{"any([0, '', 3])", true},
		{"all([1, 'x', []])", false},
		{"get_var('x')", 3},
		{"get_var('missing', 'd')", "d"},
		{"get_var('missing')", nil},
		{"get_var('user.roles.0')", "admin"},
		{"has_var('user.email')", true},
		{"has_var('user.phone')", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, testVars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Methods(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"name.lower()", "alice"},
		{"name.upper()", "ALICE"},
		{"'  pad '.strip()", "pad"},
		{"user.email.split('@')", []any{"alice", "example.com"}},
		{"'a,b,c'.split(',', 1)", []any{"a", "b,c"}},
		{"'-'.join(['a', 'b'])", "a-b"},
		{"name.startswith('Al')", true},
		{"name.endswith(['x', 'ce'])", true},
		{"name.replace('A', 'a')", "alice"},
		{"name.find('i')", 2},
		{"'123'.isdigit()", true},
		{"user.get('id')", 42},
		{"user.get('phone', 'none')", "none"},
		{"user.keys()", []any{"email", "id", "roles"}},
		{"[k for k, v in user.items() if v == 42]", []any{"id"}},
		{"items.index(3)", 2},
		{"items.count(9)", 0},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, testVars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	tests := []struct {
		expr string
		want error
	}{
		{"undefined_thing", ErrUndefinedName},
		{"open('/etc/passwd')", ErrUnknownFunction},
		{"__import__('os')", ErrUnknownFunction},
		{"x()", ErrType},
		{"user.phone", ErrAttribute},
		{"user.__class__", ErrAttribute},
		{"name.__len__()", ErrAttribute},
		{"name.nosuch()", ErrAttribute},
		{"'a' + 1", ErrType},
		{"len(3)", ErrType},
		{"int('abc')", ErrType},
		{"[[1]] in {1}", ErrType},
		{"{[1]}", ErrType},
		{"1 < 'a'", ErrType},
		{"1 / 0", ErrZeroDivision},
		{"1 // 0", ErrZeroDivision},
		{"5 % 0", ErrZeroDivision},
		{"items[10]", ErrIndex},
		{"user['nope']", ErrKey},
		{"1 +", ErrSyntax},
		{"(1", ErrSyntax},
		{"'unterminated", ErrSyntax},
		{"x = 1", ErrSyntax},
		{"lambda: 1", ErrSyntax},
		{"1 $ 2", ErrSyntax},
		{"f(a=1, 2)", ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Eval(tt.expr, testVars)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.expr, e.Expr)
		})
	}
}

func TestEval_ComplexityCeiling(t *testing.T) {
	_, err := Eval("[i for i in range(100000)]", nil)
	assert.True(t, errors.Is(err, ErrTooComplex))

	_, err = Eval("[a for a in range(200) for b in range(200)]", nil)
	assert.True(t, errors.Is(err, ErrTooComplex))

	_, err = Eval("'x' * 1000000", nil)
	assert.True(t, errors.Is(err, ErrTooComplex))

	got, err := Eval("len([i for i in range(50)])", nil, WithMaxComprehension(100))
	require.NoError(t, err)
	assert.Equal(t, 50, got)

	_, err = Eval("len([i for i in range(50)])", nil, WithMaxComprehension(60))
	assert.True(t, errors.Is(err, ErrTooComplex))
}

func TestEval_HugeSizesAreRejectedNotAllocated(t *testing.T) {
	tests := []string{
		"'ab' * 2**62",
		"[1, 2] * 2**62",
		"2**62 * [1, 2]",
		"range(-2**62 * 2, 2**62 * 2 - 1)",
		"range(2**62 * 2 - 1, -2**62 * 2, -1)",
		"range(0, 2**62, 1)",
		"len([1] * 50 + [2] * 2**61)",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Eval(src, nil) })
			assert.True(t, errors.Is(err, ErrTooComplex), "got %v", err)
		})
	}

	got, err := Eval("[] * 2**62", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)

	got, err = Eval("'' * 2**62", nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestEval_DeepNestingIsRejected(t *testing.T) {
	src := ""
	for i := 0; i < 300; i++ {
		src += "("
	}
	src += "1"
	for i := 0; i < 300; i++ {
		src += ")"
	}
	_, err := Eval(src, nil)
	assert.True(t, errors.Is(err, ErrTooComplex))
}

func TestEval_DoesNotMutateVariables(t *testing.T) {
	list := []any{3, 1, 2}
	vars := MapVars{"l": list}
	_, err := Eval("sorted(l) + reversed(l)", vars)
	require.NoError(t, err)
	assert.Equal(t, []any{3, 1, 2}, list)
}

func TestProgram_Reuse(t *testing.T) {
	p, err := Compile("a + 1")
	require.NoError(t, err)
	assert.Equal(t, "a + 1", p.Source())

	v1, err := p.Eval(MapVars{"a": 1})
	require.NoError(t, err)
	v2, err := p.Eval(MapVars{"a": 10})
	require.NoError(t, err)
	assert.Equal(t, 2, v1)
	assert.Equal(t, 11, v2)
}

func TestToText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{42, "42"},
		{2.5, "2.5"},
		{5.0, "5"},
		{"s", "s"},
		{[]any{1, "a", nil}, `[1,"a",null]`},
		{map[string]any{"b": 1, "a": true}, `{"a":true,"b":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToText(tt.in))
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy("0"))
	assert.True(t, Truthy([]any{nil}))
}
