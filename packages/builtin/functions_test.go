package builtin

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/stagespec/packages/expr"
)

func eval(t *testing.T, r *Registry, src string) any {
	t.Helper()
	v, err := expr.Eval(src, expr.MapVars{"name": "bob"}, r.Option())
	require.NoError(t, err)
	return v
}

func TestFunctions(t *testing.T) {
	r := NewRegistry()
	r.now = func() time.Time { return time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC) }

	tests := []struct {
		src  string
		want any
	}{
		{"now()", "2024-03-05T10:30:00Z"},
		{"timestamp()", 1709634600},
		{"timestampMs()", 1709634600000},
		{"date()", "2024-03-05"},
		{"date('15:04')", "10:30"},
		{"base64('hello')", "aGVsbG8="},
		{"base64Decode('aGVsbG8=')", "hello"},
		{"md5('hello')", "5d41402abc4b2a76b9719d911017c592"},
		{"sha256('')", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"urlEncode('a b&c')", "a+b%26c"},
		{"urlDecode('a+b%26c')", "a b&c"},
		{"base64(name)", "Ym9i"},
		{"len(randomString())", 16},
		{"len(randomString(4))", 4},
		{"len(randomAlphanumeric(length=3))", 3},
		{"random(5, 5)", 5},
		{"env('STAGESPEC_TEST_UNSET_VAR', 'fallback')", "fallback"},
		{"str(1) + md5('x')[:2]", "19d"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, r, tt.src))
		})
	}
}

func TestFunctions_Random(t *testing.T) {
	r := NewRegistry()

	id, ok := eval(t, r, "uuid()").(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	n := eval(t, r, "random(1, 3)").(int)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 3)

	assert.Regexp(t, `^[a-z]{8}@[a-z]{6}\.com$`, eval(t, r, "randomEmail()"))
}

func TestFunctions_Env(t *testing.T) {
	t.Setenv("STAGESPEC_TEST_TOKEN", "secret")
	r := NewRegistry()
	assert.Equal(t, "secret", eval(t, r, "env('STAGESPEC_TEST_TOKEN')"))
	assert.Nil(t, eval(t, r, "env('STAGESPEC_TEST_MISSING')"))
}

func TestFunctions_Errors(t *testing.T) {
	r := NewRegistry()
	for _, src := range []string{
		"base64Decode('%%%')",
		"random(5, 1)",
		"random('a')",
		"randomString(-1)",
		"md5()",
		"env(1)",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := expr.Eval(src, nil, r.Option())
			assert.ErrorIs(t, err, expr.ErrType)
		})
	}

	_, err := expr.Eval("uuid()", nil)
	assert.ErrorIs(t, err, expr.ErrUnknownFunction, "host functions need the option")
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(args []any, _ map[string]any) (any, error) {
		return args[0].(int) * 2, nil
	})
	assert.Equal(t, 42, eval(t, r, "double(21)"))
	assert.Contains(t, r.Names(), "double")
	assert.Contains(t, r.Names(), "uuid")
}
