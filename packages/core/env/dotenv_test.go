package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("DOTENV_TEST_HOST", "db.local")

	tests := []struct {
		name     string
		content  string
		expected map[string]string
	}{
		{name: "simple key-value", content: "API_KEY=secret123", expected: map[string]string{"API_KEY": "secret123"}},
		{name: "multiple keys", content: "KEY1=value1\n\nKEY2=value2", expected: map[string]string{"KEY1": "value1", "KEY2": "value2"}},
		{name: "whitespace trimmed", content: "  API_KEY  =  secret  ", expected: map[string]string{"API_KEY": "secret"}},
		{name: "empty value", content: "EMPTY=", expected: map[string]string{"EMPTY": ""}},
		{name: "export prefix", content: "export TOKEN=abc", expected: map[string]string{"TOKEN": "abc"}},
		{name: "comments skipped", content: "# comment\nAPI_KEY=secret", expected: map[string]string{"API_KEY": "secret"}},
		{name: "inline comment", content: "API_KEY=secret # rotate monthly", expected: map[string]string{"API_KEY": "secret"}},
		{name: "hash inside value", content: "COLOR=#fff", expected: map[string]string{"COLOR": "#fff"}},
		{name: "value with equals sign", content: "DSN=postgres://u:p@h/db?ssl=true", expected: map[string]string{"DSN": "postgres://u:p@h/db?ssl=true"}},
		{name: "double quoted", content: `MSG="hello world" # greeting`, expected: map[string]string{"MSG": "hello world"}},
		{name: "double quoted escapes", content: `MSG="line1\nsay \"hi\""`, expected: map[string]string{"MSG": "line1\nsay \"hi\""}},
		{name: "single quoted is literal", content: `RAW='${HOME} \n # kept'`, expected: map[string]string{"RAW": `${HOME} \n # kept`}},
		{name: "expands earlier names", content: "HOST=api.local\nURL=https://${HOST}/v1", expected: map[string]string{"HOST": "api.local", "URL": "https://api.local/v1"}},
		{name: "expands process env", content: `URL="postgres://$DOTENV_TEST_HOST/app"`, expected: map[string]string{"URL": "postgres://db.local/app"}},
		{name: "only comments", content: "# a\n# b", expected: map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := LoadDotEnv(writeEnv(t, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadDotEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "missing equals", content: "OK=1\nBROKEN", errMsg: ":2: expected NAME=value"},
		{name: "space in name", content: "MY KEY=1", errMsg: "expected NAME=value"},
		{name: "unterminated double quote", content: `A="open`, errMsg: "unterminated double quote"},
		{name: "unterminated single quote", content: `A='open`, errMsg: "unterminated single quote"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDotEnv(writeEnv(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := LoadDotEnv("/nonexistent/path/.env")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadAndExportDotEnv(t *testing.T) {
	t.Setenv("DOTENV_EXPORT_KEEP", "from-env")
	t.Setenv("DOTENV_EXPORT_NEW", "")
	require.NoError(t, os.Unsetenv("DOTENV_EXPORT_NEW"))

	vars, err := LoadAndExportDotEnv(writeEnv(t, "DOTENV_EXPORT_KEEP=from-file\nDOTENV_EXPORT_NEW=fresh\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-file", vars["DOTENV_EXPORT_KEEP"])
	assert.Equal(t, "from-env", os.Getenv("DOTENV_EXPORT_KEEP"))
	assert.Equal(t, "fresh", os.Getenv("DOTENV_EXPORT_NEW"))
}
