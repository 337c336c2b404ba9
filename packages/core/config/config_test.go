package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFindAndLoadConfig_Defaults(t *testing.T) {
	cfg, err := FindAndLoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.IsDefault())
	assert.Equal(t, 30*time.Second, cfg.TimeoutDuration())
	assert.True(t, cfg.GetFollowRedirects())
	assert.True(t, cfg.GetValidateSSL())
	assert.Equal(t, DefaultMaxParentTraversal, cfg.GetMaxParentTraversal())
	assert.Equal(t, DefaultMaxComprehension, cfg.MaxComprehension)
	assert.False(t, cfg.GetMergeLists())
	assert.Empty(t, cfg.Path)
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STAGESPEC_TEST_HOST", "https://api.example.com")
	writeFile(t, dir, ".stagespec.yaml", `
defaultEnvironment: staging
timeout: 5000
validateSSL: false
maxParentTraversal: 0
mergeLists: true
headers:
  X-Team: qa
environments:
  staging:
    baseURL: ${STAGESPEC_TEST_HOST}
    retryCount: 2
`)

	cfg, err := FindAndLoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ".stagespec.yaml"), cfg.Path)
	assert.Equal(t, 5*time.Second, cfg.TimeoutDuration())
	assert.False(t, cfg.GetValidateSSL())
	assert.True(t, cfg.GetFollowRedirects())
	assert.Equal(t, 0, cfg.GetMaxParentTraversal())
	assert.True(t, cfg.GetMergeLists())
	assert.Equal(t, "qa", cfg.Headers["x-team"])
	assert.Equal(t, map[string]any{
		"baseURL":    "https://api.example.com",
		"retryCount": 2,
	}, cfg.EnvironmentVariables(""))
	assert.Nil(t, cfg.EnvironmentVariables("prod"))
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "custom.json", `{"concurrency": 9, "output": "json", "bail": true}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Concurrency)
	assert.Equal(t, "json", cfg.Output)
	assert.True(t, cfg.GetBail())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("STAGESPEC_TIMEOUT", "1500")
	t.Setenv("STAGESPEC_LOGLEVEL", "debug")

	path := writeFile(t, t.TempDir(), "stagespec.config.json", `{"timeout": 3000}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad.yaml":   "timeout: [",
		"neg.json":   `{"timeout": -1}`,
		"out.json":   `{"output": "xml"}`,
		"envs.yaml":  "environments: [a, b]",
		"conf.toml":  "timeout = 1",
		"trav.json":  `{"maxParentTraversal": -2}`,
		"envsx.json": `{"environments": {"dev": 3}}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, dir, name, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Headers = map[string]string{"A": "1"}
	base.Environments = map[string]map[string]any{"dev": {"x": 1, "y": 2}}

	merged := base.Merge(&Config{
		Timeout:            100,
		ValidateSSL:        BoolPtr(false),
		MaxParentTraversal: IntPtr(0),
		Headers:            map[string]string{"B": "2"},
		Environments:       map[string]map[string]any{"dev": {"y": 3}},
	})

	assert.Equal(t, 100, merged.Timeout)
	assert.False(t, merged.GetValidateSSL())
	assert.True(t, merged.GetFollowRedirects())
	assert.Equal(t, 0, merged.GetMaxParentTraversal())
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, merged.Headers)
	assert.Equal(t, map[string]any{"x": 1, "y": 3}, merged.Environments["dev"])

	assert.Equal(t, map[string]string{"A": "1"}, base.Headers, "merge must not mutate the receiver")
	assert.Equal(t, 2, base.Environments["dev"]["y"])
	assert.Same(t, base, base.Merge(nil))
}
