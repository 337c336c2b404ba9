package env

import (
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
)

// VarPrefix marks process environment variables that become scenario
// variables, e.g. STAGESPEC_VAR_token=abc defines token.
const VarPrefix = "STAGESPEC_VAR_"

type Environment struct {
	Name      string
	Variables map[string]any
	// Files lists the dotenv files that were read.
	Files []string
}

// DotEnvFiles returns the dotenv file names read for envName, in load order.
func DotEnvFiles(envName string) []string {
	files := []string{".env", ".env.local"}
	if envName != "" {
		files = append(files, ".env."+envName)
	}
	return files
}

func LoadEnvironment(dir, envName string, configEnvs map[string]map[string]any) (*Environment, error) {
	env := &Environment{
		Name:      envName,
		Variables: make(map[string]any),
	}

	maps.Copy(env.Variables, configEnvs[envName])

	for _, name := range DotEnvFiles(envName) {
		path := filepath.Join(dir, name)
		vars, err := LoadDotEnv(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			env.Variables[k] = v
		}
		env.Files = append(env.Files, path)
	}

	maps.Copy(env.Variables, LoadSystemEnv(VarPrefix))
	return env, nil
}

func MergeVariables(sources ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, src := range sources {
		maps.Copy(result, src)
	}
	return result
}

// LoadSystemEnv returns the process environment variables starting with
// prefix, with the prefix removed. An empty prefix returns everything.
func LoadSystemEnv(prefix string) map[string]any {
	result := make(map[string]any)
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if prefix == "" {
			result[key] = value
		} else if name, found := strings.CutPrefix(key, prefix); found && name != "" {
			result[name] = value
		}
	}
	return result
}
