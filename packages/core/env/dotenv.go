package env

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadDotEnv parses a dotenv file. Each non-comment line is
// [export] NAME=value where value is one of:
//
//	bare text       trailing " # comment" removed, ${VAR} expanded
//	"double quoted" Go escapes, ${VAR} expanded
//	'single quoted' taken literally
//
// ${VAR} and $VAR resolve against names defined earlier in the file, then
// the process environment. Nothing is exported; see LoadAndExportDotEnv.
func LoadDotEnv(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open env file: %w", err)
	}
	defer file.Close()

	result := make(map[string]string)
	lookup := func(name string) string {
		if v, ok := result[name]; ok {
			return v
		}
		return os.Getenv(name)
	}

	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("%s:%d: expected NAME=value", path, lineNo)
		}

		value, err := parseValue(strings.TrimSpace(raw), lookup)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", path, lineNo, key, err)
		}
		result[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	return result, nil
}

func parseValue(raw string, lookup func(string) string) (string, error) {
	if raw == "" {
		return "", nil
	}
	switch raw[0] {
	case '\'':
		end := strings.IndexByte(raw[1:], '\'')
		if end < 0 {
			return "", fmt.Errorf("unterminated single quote")
		}
		return raw[1 : end+1], nil
	case '"':
		end := closingQuote(raw)
		if end < 0 {
			return "", fmt.Errorf("unterminated double quote")
		}
		s, err := strconv.Unquote(raw[:end+1])
		if err != nil {
			return "", err
		}
		return os.Expand(s, lookup), nil
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return os.Expand(raw, lookup), nil
}

// closingQuote returns the index of the unescaped '"' ending the string
// opened at s[0], or -1.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// LoadAndExportDotEnv loads path and exports every name not already set in
// the process environment, so later ${VAR} references in config files and
// STAGESPEC_VAR_* lookups see them.
func LoadAndExportDotEnv(path string) (map[string]string, error) {
	vars, err := LoadDotEnv(path)
	if err != nil {
		return nil, err
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", k, err)
		}
	}
	return vars, nil
}
