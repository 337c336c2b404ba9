package config

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
)

// EnvPrefix prefixes environment variables that override config keys,
// e.g. STAGESPEC_TIMEOUT=5000.
const EnvPrefix = "STAGESPEC"

// Config represents the stagespec configuration
type Config struct {
	DefaultEnvironment string                    `mapstructure:"defaultEnvironment" json:"defaultEnvironment,omitempty"`
	Environments       map[string]map[string]any `mapstructure:"environments" json:"environments,omitempty"`
	Timeout            int                       `mapstructure:"timeout" json:"timeout,omitempty"`       // milliseconds
	Retries            int                       `mapstructure:"retries" json:"retries,omitempty"`       // default stage retries
	RetryDelay         int                       `mapstructure:"retryDelay" json:"retryDelay,omitempty"` // milliseconds
	FollowRedirects    *bool                     `mapstructure:"followRedirects" json:"followRedirects,omitempty"`
	MaxRedirects       int                       `mapstructure:"maxRedirects" json:"maxRedirects,omitempty"`
	ValidateSSL        *bool                     `mapstructure:"validateSSL" json:"validateSSL,omitempty"`
	Proxy              string                    `mapstructure:"proxy" json:"proxy,omitempty"`
	Headers            map[string]string         `mapstructure:"headers" json:"headers,omitempty"` // Default headers for all requests
	Concurrency        int                       `mapstructure:"concurrency" json:"concurrency,omitempty"`
	Bail               *bool                     `mapstructure:"bail" json:"bail,omitempty"`
	Verbose            *bool                     `mapstructure:"verbose" json:"verbose,omitempty"`
	NoColor            *bool                     `mapstructure:"noColor" json:"noColor,omitempty"`
	MaxComprehension   int                       `mapstructure:"maxComprehension" json:"maxComprehension,omitempty"`
	RootDir            string                    `mapstructure:"rootDir" json:"rootDir,omitempty"`
	MaxParentTraversal *int                      `mapstructure:"maxParentTraversal" json:"maxParentTraversal,omitempty"`
	MergeLists         *bool                     `mapstructure:"mergeLists" json:"mergeLists,omitempty"`
	LogLevel           string                    `mapstructure:"logLevel" json:"logLevel,omitempty"`
	LogFormat          string                    `mapstructure:"logFormat" json:"logFormat,omitempty"`
	Output             string                    `mapstructure:"output" json:"output,omitempty"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-" json:"-"`
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(n int) *int {
	return &n
}

// BoolPtr is exported version of boolPtr for external use
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr is exported version of intPtr for external use
func IntPtr(n int) *int {
	return &n
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

func (c *Config) GetBail() bool {
	return getBool(c.Bail, false)
}

func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

func (c *Config) GetMergeLists() bool {
	return getBool(c.MergeLists, false)
}

// GetMaxParentTraversal defaults to DefaultMaxParentTraversal. Zero forbids
// ".." in file references.
func (c *Config) GetMaxParentTraversal() int {
	if c.MaxParentTraversal == nil {
		return DefaultMaxParentTraversal
	}
	return *c.MaxParentTraversal
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

// EnvironmentVariables returns the variables of the named environment, or
// of DefaultEnvironment when name is empty.
func (c *Config) EnvironmentVariables(name string) map[string]any {
	if name == "" {
		name = c.DefaultEnvironment
	}
	return maps.Clone(c.Environments[name])
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".stagespec.yaml",
	".stagespec.yml",
	".stagespec.json",
	"stagespec.config.yaml",
	"stagespec.config.json",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Defaults plus environment overrides if no config file found
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so environment overrides apply to all of
// them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("defaultEnvironment", d.DefaultEnvironment)
	v.SetDefault("environments", map[string]any{})
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("retryDelay", d.RetryDelay)
	v.SetDefault("followRedirects", *d.FollowRedirects)
	v.SetDefault("maxRedirects", d.MaxRedirects)
	v.SetDefault("validateSSL", *d.ValidateSSL)
	v.SetDefault("proxy", d.Proxy)
	v.SetDefault("headers", map[string]string{})
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("bail", *d.Bail)
	v.SetDefault("verbose", *d.Verbose)
	v.SetDefault("noColor", *d.NoColor)
	v.SetDefault("maxComprehension", d.MaxComprehension)
	v.SetDefault("rootDir", d.RootDir)
	v.SetDefault("maxParentTraversal", *d.MaxParentTraversal)
	v.SetDefault("mergeLists", *d.MergeLists)
	v.SetDefault("logLevel", d.LogLevel)
	v.SetDefault("logFormat", d.LogFormat)
	v.SetDefault("output", d.Output)
}

// loadConfigFromFile loads configuration from a specific file. ${VAR}
// references in the file are expanded from the process environment first.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	v := newViper()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json", "":
		v.SetConfigType("json")
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	// viper folds key case; variable names are case sensitive.
	if cfg.Environments, err = environments(expanded, path); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func environments(data []byte, path string) (map[string]map[string]any, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".json"
	}
	doc, err := document.Decode(data, ext)
	if err != nil {
		return nil, err
	}
	root, _ := doc.(map[string]any)
	raw, ok := root["environments"]
	if !ok || raw == nil {
		return nil, nil
	}
	envs, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("environments must be a mapping")
	}
	out := make(map[string]map[string]any, len(envs))
	for name, values := range envs {
		m, ok := values.(map[string]any)
		if values != nil && !ok {
			return nil, fmt.Errorf("environment %q must be a mapping", name)
		}
		out[name] = m
	}
	return out, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative")
	case c.Retries < 0:
		return fmt.Errorf("retries must not be negative")
	case c.Concurrency < 0:
		return fmt.Errorf("concurrency must not be negative")
	case c.MaxComprehension < 0:
		return fmt.Errorf("maxComprehension must not be negative")
	case c.MaxParentTraversal != nil && *c.MaxParentTraversal < 0:
		return fmt.Errorf("maxParentTraversal must not be negative")
	}
	switch c.Output {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown output %q (want console or json)", c.Output)
	}
	return nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.DefaultEnvironment != "" {
		result.DefaultEnvironment = other.DefaultEnvironment
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.Retries > 0 {
		result.Retries = other.Retries
	}
	if other.RetryDelay > 0 {
		result.RetryDelay = other.RetryDelay
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.Concurrency > 0 {
		result.Concurrency = other.Concurrency
	}
	if other.MaxComprehension > 0 {
		result.MaxComprehension = other.MaxComprehension
	}
	if other.RootDir != "" {
		result.RootDir = other.RootDir
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		result.LogFormat = other.LogFormat
	}
	if other.Output != "" {
		result.Output = other.Output
	}

	// Pointer fields - only override if explicitly set in other config
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.Bail != nil {
		result.Bail = other.Bail
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}
	if other.MaxParentTraversal != nil {
		result.MaxParentTraversal = other.MaxParentTraversal
	}
	if other.MergeLists != nil {
		result.MergeLists = other.MergeLists
	}

	if len(other.Headers) > 0 {
		result.Headers = maps.Clone(result.Headers)
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		maps.Copy(result.Headers, other.Headers)
	}

	if len(other.Environments) > 0 {
		result.Environments = maps.Clone(result.Environments)
		if result.Environments == nil {
			result.Environments = make(map[string]map[string]any)
		}
		for name, values := range other.Environments {
			merged := maps.Clone(result.Environments[name])
			if merged == nil {
				merged = make(map[string]any)
			}
			maps.Copy(merged, values)
			result.Environments[name] = merged
		}
	}

	return &result
}
