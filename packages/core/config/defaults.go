package config

const (
	DefaultTimeoutMs          = 30000
	DefaultRetryDelayMs       = 1000
	DefaultMaxRedirects       = 10
	DefaultConcurrency        = 5
	DefaultMaxComprehension   = 10000
	DefaultMaxParentTraversal = 3
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultEnvironment: "dev",
		Timeout:            DefaultTimeoutMs,
		Retries:            0,
		RetryDelay:         DefaultRetryDelayMs,
		FollowRedirects:    boolPtr(true),
		MaxRedirects:       DefaultMaxRedirects,
		ValidateSSL:        boolPtr(true),
		Concurrency:        DefaultConcurrency,
		Bail:               boolPtr(false),
		Verbose:            boolPtr(false),
		NoColor:            boolPtr(false),
		MaxComprehension:   DefaultMaxComprehension,
		MaxParentTraversal: intPtr(DefaultMaxParentTraversal),
		MergeLists:         boolPtr(false),
		LogLevel:           "warn",
		LogFormat:          "color",
		Output:             "console",
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	d := DefaultConfig()
	return c.DefaultEnvironment == d.DefaultEnvironment &&
		len(c.Environments) == 0 &&
		c.Timeout == d.Timeout &&
		c.Retries == d.Retries &&
		c.RetryDelay == d.RetryDelay &&
		c.GetFollowRedirects() == d.GetFollowRedirects() &&
		c.MaxRedirects == d.MaxRedirects &&
		c.GetValidateSSL() == d.GetValidateSSL() &&
		c.Proxy == d.Proxy &&
		len(c.Headers) == 0 &&
		c.Concurrency == d.Concurrency &&
		c.GetBail() == d.GetBail() &&
		c.GetVerbose() == d.GetVerbose() &&
		c.GetNoColor() == d.GetNoColor() &&
		c.MaxComprehension == d.MaxComprehension &&
		c.RootDir == d.RootDir &&
		c.GetMaxParentTraversal() == d.GetMaxParentTraversal() &&
		c.GetMergeLists() == d.GetMergeLists() &&
		c.LogLevel == d.LogLevel &&
		c.LogFormat == d.LogFormat &&
		c.Output == d.Output
}
