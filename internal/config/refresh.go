// ABOUTME: Refresh configuration types for the database refresher
// ABOUTME: Configures the source URL, interval, transport, and retry settings

package config

import "time"

// RefreshConfig configures the database refresh pipeline.
type RefreshConfig struct {
	// URL is the database source. http(s):// and gs:// schemes are
	// supported. Empty runs the service in static-file mode: the
	// on-disk artifact is served as-is and never fetched.
	URL string `yaml:"url"`

	// Interval is how often the timer checks for a new database.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single fetch.
	Timeout time.Duration `yaml:"timeout"`

	// MaxSize caps the downloaded payload in bytes.
	MaxSize int64 `yaml:"max_size"`

	// UserAgent is sent on fetch requests.
	UserAgent string `yaml:"user_agent"`

	// CABundle is a path to a PEM bundle trusted for the source.
	// Empty uses the system pool.
	CABundle string `yaml:"ca_bundle"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// Retry configures retry behavior for the startup cycle.
	// If nil, uses DefaultRetryConfig().
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// GetRetry returns the retry configuration, using defaults if not set.
func (c *RefreshConfig) GetRetry() RetryConfig {
	if c.Retry != nil {
		return *c.Retry
	}
	return DefaultRetryConfig()
}

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64 `yaml:"multiplier"`

	// JitterFraction is the fraction of delay to randomize (0-1).
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// DefaultRefreshConfig returns a RefreshConfig with sensible defaults.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		URL:       "",
		Interval:  24 * time.Hour,
		Timeout:   5 * time.Minute,
		MaxSize:   512 * 1024 * 1024,
		UserAgent: "meridian-updater/1.0",
		Retry:     nil, // Uses DefaultRetryConfig via GetRetry().
	}
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialDelay:   5 * time.Second,
		MaxDelay:       2 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}
