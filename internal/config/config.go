// ABOUTME: Configuration loading and defaults for meridian
// ABOUTME: Handles defaults, environment variables, and data directory resolution

package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the complete configuration for meridian.
type Config struct {
	// Data directory for the database artifact and sidecar files.
	DataDir string `yaml:"data_dir"`

	// HTTP server configuration.
	HTTP HTTPConfig `yaml:"http"`

	// Database refresh configuration.
	Refresh RefreshConfig `yaml:"refresh"`

	// Lookup cache configuration.
	Cache CacheConfig `yaml:"cache"`

	// NATS configuration.
	NATS NATSConfig `yaml:"nats"`

	// Redis configuration.
	Redis RedisConfig `yaml:"redis"`

	// Logging configuration.
	Log LogConfig `yaml:"log"`

	// Tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`

	// CORS origins allowed to read the API. "*" allows any origin;
	// empty disables CORS headers entirely.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Mask host bits of client addresses in access logs.
	AnonymizeClientIPs bool `yaml:"anonymize_client_ips"`
}

// CacheConfig holds lookup response cache settings.
type CacheConfig struct {
	// Enabled controls whether lookups are cached.
	Enabled bool `yaml:"enabled"`

	// Dir is the cache directory. Empty means in-memory only.
	Dir string `yaml:"dir"`

	// TTL is how long a cached response stays valid, expressed as a
	// duration string (e.g. "15m").
	TTL string `yaml:"ttl"`

	// BloomCapacity sizes the front bloom filter.
	BloomCapacity uint `yaml:"bloom_capacity"`

	// BloomFPRate is the target false positive rate.
	BloomFPRate float64 `yaml:"bloom_fp_rate"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// RedisConfig holds redis-backed rate limiting settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	// RequestsPerMinute caps lookups per client address. Zero uses the
	// limiter's default limit.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// DefaultConfig returns a Config with default values.
// All external dependencies (NATS, redis, tracing) are disabled by default
// for standalone single-binary operation.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		HTTP: HTTPConfig{
			Addr:               ":8080",
			CORSAllowedOrigins: nil,
			AnonymizeClientIPs: false,
		},
		Refresh: DefaultRefreshConfig(),
		Cache: CacheConfig{
			Enabled:       true,
			Dir:           "", // In-memory by default.
			TTL:           "15m",
			BloomCapacity: 1_000_000,
			BloomFPRate:   0.01,
		},
		NATS: NATSConfig{
			// Disabled by default; set URL to enable
			URL:     "",
			Subject: "meridian.lookup",
			Queue:   "meridian-lookups",
		},
		Redis: RedisConfig{
			// Disabled by default; set Addr to enable
			Addr:              "",
			Prefix:            "meridian:",
			RequestsPerMinute: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text", // Human-readable by default
		},
		Tracing: TracingConfig{
			Enabled:       false, // Disabled by default
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// ApplyEnv overlays environment variables on top of the config. The variable
// names match the service's historical deployment contract, so existing
// manifests keep working without flag changes.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MAXMIND_DB_URL"); v != "" {
		c.Refresh.URL = v
	}

	host := os.Getenv("HOST")
	port := os.Getenv("PORT")
	if host != "" || port != "" {
		curHost, curPort, err := net.SplitHostPort(c.HTTP.Addr)
		if err != nil {
			curHost, curPort = "", "8080"
		}
		if host == "" {
			host = curHost
		}
		if port == "" {
			port = curPort
		}
		c.HTTP.Addr = net.JoinHostPort(host, port)
	}

	if v := os.Getenv("CA_BUNDLE"); v != "" {
		c.Refresh.CABundle = v
	}
	if v := os.Getenv("DANGER_ACCEPT_INVALID_CERTS"); v != "" {
		c.Refresh.InsecureSkipVerify = parseBool(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.CORSAllowedOrigins = SplitOrigins(v)
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// SplitOrigins parses a comma-separated origin list. A single "*" means any
// origin.
func SplitOrigins(s string) []string {
	if strings.TrimSpace(s) == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// parseBool treats the usual truthy spellings as true.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "on":
		return true
	}
	return false
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	// Try XDG_DATA_HOME first.
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "meridian")
	}

	// Fall back to home directory.
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/meridian"
	}

	return filepath.Join(home, ".local", "share", "meridian")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	// Try XDG_CONFIG_HOME first.
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "meridian", "config.yaml")
	}

	// Fall back to home directory.
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/meridian/config.yaml"
	}

	return filepath.Join(home, ".config", "meridian", "config.yaml")
}
