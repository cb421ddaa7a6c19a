package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/obvius/pkg/logging"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind               = ":8080"
	DefaultProtocolPath       = "/api/obvius"
	DefaultMetricsPath        = "/metrics"
	DefaultReadHeaderTimeout  = 10 * time.Second
	DefaultIdleTimeout        = 2 * time.Minute
	DefaultMaxBodyBytes       = int64(32 << 20)
	DefaultMaxMultipartMemory = int64(8 << 20)
	DefaultLogLevel           = "info"
	DefaultServiceName        = "obvius"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Obvius  ObviusConfig  `yaml:"obvius"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Bind               string        `yaml:"bind"`
	Path               string        `yaml:"path"` // protocol endpoint path
	ReadHeaderTimeout  time.Duration `yaml:"read_header_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	MaxMultipartMemory int64         `yaml:"max_multipart_memory"`
}

// ObviusConfig holds the device protocol settings.
type ObviusConfig struct {
	// Password is the shared secret every device must submit.
	Password string `yaml:"password"`
}

// LoggingConfig controls the audit log sink.
type LoggingConfig struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"` // mirror events to stderr
}

// StorageConfig controls the optional STATUS report archive. An empty path
// disables archiving.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:               DefaultBind,
			Path:               DefaultProtocolPath,
			ReadHeaderTimeout:  DefaultReadHeaderTimeout,
			IdleTimeout:        DefaultIdleTimeout,
			MaxBodyBytes:       DefaultMaxBodyBytes,
			MaxMultipartMemory: DefaultMaxMultipartMemory,
		},
		Logging: LoggingConfig{
			Dir:    defaultLogDir(),
			Level:  DefaultLogLevel,
			Stderr: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(".obvius", "logs")
	}
	return filepath.Join(home, ".obvius", "logs")
}

// UserConfigPath returns ~/.obvius/config.yaml, or "" when HOME is unknown.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".obvius", "config.yaml")
}

// ProjectConfigPath returns ./.obvius/config.yaml.
func ProjectConfigPath() string {
	return filepath.Join(".", ".obvius", "config.yaml")
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if userConfigPath := UserConfigPath(); userConfigPath != "" {
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	if err := loadAndMerge(cfg, ProjectConfigPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBVIUS_PASSWORD"); v != "" {
		cfg.Obvius.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("OBVIUS_BIND")); v != "" {
		cfg.Server.Bind = v
	}
	if v := strings.TrimSpace(os.Getenv("OBVIUS_PATH")); v != "" {
		cfg.Server.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("OBVIUS_MAX_BODY_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OBVIUS_LOG_DIR")); v != "" {
		cfg.Logging.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("OBVIUS_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if val, ok := envBool("OBVIUS_LOG_STDERR"); ok {
		cfg.Logging.Stderr = val
	}
	if v, ok := os.LookupEnv("OBVIUS_DB_PATH"); ok {
		cfg.Storage.Path = strings.TrimSpace(v)
	}
	if val, ok := envBool("OBVIUS_METRICS"); ok {
		cfg.Metrics.Enabled = val
	}
	if val, ok := envBool("OBVIUS_TRACING"); ok {
		cfg.Tracing.Enabled = val
	}
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func (c *Config) normalize() {
	c.Server.Path = strings.TrimSpace(c.Server.Path)
	if len(c.Server.Path) > 1 {
		c.Server.Path = strings.TrimRight(c.Server.Path, "/")
	}
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
	c.Storage.Path = expandHomeDir(c.Storage.Path)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if strings.TrimSpace(c.Tracing.ServiceName) == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Obvius.Password == "" {
		return fmt.Errorf("obvius.password is required (set it in config.yaml or OBVIUS_PASSWORD)")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind cannot be empty")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("invalid server.path: %q (must start with /)", c.Server.Path)
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("server.read_header_timeout must be positive")
	}
	if c.Server.IdleTimeout <= 0 {
		return fmt.Errorf("server.idle_timeout must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Server.MaxMultipartMemory <= 0 {
		return fmt.Errorf("server.max_multipart_memory must be positive")
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("invalid logging.level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		return fmt.Errorf("logging.dir cannot be empty")
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("invalid metrics.path: %q (must start with /)", c.Metrics.Path)
		}
		if c.Metrics.Path == c.Server.Path {
			return fmt.Errorf("metrics.path must differ from server.path")
		}
	}
	return nil
}

// Redacted returns a copy safe for display, with the shared secret masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Obvius.Password != "" {
		out.Obvius.Password = "********"
	}
	return &out
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
