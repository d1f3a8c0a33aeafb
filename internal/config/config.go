package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the production Glean REST API root.
	DefaultBaseURL = "https://scio-prod-be.glean.com/rest/api/v1/"
	// DefaultTimeout bounds a single chat request end to end.
	DefaultTimeout = 300 * time.Second

	DefaultPort               = 8080
	DefaultMaxConcurrentCalls = 8

	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Environment variables recognised by LoadWithEnv.
const (
	EnvAPIKey   = "GLEAN_API_KEY"
	EnvBaseURL  = "GLEAN_BASE_URL"
	EnvTimeout  = "GLEAN_TIMEOUT"
	EnvActAs    = "GLEAN_ACT_AS"
	EnvLogLevel = "GLEAN_MCP_LOG_LEVEL"
)

// DotenvFile is read from the working directory when present. Variables
// already set in the process environment take precedence over it.
const DotenvFile = ".env"

// actAsHeader selects the user a global Glean token acts on behalf of.
const actAsHeader = "X-Scio-ActAs"

// Config is the process-wide configuration, built once at startup and
// treated as immutable afterwards.
type Config struct {
	Glean  GleanConfig  `yaml:"glean"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// GleanConfig captures authentication and routing for the Glean API.
type GleanConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Headers Headers       `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with each Glean request.
type Headers map[string]string

// ServerConfig defines how the MCP server is exposed.
type ServerConfig struct {
	Transport          string `yaml:"transport"`
	Port               int    `yaml:"port"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
}

// LogConfig selects the minimum slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Glean: GleanConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultTimeout,
		},
		Server: ServerConfig{
			Transport:          TransportStdio,
			Port:               DefaultPort,
			MaxConcurrentCalls: DefaultMaxConcurrentCalls,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from an optional YAML file, the process
// environment and a .env file in the working directory.
func Load(path string) (Config, error) {
	lookup, err := EnvLookup(DotenvFile)
	if err != nil {
		return Config{}, err
	}
	return LoadWithEnv(path, lookup)
}

// EnvLookup resolves variables from the process environment first and then
// from the given dotenv files in order. Missing files are skipped.
func EnvLookup(files ...string) (LookupFunc, error) {
	dotenv := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read dotenv file %q: %w", file, err)
		}
		for k, v := range values {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// LoadWithEnv reads YAML configuration from path when it is non-empty,
// overlays environment values resolved through lookup, and validates the
// result. A missing API key is not a load error.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	if v, ok := lookup(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		c.Glean.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.Glean.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTimeout); ok && strings.TrimSpace(v) != "" {
		timeout, err := parseTimeout(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.Glean.Timeout = timeout
	}
	if v, ok := lookup(EnvActAs); ok && strings.TrimSpace(v) != "" {
		if c.Glean.Headers == nil {
			c.Glean.Headers = make(Headers)
		}
		c.Glean.Headers[actAsHeader] = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

// parseTimeout accepts Go durations ("90s") or a bare number of seconds.
func parseTimeout(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", value)
	}
	return d, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if err := c.Glean.validate(); err != nil {
		return err
	}

	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("server.transport %q must be one of %q or %q", c.Server.Transport, TransportStdio, TransportHTTP)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("server.max_concurrent_calls must be positive, got %d", c.Server.MaxConcurrentCalls)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (g GleanConfig) validate() error {
	baseURL := strings.TrimSpace(g.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("glean.base_url must be provided")
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("glean.base_url %q must be an absolute http(s) URL", g.BaseURL)
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("glean.timeout must be positive, got %s", g.Timeout)
	}

	for headerKey := range g.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("glean: header %q is not a valid canonical HTTP header", headerKey)
		}
		if strings.EqualFold(headerKey, "Authorization") {
			return fmt.Errorf("glean: header %q is managed by the client and cannot be overridden", headerKey)
		}
	}
	return nil
}

// HasAPIKey reports whether outbound calls can be authenticated.
func (g GleanConfig) HasAPIKey() bool {
	return strings.TrimSpace(g.APIKey) != ""
}

// ParseLevel maps a textual level to its slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q must be one of debug, info, warn or error", level)
	}
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
