package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Archive backends selectable with ARCHIVE_BACKEND.
const (
	BackendXnat     = "xnat"
	BackendPostgres = "postgres"
	BackendFixture  = "fixture"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application configuration.
type Config struct {
	ListenAddress string `yaml:"listen_address"`
	ArchiveRoot   string `yaml:"archive_root"`
	Backend       string `yaml:"backend"`

	XnatURL      string `yaml:"xnat_url"`
	XnatUser     string `yaml:"xnat_user"`
	XnatPassword string `yaml:"xnat_password"`
	DatabaseURL  string `yaml:"database_url"`
	FixtureFile  string `yaml:"fixture_file"`

	ParseWorkers      int           `yaml:"parse_workers"`
	RenderQuality     int           `yaml:"render_quality"`
	HttpClientTimeout time.Duration `yaml:"http_client_timeout"`

	Debug          bool     `yaml:"debug"`
	LogFormat      string   `yaml:"log_format"` // text or json
	AllowedOrigins []string `yaml:"cors_allowed_origins"`

	OtelEnabled        bool   `yaml:"otel_enabled"`
	OtelEndpoint       string `yaml:"otel_endpoint"`
	OtelServiceName    string `yaml:"otel_service_name"`
	OtelServiceVersion string `yaml:"otel_service_version"`

	// ACL maps a user name to the projects it may read. Empty means the
	// archive backend alone decides.
	ACL map[string][]string `yaml:"acl"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddress:      ":8080",
		ArchiveRoot:        "/data/xnat/archive",
		Backend:            BackendXnat,
		XnatURL:            "http://localhost:8080/xnat",
		ParseWorkers:       4,
		RenderQuality:      90,
		HttpClientTimeout:  15 * time.Second,
		LogFormat:          "text",
		AllowedOrigins:     []string{"*"},
		OtelEndpoint:       "localhost:4317",
		OtelServiceName:    "xnat-dicomweb-proxy",
		OtelServiceVersion: "1.0.0",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (a missing file is not an error, an empty path skips it), then environment
// variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ListenAddress = GetEnv("LISTEN_ADDRESS", c.ListenAddress)
	c.ArchiveRoot = GetEnv("XNAT_ARCHIVE", c.ArchiveRoot)
	c.Backend = GetEnv("ARCHIVE_BACKEND", c.Backend)
	c.XnatURL = GetEnv("XNAT_URL", c.XnatURL)
	c.XnatUser = GetEnv("XNAT_USER", c.XnatUser)
	c.XnatPassword = GetEnv("XNAT_PASSWORD", c.XnatPassword)
	c.DatabaseURL = GetEnv("DATABASE_URL", c.DatabaseURL)
	c.FixtureFile = GetEnv("FIXTURE_FILE", c.FixtureFile)
	c.LogFormat = GetEnv("LOG_FORMAT", c.LogFormat)
	c.OtelEndpoint = GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OtelEndpoint)
	c.OtelServiceName = GetEnv("OTEL_SERVICE_NAME", c.OtelServiceName)
	c.OtelServiceVersion = GetEnv("OTEL_SERVICE_VERSION", c.OtelServiceVersion)

	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}

	var err error
	if c.ParseWorkers, err = envInt("PARSE_WORKERS", c.ParseWorkers); err != nil {
		return err
	}
	if c.RenderQuality, err = envInt("RENDER_QUALITY", c.RenderQuality); err != nil {
		return err
	}
	timeoutSec, err := envInt("HTTP_CLIENT_TIMEOUT_SECONDS", int(c.HttpClientTimeout/time.Second))
	if err != nil {
		return err
	}
	c.HttpClientTimeout = time.Duration(timeoutSec) * time.Second

	if c.Debug, err = envBool("DEBUG", c.Debug); err != nil {
		return err
	}
	if c.OtelEnabled, err = envBool("OTEL_ENABLED", c.OtelEnabled); err != nil {
		return err
	}
	return nil
}

// Validate reports the first setting the server cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendXnat:
		if c.XnatURL == "" {
			return fmt.Errorf("%w: xnat backend needs XNAT_URL", ErrInvalid)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres backend needs DATABASE_URL", ErrInvalid)
		}
	case BackendFixture:
		if c.FixtureFile == "" {
			return fmt.Errorf("%w: fixture backend needs FIXTURE_FILE", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown archive backend %q", ErrInvalid, c.Backend)
	}
	if c.ArchiveRoot == "" {
		return fmt.Errorf("%w: archive root is empty", ErrInvalid)
	}
	if c.ParseWorkers <= 0 {
		return fmt.Errorf("%w: parse_workers must be positive, got %d", ErrInvalid, c.ParseWorkers)
	}
	if c.RenderQuality < 1 || c.RenderQuality > 100 {
		return fmt.Errorf("%w: render_quality must be within 1..100, got %d", ErrInvalid, c.RenderQuality)
	}
	if c.HttpClientTimeout <= 0 {
		return fmt.Errorf("%w: http client timeout must be positive", ErrInvalid)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// GetEnv retrieves an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
