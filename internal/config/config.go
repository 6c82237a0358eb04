package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultPort              = 3000
	DefaultDir               = "public"
	DefaultEntry             = "public/index.html"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
)

var (
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrEmptyDir           = errors.New("served directory is required")
	ErrEmptyEntry         = errors.New("entry file is required")
	ErrInvalidLogFormat   = errors.New("log_format must be text or json")
	ErrInvalidMetricsPath = errors.New("metrics_path must start with / and must not be /")
)

// Duration wraps time.Duration so it can be written as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// Config holds the web server settings
type Config struct {
	Port              int      `toml:"port"`
	Host              string   `toml:"host"`
	Dir               string   `toml:"dir"`
	Entry             string   `toml:"entry"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	MetricsPath       string   `toml:"metrics_path"`
	AccessLogDB       string   `toml:"access_log_db"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing else is given
func Default() Config {
	return Config{
		Port:              DefaultPort,
		Dir:               DefaultDir,
		Entry:             DefaultEntry,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
		ReadHeaderTimeout: Duration{DefaultReadHeaderTimeout},
		ShutdownTimeout:   Duration{DefaultShutdownTimeout},
	}
}

// Load reads a TOML file on top of the defaults. Keys missing from the
// file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Addr returns the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration for values the server cannot start with
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Port)
	}
	if strings.TrimSpace(c.Dir) == "" {
		return ErrEmptyDir
	}
	if strings.TrimSpace(c.Entry) == "" {
		return ErrEmptyEntry
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: got %q", ErrInvalidLogFormat, c.LogFormat)
	}
	if c.MetricsPath != "" && (!strings.HasPrefix(c.MetricsPath, "/") || c.MetricsPath == "/") {
		return fmt.Errorf("%w: got %q", ErrInvalidMetricsPath, c.MetricsPath)
	}
	return nil
}
