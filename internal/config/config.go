// Package config loads fieldsync settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, a .env file,
// process environment. Environment keys are FIELDSYNC_* (see envKeys).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	DatabasePath string             `yaml:"database_path"`
	SchemaFile   string             `yaml:"schema_file"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Log          LogConfig          `yaml:"log"`
	DevServer    DevServerConfig    `yaml:"devserver"`
}

// RemoteConfig holds the entity store and object-upload endpoint settings
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	AttachmentsKey string        `yaml:"attachments_key"`
}

// ConnectivityConfig selects the sources feeding the connectivity monitor
type ConnectivityConfig struct {
	SignalFile    string        `yaml:"signal_file"`
	ProbeAddress  string        `yaml:"probe_address"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DevServerConfig holds settings of the development remote
type DevServerConfig struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url"`
	Token     string `yaml:"token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabasePath: "fieldsync.db",
		Remote: RemoteConfig{
			Timeout:        30 * time.Second,
			AttachmentsKey: "attachments",
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		DevServer: DevServerConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Load reads path (optional; "" skips the file), then .env from the working
// directory if present, then the process environment, and validates the
// result.
func Load(path string) (*Config, error) {
	return load(path, ".env", os.LookupEnv)
}

func load(path, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = vals
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	// Process environment wins over .env
	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(get); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeys maps environment variables to their settings.
var envKeys = []struct {
	key   string
	apply func(c *Config, v string) error
}{
	{"FIELDSYNC_DB", func(c *Config, v string) error { c.DatabasePath = v; return nil }},
	{"FIELDSYNC_SCHEMA_FILE", func(c *Config, v string) error { c.SchemaFile = v; return nil }},
	{"FIELDSYNC_REMOTE_URL", func(c *Config, v string) error { c.Remote.BaseURL = v; return nil }},
	{"FIELDSYNC_REMOTE_TOKEN", func(c *Config, v string) error { c.Remote.Token = v; return nil }},
	{"FIELDSYNC_REMOTE_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Remote.Timeout, v) }},
	{"FIELDSYNC_ATTACHMENTS_KEY", func(c *Config, v string) error { c.Remote.AttachmentsKey = v; return nil }},
	{"FIELDSYNC_SIGNAL_FILE", func(c *Config, v string) error { c.Connectivity.SignalFile = v; return nil }},
	{"FIELDSYNC_PROBE_ADDRESS", func(c *Config, v string) error { c.Connectivity.ProbeAddress = v; return nil }},
	{"FIELDSYNC_PROBE_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Connectivity.ProbeInterval, v) }},
	{"FIELDSYNC_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"FIELDSYNC_LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"FIELDSYNC_LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
	{"FIELDSYNC_LOG_MAX_SIZE_MB", func(c *Config, v string) error { return setInt(&c.Log.MaxSizeMB, v) }},
	{"FIELDSYNC_DEVSERVER_ADDR", func(c *Config, v string) error { c.DevServer.Addr = v; return nil }},
	{"FIELDSYNC_DEVSERVER_TOKEN", func(c *Config, v string) error { c.DevServer.Token = v; return nil }},
}

func (c *Config) applyEnv(get func(string) (string, bool)) error {
	for _, e := range envKeys {
		v, ok := get(e.key)
		if !ok {
			continue
		}
		if err := e.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
	}
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url %q must be an http(s) URL", c.Remote.BaseURL))
		}
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Remote.AttachmentsKey == "" {
		errs = append(errs, errors.New("remote.attachments_key is required"))
	}
	if c.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, errors.New("connectivity.probe_interval must be positive"))
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("connectivity.probe_timeout must be positive"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}

	return errors.Join(errs...)
}

// RemoteConfigured reports whether a remote endpoint is set.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.BaseURL != ""
}
