package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/domonda/go-errs"
	"gopkg.in/yaml.v3"
)

const (
	ErrUnknownKey   errs.Sentinel = "unknown config key"
	ErrInvalidValue errs.Sentinel = "invalid config value"
)

type Config struct {
	DataDir             string  `yaml:"data_dir"`
	MaxRetries          int     `yaml:"max_retries"`
	BackoffBase         float64 `yaml:"backoff_base"`
	JobTimeoutSeconds   int     `yaml:"job_timeout_seconds"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	LeaseTimeoutSeconds int     `yaml:"lease_timeout_seconds"`
	LockTimeoutSeconds  int     `yaml:"lock_timeout_seconds"`
	HTTPAddr            string  `yaml:"http_addr"`
}

func Default() *Config {
	return &Config{
		DataDir:             ".queuectl",
		MaxRetries:          3,
		BackoffBase:         2,
		JobTimeoutSeconds:   300,
		PollIntervalSeconds: 1,
		LeaseTimeoutSeconds: 600,
		LockTimeoutSeconds:  10,
		HTTPAddr:            "127.0.0.1:8474",
	}
}

// DefaultPath returns $QUEUECTL_CONFIG or ~/.queuectl/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("QUEUECTL_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".queuectl", "config.yaml")
	}
	return filepath.Join(home, ".queuectl", "config.yaml")
}

// Load reads the config file at path on top of the defaults and applies
// QUEUECTL_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads the config file without environment overrides.
func LoadFile(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Save writes the config to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data_dir must not be empty", ErrInvalidValue)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidValue)
	case c.BackoffBase < 1:
		return fmt.Errorf("%w: backoff_base must be at least 1", ErrInvalidValue)
	case c.JobTimeoutSeconds <= 0:
		return fmt.Errorf("%w: job_timeout_seconds must be positive", ErrInvalidValue)
	case c.PollIntervalSeconds <= 0:
		return fmt.Errorf("%w: poll_interval_seconds must be positive", ErrInvalidValue)
	case c.LeaseTimeoutSeconds <= c.JobTimeoutSeconds:
		return fmt.Errorf("%w: lease_timeout_seconds must exceed job_timeout_seconds", ErrInvalidValue)
	case c.LockTimeoutSeconds <= 0:
		return fmt.Errorf("%w: lock_timeout_seconds must be positive", ErrInvalidValue)
	case c.HTTPAddr == "":
		return fmt.Errorf("%w: http_addr must not be empty", ErrInvalidValue)
	}
	return nil
}

type field struct {
	env string
	get func(c *Config) string
	set func(c *Config, v string) error
}

var fields = map[string]field{
	"data_dir": {
		env: "QUEUECTL_DATA_DIR",
		get: func(c *Config) string { return c.DataDir },
		set: func(c *Config, v string) error { c.DataDir = v; return nil },
	},
	"max_retries": {
		env: "QUEUECTL_MAX_RETRIES",
		get: func(c *Config) string { return strconv.Itoa(c.MaxRetries) },
		set: func(c *Config, v string) error { return setInt(&c.MaxRetries, v) },
	},
	"backoff_base": {
		env: "QUEUECTL_BACKOFF_BASE",
		get: func(c *Config) string { return strconv.FormatFloat(c.BackoffBase, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return err
			}
			c.BackoffBase = f
			return nil
		},
	},
	"job_timeout_seconds": {
		env: "QUEUECTL_JOB_TIMEOUT_SECONDS",
		get: func(c *Config) string { return strconv.Itoa(c.JobTimeoutSeconds) },
		set: func(c *Config, v string) error { return setInt(&c.JobTimeoutSeconds, v) },
	},
	"poll_interval_seconds": {
		env: "QUEUECTL_POLL_INTERVAL_SECONDS",
		get: func(c *Config) string { return strconv.Itoa(c.PollIntervalSeconds) },
		set: func(c *Config, v string) error { return setInt(&c.PollIntervalSeconds, v) },
	},
	"lease_timeout_seconds": {
		env: "QUEUECTL_LEASE_TIMEOUT_SECONDS",
		get: func(c *Config) string { return strconv.Itoa(c.LeaseTimeoutSeconds) },
		set: func(c *Config, v string) error { return setInt(&c.LeaseTimeoutSeconds, v) },
	},
	"lock_timeout_seconds": {
		env: "QUEUECTL_LOCK_TIMEOUT_SECONDS",
		get: func(c *Config) string { return strconv.Itoa(c.LockTimeoutSeconds) },
		set: func(c *Config, v string) error { return setInt(&c.LockTimeoutSeconds, v) },
	},
	"http_addr": {
		env: "QUEUECTL_HTTP_ADDR",
		get: func(c *Config) string { return c.HTTPAddr },
		set: func(c *Config, v string) error { c.HTTPAddr = v; return nil },
	},
}

// Keys returns the settable keys in alphabetical order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// Set parses value into key and validates the result.
// On error c is unchanged.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	next := *c
	if err := f.set(&next, value); err != nil {
		return fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, key, value, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Values returns all keys with their current values.
func (c *Config) Values() map[string]string {
	m := make(map[string]string, len(fields))
	for k, f := range fields {
		m[k] = f.get(c)
	}
	return m
}

func (c *Config) applyEnv() {
	for key, f := range fields {
		v := getEnv(f.env, "")
		if v == "" {
			continue
		}
		if err := f.set(c, v); err != nil {
			log.Warn("Ignoring invalid environment override").
				Str("key", key).
				Str("env", f.env).
				Err(err).
				Log()
		}
	}
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.LeaseTimeoutSeconds) * time.Second
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// PIDFile is where a running worker daemon records itself.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "workers.pid")
}

func setInt(dst *int, v string) error {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = i
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
