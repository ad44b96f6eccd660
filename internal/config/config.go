// Package config loads sidecar settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, PANTRY_*
// environment variables (a .env file may seed them), command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/pantry/internal/strategy"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANTRY_"

// Config is the sidecar configuration.
type Config struct {
	// Listen is the address the sidecar serves clients on.
	Listen string `yaml:"listen"`

	// Upstream is the base URL of the remote API. Required.
	Upstream string `yaml:"upstream"`

	// DB is the SQLite database path. ":memory:" keeps nothing on disk.
	DB string `yaml:"db"`

	// NetworkTimeout bounds every upstream round trip.
	NetworkTimeout time.Duration `yaml:"network_timeout"`

	// SyncOnStart replays the queue once at startup.
	SyncOnStart bool `yaml:"sync_on_start"`

	Probe Probe `yaml:"probe"`

	// StrategiesFile optionally replaces the built-in strategy table.
	StrategiesFile string `yaml:"strategies_file"`

	// CriticalAssets are precached when the client asks without a list.
	CriticalAssets []string `yaml:"critical_assets"`
}

// Probe configures upstream health checks. Interval 0 disables probing.
type Probe struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:         "127.0.0.1:8787",
		DB:             "pantry.db",
		NetworkTimeout: 5 * time.Second,
		SyncOnStart:    true,
		Probe: Probe{
			Path:     "/",
			Interval: 30 * time.Second,
		},
		CriticalAssets: []string{"/"},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFile overlays the YAML file at path. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays PANTRY_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := get("UPSTREAM"); ok {
		c.Upstream = v
	}
	if v, ok := get("DB"); ok {
		c.DB = v
	}
	if v, ok := get("NETWORK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sNETWORK_TIMEOUT: %w", EnvPrefix, err)
		}
		c.NetworkTimeout = d
	}
	if v, ok := get("SYNC_ON_START"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSYNC_ON_START: %w", EnvPrefix, err)
		}
		c.SyncOnStart = b
	}
	if v, ok := get("PROBE_PATH"); ok {
		c.Probe.Path = v
	}
	if v, ok := get("PROBE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPROBE_INTERVAL: %w", EnvPrefix, err)
		}
		c.Probe.Interval = d
	}
	if v, ok := get("STRATEGIES_FILE"); ok {
		c.StrategiesFile = v
	}
	if v, ok := get("CRITICAL_ASSETS"); ok {
		var assets []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, a)
			}
		}
		c.CriticalAssets = assets
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return errors.New("upstream is required")
	}
	u, err := url.Parse(c.Upstream)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream %q: want an absolute http(s) URL", c.Upstream)
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.DB == "" {
		return errors.New("db path is required")
	}
	if c.NetworkTimeout <= 0 {
		return fmt.Errorf("network_timeout must be positive, got %s", c.NetworkTimeout)
	}
	if c.Probe.Interval < 0 {
		return fmt.Errorf("probe.interval must not be negative, got %s", c.Probe.Interval)
	}
	if !strings.HasPrefix(c.Probe.Path, "/") {
		return fmt.Errorf("probe.path %q must start with /", c.Probe.Path)
	}
	for _, a := range c.CriticalAssets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("critical asset %q must be a path starting with /", a)
		}
	}
	return nil
}

// StrategyTable returns the configured strategy table.
func (c *Config) StrategyTable() (*strategy.Table, error) {
	if c.StrategiesFile == "" {
		return strategy.DefaultTable(), nil
	}
	return strategy.LoadTable(c.StrategiesFile)
}
