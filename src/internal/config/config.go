// Package config loads portwatch settings from a YAML file and the
// environment.
//
// Precedence, lowest to highest: built-in defaults, the config file,
// PORTWATCH_* environment variables. Command-line flags are applied by the
// commands on top of the loaded Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jongio/portwatch/src/internal/portscan"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the user's home directory.
const FileName = ".portwatch.yaml"

// Environment variables that override file settings.
const (
	EnvInterval      = "PORTWATCH_INTERVAL"
	EnvCacheTTL      = "PORTWATCH_CACHE_TTL"
	EnvDashboardAddr = "PORTWATCH_DASHBOARD_ADDR"
	EnvCommandRate   = "PORTWATCH_COMMAND_RATE"
)

const (
	minInterval = 100 * time.Millisecond
	minPort     = 1024
)

// Config holds every tunable setting.
type Config struct {
	// CacheTTL is how long scan results are reused.
	CacheTTL time.Duration `yaml:"cacheTTL" json:"cacheTTL"`
	// Interval is the monitor's poll interval.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// DevRange is the range the monitor and `scan --dev` cover.
	DevRange portscan.Range `yaml:"devRange" json:"devRange"`
	// CommandRate caps enumeration commands per second.
	CommandRate float64 `yaml:"commandRate" json:"commandRate"`
	// DashboardAddr is the listen address of `serve`.
	DashboardAddr string `yaml:"dashboardAddr" json:"dashboardAddr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		CacheTTL:      3 * time.Second,
		Interval:      5 * time.Second,
		DevRange:      portscan.Range{Start: 3000, End: 9999},
		CommandRate:   10,
		DashboardAddr: "127.0.0.1:4280",
	}
}

// DefaultPath returns $HOME/.portwatch.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, FileName), nil
}

// Load reads path, applies environment overrides and validates the result.
// An empty path means the default location, where a missing file is not an
// error. An explicitly named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the user's own --config flag or home directory
	switch {
	case err == nil:
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	durations := []struct {
		name   string
		target *time.Duration
	}{
		{EnvInterval, &cfg.Interval},
		{EnvCacheTTL, &cfg.CacheTTL},
	}
	for _, d := range durations {
		v, ok := lookup(d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = parsed
	}

	if v, ok := lookup(EnvCommandRate); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCommandRate, err)
		}
		cfg.CommandRate = rate
	}
	if v, ok := lookup(EnvDashboardAddr); ok && v != "" {
		cfg.DashboardAddr = v
	}
	return nil
}

// Validate checks every setting.
func (c Config) Validate() error {
	var errs []error
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cacheTTL must be positive, got %s", c.CacheTTL))
	}
	if c.Interval < minInterval {
		errs = append(errs, fmt.Errorf("interval must be at least %s, got %s", minInterval, c.Interval))
	}
	if c.DevRange.Start < minPort || c.DevRange.End > portscan.MaxPort || c.DevRange.Start > c.DevRange.End {
		errs = append(errs, fmt.Errorf("devRange %s must lie within %d-%d", c.DevRange, minPort, portscan.MaxPort))
	}
	if c.CommandRate <= 0 {
		errs = append(errs, fmt.Errorf("commandRate must be positive, got %g", c.CommandRate))
	}
	if _, _, err := net.SplitHostPort(c.DashboardAddr); err != nil {
		errs = append(errs, fmt.Errorf("dashboardAddr %q: %w", c.DashboardAddr, err))
	}
	return errors.Join(errs...)
}

// Write saves cfg to path. An existing file is only replaced when
// overwrite is set.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# portwatch configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
