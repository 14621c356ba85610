// Package config holds runtime settings for the sync core and the desktop
// daemon. Defaults are overlaid first by an optional JSON file, then by
// environment variables; later sources win.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ConflictStrategy selects what happens when the automatic field-level merge
// of a version conflict still collides.
type ConflictStrategy string

const (
	// StrategyManual parks the entity in the conflict state and keeps both
	// versions until the user chooses. Default: last-writer-wins silently
	// loses one side, so automatic resolution is opt-in.
	StrategyManual ConflictStrategy = "manual"
	// StrategyLastWriteWins picks the side with the newer updated_at.
	StrategyLastWriteWins ConflictStrategy = "lww"
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir is where the sqlite mirror lives.
	DataDir string
	// ListenAddr is the desktop daemon's HTTP listen address.
	ListenAddr string
	// RemoteBaseURL is the remote API root, e.g. "https://api.example.com".
	RemoteBaseURL string
	// MachineID binds the stored credential encryption key to this device.
	MachineID string

	// Workers bounds how many distinct entities drain concurrently.
	Workers int
	// BackoffBase is the first retry interval after a transient failure.
	BackoffBase time.Duration
	// BackoffCap is the maximum retry interval (min(cap, base*2^attempt)).
	BackoffCap time.Duration
	// DrainTimeout bounds a single remote attempt; exceeding it counts as a
	// network failure.
	DrainTimeout time.Duration
	// TickInterval is how often the reconciler wakes up on its own.
	TickInterval time.Duration
	// ConflictStrategy is applied when field merge cannot resolve a 409.
	ConflictStrategy ConflictStrategy
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "./data"
	c.ListenAddr = "localhost:8090"
	c.RemoteBaseURL = ""
	c.MachineID = ""
	c.Workers = 4
	c.BackoffBase = 2 * time.Second
	c.BackoffCap = 5 * time.Minute
	c.DrainTimeout = 30 * time.Second
	c.TickInterval = time.Minute
	c.ConflictStrategy = StrategyManual
}

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Durations are
// given as strings like "30s".
type jsonConfig struct {
	DataDir          string `json:"data_dir"`
	ListenAddr       string `json:"listen_addr"`
	RemoteBaseURL    string `json:"remote_base_url"`
	MachineID        string `json:"machine_id"`
	Workers          int    `json:"workers"`
	BackoffBase      string `json:"backoff_base"`
	BackoffCap       string `json:"backoff_cap"`
	DrainTimeout     string `json:"drain_timeout"`
	TickInterval     string `json:"tick_interval"`
	ConflictStrategy string `json:"conflict_strategy"`
}

// Load constructs a Config: defaults, then the JSON file at path (skipped if
// path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := cfg.loadJSON(path); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadJSON(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if jc.DataDir != "" {
		c.DataDir = jc.DataDir
	}
	if jc.ListenAddr != "" {
		c.ListenAddr = jc.ListenAddr
	}
	if jc.RemoteBaseURL != "" {
		c.RemoteBaseURL = jc.RemoteBaseURL
	}
	if jc.MachineID != "" {
		c.MachineID = jc.MachineID
	}
	if jc.Workers > 0 {
		c.Workers = jc.Workers
	}
	if jc.ConflictStrategy != "" {
		c.ConflictStrategy = ConflictStrategy(jc.ConflictStrategy)
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{jc.BackoffBase, &c.BackoffBase},
		{jc.BackoffCap, &c.BackoffCap},
		{jc.DrainTimeout, &c.DrainTimeout},
		{jc.TickInterval, &c.TickInterval},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("EXPANDNOTE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("EXPANDNOTE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("EXPANDNOTE_REMOTE_URL"); v != "" {
		c.RemoteBaseURL = v
	}
	if v := os.Getenv("EXPANDNOTE_MACHINE_ID"); v != "" {
		c.MachineID = v
	}
	if v := os.Getenv("EXPANDNOTE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse EXPANDNOTE_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("EXPANDNOTE_CONFLICT_STRATEGY"); v != "" {
		c.ConflictStrategy = ConflictStrategy(v)
	}
	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"EXPANDNOTE_BACKOFF_BASE", &c.BackoffBase},
		{"EXPANDNOTE_BACKOFF_CAP", &c.BackoffCap},
		{"EXPANDNOTE_DRAIN_TIMEOUT", &c.DrainTimeout},
		{"EXPANDNOTE_TICK_INTERVAL", &c.TickInterval},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("invalid backoff range: base=%s cap=%s", c.BackoffBase, c.BackoffCap)
	}
	switch c.ConflictStrategy {
	case StrategyManual, StrategyLastWriteWins:
	default:
		return fmt.Errorf("unknown conflict strategy %q", c.ConflictStrategy)
	}
	return nil
}
