// ════════════════════════════════════════════════════════════════════════════════════════════════
// Episode Configuration
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: File, Environment And Default Settings
//
// Description:
//   Config gathers every knob of a simulated episode: rank layout, pool sizing, wire schema,
//   reference mesh, mailboxes, recording, logging and metrics. Load reads YAML or JSON by file
//   extension, applies RAYTRACE_* environment overrides and validates the result.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"raytrace/constants"
	"raytrace/debug"
	"raytrace/pool"

	"github.com/sugawarayuuta/sonnet"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Duration reads "250ms", "30s" and friends from YAML and JSON.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Config struct {
	Episode Episode `yaml:"episode" json:"episode"`
	Pool    Pool    `yaml:"pool" json:"pool"`
	Wire    Wire    `yaml:"wire" json:"wire"`
	Mesh    Mesh    `yaml:"mesh" json:"mesh"`
	Mailbox Mailbox `yaml:"mailbox" json:"mailbox"`
	Record  Record  `yaml:"record" json:"record"`
	Log     Log     `yaml:"log" json:"log"`
	Metrics Metrics `yaml:"metrics" json:"metrics"`
}

type Episode struct {
	Ranks   int      `yaml:"ranks" json:"ranks"`
	Workers int      `yaml:"workers" json:"workers"` // per rank
	Rays    int      `yaml:"rays" json:"rays"`       // seeds per rank
	Reverse bool     `yaml:"reverse" json:"reverse"` // also trace each seed backwards
	Seed    int64    `yaml:"seed" json:"seed"`       // seed generator state
	Timeout Duration `yaml:"timeout" json:"timeout"` // zero waits forever
}

type Pool struct {
	Capacity int    `yaml:"capacity" json:"capacity"` // per rank, zero sizes from workers
	Policy   string `yaml:"policy" json:"policy"`     // block | fail
}

type Wire struct {
	DataLen  int `yaml:"data_len" json:"data_len"`
	PolarLen int `yaml:"polar_len" json:"polar_len"`
}

type Mesh struct {
	NX  int        `yaml:"nx" json:"nx"`
	NY  int        `yaml:"ny" json:"ny"`
	NZ  int        `yaml:"nz" json:"nz"`
	Min [3]float64 `yaml:"min" json:"min"`
	Max [3]float64 `yaml:"max" json:"max"`
}

type Mailbox struct {
	Capacity int `yaml:"capacity" json:"capacity"` // power of two
}

type Record struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Batch   int    `yaml:"batch" json:"batch"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type Metrics struct {
	Addr string `yaml:"addr" json:"addr"` // empty disables the endpoint
}

// Default is a small four-rank episode over a 32×8×8 grid.
func Default() Config {
	return Config{
		Episode: Episode{Ranks: 4, Workers: 2, Rays: 1000, Seed: 1},
		Pool:    Pool{Policy: "block"},
		Wire:    Wire{DataLen: 4, PolarLen: 0},
		Mesh: Mesh{
			NX: 32, NY: 8, NZ: 8,
			Min: [3]float64{0, 0, 0},
			Max: [3]float64{4, 1, 1},
		},
		Mailbox: Mailbox{Capacity: constants.DefaultMailboxCapacity},
		Record:  Record{Path: constants.DefaultRecordPath, Batch: constants.RecordBatch},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".json":
		if err := sonnet.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported extension %q", ext)
	}
	return nil
}

// applyEnv overrides a few fields from RAYTRACE_* variables.
func applyEnv(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"RAYTRACE_RANKS", &cfg.Episode.Ranks},
		{"RAYTRACE_WORKERS", &cfg.Episode.Workers},
		{"RAYTRACE_RAYS", &cfg.Episode.Rays},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	if v := os.Getenv("RAYTRACE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RAYTRACE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("RAYTRACE_RECORD_PATH"); v != "" {
		cfg.Record.Path = v
		cfg.Record.Enabled = true
	}
	return nil
}

// PoolCapacity is the configured capacity, or four slots per worker.
func (c Config) PoolCapacity() int {
	if c.Pool.Capacity > 0 {
		return c.Pool.Capacity
	}
	return 4 * c.Episode.Workers
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Episode.Ranks <= 0 {
		bad("episode.ranks must be positive, got %d", c.Episode.Ranks)
	}
	if c.Episode.Workers <= 0 {
		bad("episode.workers must be positive, got %d", c.Episode.Workers)
	}
	if c.Episode.Rays < 0 {
		bad("episode.rays must not be negative, got %d", c.Episode.Rays)
	}
	if c.Episode.Timeout.Duration < 0 {
		bad("episode.timeout must not be negative")
	}
	if c.PoolCapacity() < 2*c.Episode.Workers {
		bad("pool.capacity %d below two slots per worker", c.PoolCapacity())
	}
	if c.PoolCapacity() > constants.MaxPoolCapacity {
		bad("pool.capacity %d above %d", c.PoolCapacity(), constants.MaxPoolCapacity)
	}
	if _, err := pool.ParsePolicy(c.Pool.Policy); err != nil {
		bad("%v", err)
	}
	if c.Wire.DataLen < 0 || c.Wire.PolarLen < 0 {
		bad("wire lengths must not be negative")
	}
	if c.Mesh.NX <= 0 || c.Mesh.NY <= 0 || c.Mesh.NZ <= 0 {
		bad("mesh dimensions must be positive, got %dx%dx%d", c.Mesh.NX, c.Mesh.NY, c.Mesh.NZ)
	}
	if c.Mesh.NX < c.Episode.Ranks {
		bad("mesh.nx %d leaves ranks without cells", c.Mesh.NX)
	}
	for i := range 3 {
		if !(c.Mesh.Max[i] > c.Mesh.Min[i]) {
			bad("mesh.max must exceed mesh.min on every axis")
			break
		}
	}
	if n := c.Mailbox.Capacity; n < 2 || n&(n-1) != 0 {
		bad("mailbox.capacity must be a power of two, got %d", n)
	}
	if c.Record.Enabled && c.Record.Path == "" {
		bad("record.path required when recording")
	}
	if c.Record.Batch < 0 {
		bad("record.batch must not be negative")
	}
	if _, err := debug.ParseLevel(c.Log.Level); err != nil {
		bad("%v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case debug.FormatText, debug.FormatJSON, "":
	default:
		bad("log.format must be text or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}
