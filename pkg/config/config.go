// Package config loads and validates the engine configuration from YAML,
// layered over defaults.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-agora/agora/pkg/events"
)

// Duration is a time.Duration that unmarshals from YAML values like "30s"
// or "1h". Values must carry a unit.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Wrap(err, "config: invalid duration")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "config: invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Session bounds one discussion run.
type Session struct {
	MaxTurns             int      `yaml:"max_turns"`
	MaxDuration          Duration `yaml:"max_duration"`
	MaxConsecutiveErrors int      `yaml:"max_consecutive_errors"`
}

// Scoring tunes the per-cycle computation.
type Scoring struct {
	Deadline       Duration `yaml:"deadline"`
	MaxStopDelta   float64  `yaml:"max_stop_delta"`
	StopThreshold  float64  `yaml:"stop_threshold"`
	SnapshotWindow int      `yaml:"snapshot_window"`
}

// Loop tunes the controller's two loops.
type Loop struct {
	CycleYield      Duration `yaml:"cycle_yield"`
	MonitorInterval Duration `yaml:"monitor_interval"`
	StopGrace       Duration `yaml:"stop_grace"`
}

// Store selects turn persistence.
type Store struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Server configures the observer HTTP surface.
type Server struct {
	Addr        string   `yaml:"addr"`
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// Config is the full engine configuration.
type Config struct {
	Session Session              `yaml:"session"`
	Scoring Scoring              `yaml:"scoring"`
	Loop    Loop                 `yaml:"loop"`
	Redis   events.RedisSettings `yaml:"redis"`
	Store   Store                `yaml:"store"`
	Server  Server               `yaml:"server"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Session: Session{
			MaxTurns:             50,
			MaxDuration:          Duration(time.Hour),
			MaxConsecutiveErrors: 5,
		},
		Scoring: Scoring{
			Deadline:       Duration(30 * time.Second),
			MaxStopDelta:   0.2,
			StopThreshold:  0.8,
			SnapshotWindow: 10,
		},
		Loop: Loop{
			CycleYield:      Duration(500 * time.Millisecond),
			MonitorInterval: Duration(5 * time.Second),
			StopGrace:       Duration(5 * time.Second),
		},
		Redis:  events.DefaultRedisSettings(),
		Server: Server{Addr: ":8080", IdleTimeout: Duration(5 * time.Minute)},
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Session.MaxTurns <= 0 {
		return errors.New("config: session.max_turns must be positive")
	}
	if c.Session.MaxDuration <= 0 {
		return errors.New("config: session.max_duration must be positive")
	}
	if c.Session.MaxConsecutiveErrors <= 0 {
		return errors.New("config: session.max_consecutive_errors must be positive")
	}
	if c.Scoring.Deadline <= 0 {
		return errors.New("config: scoring.deadline must be positive")
	}
	if c.Scoring.MaxStopDelta <= 0 || c.Scoring.MaxStopDelta > 1 {
		return errors.New("config: scoring.max_stop_delta must be in (0,1]")
	}
	if c.Scoring.StopThreshold <= 0 || c.Scoring.StopThreshold > 1 {
		return errors.New("config: scoring.stop_threshold must be in (0,1]")
	}
	if c.Loop.MonitorInterval <= 0 {
		return errors.New("config: loop.monitor_interval must be positive")
	}
	return nil
}
