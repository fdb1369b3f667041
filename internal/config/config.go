package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/streamwatch/internal/logger"
)

// Defaults for runtime-tunable settings.
const (
	DefaultPollInterval   = 60 * time.Second
	DefaultProbeTimeout   = 30 * time.Second
	DefaultMaxConcurrent  = 2
	DefaultQuality        = "best"
	DefaultStreamToolName = "streamlink"
	DefaultRemuxToolName  = "ffmpeg"
)

// TargetSeed declares a target in the config file; seeds are inserted into the
// store at daemon startup when their address is not known yet. The store is
// the source of truth afterwards.
type TargetSeed struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
	Quality string `mapstructure:"quality"`
	Enabled *bool  `mapstructure:"enabled"`
}

// Config is the top-level TOML structure read by viper. It bootstraps the
// daemon; the runtime-tunable subset (Settings) can be overridden per key from
// the store's settings table and is re-read on reload.
type Config struct {
	StateDir       string        `mapstructure:"state_dir"`
	OutputDir      string        `mapstructure:"output_dir"`
	StoreDSN       string        `mapstructure:"store_dsn"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	MaxConcurrent  *int          `mapstructure:"max_concurrent"` // 0 = unlimited
	Postprocess    *bool         `mapstructure:"postprocess"`
	DefaultQuality string        `mapstructure:"default_quality"`
	StreamTool     string        `mapstructure:"stream_tool"`
	RemuxTool      string        `mapstructure:"remux_tool"`
	HistorySinks   []string      `mapstructure:"history_sinks"`
	Log            logger.Config `mapstructure:"log"`
	Targets        []TargetSeed  `mapstructure:"targets"`
}

// Settings is the runtime-tunable subset of the configuration.
type Settings struct {
	PollInterval   time.Duration
	ProbeTimeout   time.Duration
	MaxConcurrent  int // 0 = unlimited
	Postprocess    bool
	DefaultQuality string
	OutputDir      string
}

// Load reads the TOML config at path. An empty path yields pure defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.normalize()
	return c, nil
}

func (c *Config) normalize() {
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.StateDir = filepath.Join(home, ".streamwatch")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.StateDir, "recordings")
	}
	if c.StoreDSN == "" {
		c.StoreDSN = "sqlite://" + filepath.Join(c.StateDir, "streamwatch.db")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.MaxConcurrent == nil || *c.MaxConcurrent < 0 {
		def := DefaultMaxConcurrent
		c.MaxConcurrent = &def
	}
	if c.DefaultQuality == "" {
		c.DefaultQuality = DefaultQuality
	}
	if c.StreamTool == "" {
		c.StreamTool = DefaultStreamToolName
	}
	if c.RemuxTool == "" {
		c.RemuxTool = DefaultRemuxToolName
	}
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.StateDir, "logs")
	}
}

// Settings returns the runtime-tunable subset with file-level values applied.
// It tolerates hand-built Config values that never went through Load.
func (c *Config) Settings() Settings {
	post := true
	if c.Postprocess != nil {
		post = *c.Postprocess
	}
	mc := DefaultMaxConcurrent
	if c.MaxConcurrent != nil && *c.MaxConcurrent >= 0 {
		mc = *c.MaxConcurrent
	}
	return Settings{
		PollInterval:   c.PollInterval,
		ProbeTimeout:   c.ProbeTimeout,
		MaxConcurrent:  mc,
		Postprocess:    post,
		DefaultQuality: c.DefaultQuality,
		OutputDir:      c.OutputDir,
	}
}

// ApplyOverrides layers store-held settings over s. Unknown keys and
// unparseable values are reported, not applied.
func (s Settings) ApplyOverrides(kv map[string]string) (Settings, []error) {
	var errs []error
	for k, v := range kv {
		switch k {
		case "poll_interval":
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("setting %s=%q: invalid duration", k, v))
				continue
			}
			s.PollInterval = d
		case "probe_timeout":
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("setting %s=%q: invalid duration", k, v))
				continue
			}
			s.ProbeTimeout = d
		case "max_concurrent":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("setting %s=%q: invalid count", k, v))
				continue
			}
			s.MaxConcurrent = n
		case "postprocess":
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("setting %s=%q: invalid bool", k, v))
				continue
			}
			s.Postprocess = b
		case "default_quality":
			if strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Errorf("setting %s: empty", k))
				continue
			}
			s.DefaultQuality = v
		case "output_dir":
			if strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Errorf("setting %s: empty", k))
				continue
			}
			s.OutputDir = v
		default:
			errs = append(errs, fmt.Errorf("unknown setting %q", k))
		}
	}
	return s, errs
}
