package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the world map configuration.
type Config struct {
	Dir              string        `json:"dir" yaml:"dir"`                             // root of all map directories
	RenderDistance   int           `json:"render_distance" yaml:"render_distance"`     // in 16-block game chunks
	ViewRange        int           `json:"view_range" yaml:"view_range"`               // blocks kept around the browsed position
	AutosaveInterval time.Duration `json:"autosave_interval" yaml:"autosave_interval"` // per loaded chunk
	SaveWorkers      int           `json:"save_workers" yaml:"save_workers"`           // regions flushed in parallel
	DetailBlocks     []string      `json:"detail_blocks" yaml:"detail_blocks"`         // "*suffix" entries match by suffix
	LogLevel         string        `json:"log_level" yaml:"log_level"`                 // debug, info, warn, error
	Seed             int64         `json:"seed" yaml:"seed"`                           // explore command terrain
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Dir:              "lambdamap",
		RenderDistance:   12,
		ViewRange:        12800,
		AutosaveInterval: 6 * time.Minute,
		SaveWorkers:      4,
		DetailBlocks: []string{
			"minecraft:grass_block",
			"minecraft:grass",
			"minecraft:tall_grass",
			"minecraft:vine",
			"*_leaves",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file on top of the defaults.
// If the file doesn't exist, it returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	if !explicitFlags["dir"] {
		cfg.Dir = fromFile.Dir
	}
	if !explicitFlags["render-distance"] {
		cfg.RenderDistance = fromFile.RenderDistance
	}
	if !explicitFlags["view-range"] {
		cfg.ViewRange = fromFile.ViewRange
	}
	if !explicitFlags["autosave"] {
		cfg.AutosaveInterval = fromFile.AutosaveInterval
	}
	if !explicitFlags["save-workers"] {
		cfg.SaveWorkers = fromFile.SaveWorkers
	}
	if !explicitFlags["log-level"] {
		cfg.LogLevel = fromFile.LogLevel
	}
	if !explicitFlags["seed"] {
		cfg.Seed = fromFile.Seed
	}
	// No flag for the allow-list.
	cfg.DetailBlocks = fromFile.DetailBlocks
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dir must not be empty"))
	}
	if c.RenderDistance < 0 {
		errs = append(errs, fmt.Errorf("render_distance %d must not be negative", c.RenderDistance))
	}
	if c.ViewRange <= 0 {
		errs = append(errs, fmt.Errorf("view_range %d must be positive", c.ViewRange))
	}
	if c.AutosaveInterval < time.Second {
		errs = append(errs, fmt.Errorf("autosave_interval %s must be at least 1s", c.AutosaveInterval))
	}
	if c.SaveWorkers < 1 {
		errs = append(errs, fmt.Errorf("save_workers %d must be at least 1", c.SaveWorkers))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
