// Package config provides configuration management for calmirror.
// It supports YAML and TOML configuration files, environment variables,
// and sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Sync directions accepted in config files and on the command line.
const (
	DirectionBoth     = "both"
	DirectionToTarget = "to-target"
	DirectionToSource = "to-source"
)

// Config is the top-level application configuration.
type Config struct {
	// CalendarRoot is the directory holding one subdirectory per calendar.
	CalendarRoot string `yaml:"calendar_root" toml:"calendar_root"`

	// SourceCalendar names the authoritative calendar for forward sync
	// (the "work" side in a typical setup).
	SourceCalendar string `yaml:"source_calendar" toml:"source_calendar"`

	// TargetCalendar names the calendar receiving full mirrors
	// (the "personal" side).
	TargetCalendar string `yaml:"target_calendar" toml:"target_calendar"`

	// StateDB is the path of the sqlite state database.
	StateDB string `yaml:"state_db" toml:"state_db"`

	// Sync configures default synchronization behavior.
	Sync SyncConfig `yaml:"sync" toml:"sync"`

	// Output configures display preferences.
	Output OutputConfig `yaml:"output" toml:"output"`
}

// SyncConfig holds synchronization settings.
type SyncConfig struct {
	// Direction is the default sync direction (both, to-target, to-source).
	Direction string `yaml:"direction" toml:"direction"`
	// KeepReminders preserves alarm sub-components on mirrored events.
	// They are stripped by default to avoid duplicate notifications.
	KeepReminders bool `yaml:"keep_reminders" toml:"keep_reminders"`
}

// OutputConfig holds display preferences.
type OutputConfig struct {
	// Color controls color output (auto, always, never).
	Color string `yaml:"color" toml:"color"`
	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// baseDir returns the calmirror configuration directory.
func baseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "calmirror")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calmirror"
	}
	return filepath.Join(home, ".calmirror")
}

// FilePath returns the default config file path.
func FilePath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// DefaultStateDBPath returns the default sqlite database path.
func DefaultStateDBPath() string {
	return filepath.Join(baseDir(), "state.db")
}

// Default returns an in-memory default configuration.
func Default() *Config {
	return &Config{
		CalendarRoot: filepath.Join(baseDir(), "calendars"),
		StateDB:      DefaultStateDBPath(),
		Sync: SyncConfig{
			Direction: DirectionBoth,
		},
		Output: OutputConfig{
			Color: "auto",
		},
	}
}

// Normalize fills in missing or invalid values with defaults so that
// partially-filled config files still behave correctly.
func (c *Config) Normalize() {
	if c.CalendarRoot == "" {
		c.CalendarRoot = filepath.Join(baseDir(), "calendars")
	}
	if c.StateDB == "" {
		c.StateDB = DefaultStateDBPath()
	}
	switch c.Sync.Direction {
	case DirectionBoth, DirectionToTarget, DirectionToSource:
	default:
		c.Sync.Direction = DirectionBoth
	}
	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		c.Output.Color = "auto"
	}
}

// Load loads configuration from path, creating a default config file on
// first run. The format is chosen by extension: .toml parses as TOML,
// everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Normalize()
	cfg.applyEnvironment()
	return &cfg, nil
}

// Save writes cfg to path with 0600 permissions, atomically via a temp
// file in the same directory. The format is chosen by extension.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var data []byte
	var err error
	if isTOML(path) {
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(cfg)
		data = []byte(b.String())
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmirror-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyEnvironment applies environment variable overrides. The variables
// follow the pattern CALMIRROR_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() {
	if v := os.Getenv("CALMIRROR_CALENDAR_ROOT"); v != "" {
		c.CalendarRoot = v
	}
	if v := os.Getenv("CALMIRROR_SOURCE_CALENDAR"); v != "" {
		c.SourceCalendar = v
	}
	if v := os.Getenv("CALMIRROR_TARGET_CALENDAR"); v != "" {
		c.TargetCalendar = v
	}
	if v := os.Getenv("CALMIRROR_STATE_DB"); v != "" {
		c.StateDB = v
	}
	if v := os.Getenv("CALMIRROR_SYNC_DIRECTION"); v != "" {
		c.Sync.Direction = v
		c.Normalize()
	}
	if v := os.Getenv("CALMIRROR_SYNC_KEEP_REMINDERS"); v != "" {
		c.Sync.KeepReminders = parseBool(v)
	}
	if v := os.Getenv("CALMIRROR_OUTPUT_COLOR"); v != "" {
		c.Output.Color = v
		c.Normalize()
	}
	if v := os.Getenv("CALMIRROR_OUTPUT_VERBOSE"); v != "" {
		c.Output.Verbose = parseBool(v)
	}
}

// parseBool parses a boolean from common string representations.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Exists returns true if a config file exists at the default path.
func Exists() bool {
	_, err := os.Stat(FilePath())
	return err == nil
}
