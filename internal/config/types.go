package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config is the chainer configuration, stored as TOML with one section per
// concern.
type Config struct {
	Engine EngineConfig `mapstructure:"engine" toml:"engine"`
	Store  StoreConfig  `mapstructure:"store" toml:"store"`
	Log    LogConfig    `mapstructure:"log" toml:"log"`
}

// EngineConfig holds match engine settings.
type EngineConfig struct {
	// FactDuplication allows identical facts to coexist.
	FactDuplication bool `mapstructure:"fact_duplication" toml:"fact_duplication"`

	// GoalGeneration turns backward chaining on.
	GoalGeneration bool `mapstructure:"goal_generation" toml:"goal_generation"`

	// InitialFactTableSize is the starting bucket count of the fact table.
	InitialFactTableSize int `mapstructure:"initial_fact_table_size" toml:"initial_fact_table_size"`

	// MaxFirings bounds a run that was given no explicit limit.
	MaxFirings int `mapstructure:"max_firings" toml:"max_firings"`
}

// StoreConfig holds journal settings.
type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" toml:"sqlite_path,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.Engine.InitialFactTableSize <= 0 {
		return fmt.Errorf("engine.initial_fact_table_size must be positive, got %d", c.Engine.InitialFactTableSize)
	}
	if c.Engine.MaxFirings <= 0 {
		return fmt.Errorf("engine.max_firings must be positive, got %d", c.Engine.MaxFirings)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("invalid value for log.level: %q", c.Log.Level)
	}
	return l, nil
}
