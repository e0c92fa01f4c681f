package config

import "github.com/roach88/chainer/internal/factstore"

const (
	defaultMaxFirings = 10000
	defaultLogLevel   = "info"
	defaultSQLitePath = "chainer.db"
)

// NewDefaultConfig returns a Config with defaults for every field.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			FactDuplication:      false,
			GoalGeneration:       true,
			InitialFactTableSize: factstore.DefaultTableSize,
			MaxFirings:           defaultMaxFirings,
		},
		Store: StoreConfig{
			SQLitePath: defaultSQLitePath,
		},
		Log: LogConfig{
			Level: defaultLogLevel,
		},
	}
}
