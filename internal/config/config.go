package config

import (
	"io"
	"log/slog"

	"github.com/roach88/chainer/internal/engine"
)

// EngineOptions maps the engine section onto engine options.
func (c *Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithFactDuplication(c.Engine.FactDuplication),
		engine.WithGoalGeneration(c.Engine.GoalGeneration),
		engine.WithInitialFactTableSize(c.Engine.InitialFactTableSize),
		engine.WithMaxFirings(c.Engine.MaxFirings),
	}
}

// NewLogger builds a text logger at log.level writing to w.
// An invalid level falls back to info; Validate reports it.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
