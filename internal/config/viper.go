package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CHAINER_ENGINE_MAX_FIRINGS.
const EnvPrefix = "CHAINER"

// InitViper creates a configured *viper.Viper.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (CHAINER_ENGINE_GOAL_GENERATION, ...)
//  3. The config file: configFile when given, else chainer.toml in the
//     working directory if present
//  4. Defaults from NewDefaultConfig()
func InitViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("chainer")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// a missing default file is fine, defaults apply
		if configFile != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() using dotted
// keys. Every key needs a default so that Unmarshal sees env overrides.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("engine.fact_duplication", d.Engine.FactDuplication)
	v.SetDefault("engine.goal_generation", d.Engine.GoalGeneration)
	v.SetDefault("engine.initial_fact_table_size", d.Engine.InitialFactTableSize)
	v.SetDefault("engine.max_firings", d.Engine.MaxFirings)

	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)

	v.SetDefault("log.level", d.Log.Level)
}

// Load resolves the effective configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
