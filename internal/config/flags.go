package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag that maps to a config
// key. Commands reference flags by registry key so that name, default and
// help text cannot drift between commands.
type Flag struct {
	Name        string
	Shorthand   string
	ViperKey    string
	Description string
}

// FlagSet maps registry keys to flags.
type FlagSet map[string]Flag

// Flag registry keys.
const (
	FlagSQLite          = "sqlite"
	FlagGoalGeneration  = "goals"
	FlagFactDuplication = "duplicates"
	FlagMaxFirings      = "max-firings"
	FlagTableSize       = "table-size"
	FlagLogLevel        = "log-level"
)

// Flags is the registry shared by every chainer command.
var Flags = FlagSet{
	FlagSQLite: {
		Name:        "db",
		ViperKey:    "store.sqlite_path",
		Description: "SQLite journal path",
	},
	FlagGoalGeneration: {
		Name:        "goals",
		ViperKey:    "engine.goal_generation",
		Description: "generate goals for backward-chaining templates",
	},
	FlagFactDuplication: {
		Name:        "duplicates",
		ViperKey:    "engine.fact_duplication",
		Description: "allow identical facts to coexist",
	},
	FlagMaxFirings: {
		Name:        "max-firings",
		ViperKey:    "engine.max_firings",
		Description: "firing limit for runs without an explicit limit",
	},
	FlagTableSize: {
		Name:        "table-size",
		ViperKey:    "engine.initial_fact_table_size",
		Description: "initial fact table bucket count",
	},
	FlagLogLevel: {
		Name:        "log-level",
		ViperKey:    "log.level",
		Description: "log level (debug, info, warn, error)",
	},
}

// AddStringFlag registers a string flag on cmd from fs.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}
	cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaults().GetString(def.ViperKey), def.Description)
}

// AddBoolFlag registers a bool flag on cmd from fs.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	def, ok := fs[key]
	if !ok {
		return
	}
	cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaults().GetBool(def.ViperKey), def.Description)
}

// AddIntFlag registers an int flag on cmd from fs.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, key string, target *int) {
	def, ok := fs[key]
	if !ok {
		return
	}
	cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaults().GetInt(def.ViperKey), def.Description)
}

// BindRegisteredFlags binds already-registered flags to viper. Call it in
// PreRunE after InitViper to put flags at the top of the precedence chain.
// Flags the user did not set fall through to env, file and defaults.
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, keys []string) {
	for _, key := range keys {
		def, ok := fs[key]
		if !ok {
			continue
		}
		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}
		_ = v.BindPFlag(def.ViperKey, f)
	}
}

func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
