// Package config loads the environment properties that parameterize a
// simulation run (world shape, register/stack limits, tick pacing) from a
// file and environment variables, via viper.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"evochora/internal/organism"
)

// EnvironmentProperties is the full set of knobs one simulation run is
// configured with.
type EnvironmentProperties struct {
	WorldShape []int32 `mapstructure:"world_shape"`

	NumDR              int `mapstructure:"num_dr"`
	NumPR              int `mapstructure:"num_pr"`
	NumFPR             int `mapstructure:"num_fpr"`
	NumLR              int `mapstructure:"num_lr"`
	DataStackDepth     int `mapstructure:"data_stack_depth"`
	LocationStackDepth int `mapstructure:"location_stack_depth"`
	CallStackDepth     int `mapstructure:"call_stack_depth"`

	CheckpointPauseTicks uint64 `mapstructure:"checkpoint_pause_ticks"`
	LogLevel             string `mapstructure:"log_level"`
}

// Limits projects the register/stack portion of EnvironmentProperties into
// an organism.Limits.
func (p EnvironmentProperties) Limits() organism.Limits {
	return organism.Limits{
		NumDR: p.NumDR, NumPR: p.NumPR, NumFPR: p.NumFPR, NumLR: p.NumLR,
		DataStackDepth:     p.DataStackDepth,
		LocationStackDepth: p.LocationStackDepth,
		CallStackDepth:     p.CallStackDepth,
	}
}

func defaults() EnvironmentProperties {
	lim := organism.DefaultLimits
	return EnvironmentProperties{
		WorldShape:           []int32{100, 100},
		NumDR:                lim.NumDR,
		NumPR:                lim.NumPR,
		NumFPR:               lim.NumFPR,
		NumLR:                lim.NumLR,
		DataStackDepth:       lim.DataStackDepth,
		LocationStackDepth:   lim.LocationStackDepth,
		CallStackDepth:       lim.CallStackDepth,
		CheckpointPauseTicks: 0,
		LogLevel:             "info",
	}
}

// Load reads environment properties from built-in defaults, configPath (if
// non-empty), and EVOCHORA_-prefixed environment variables, in that order
// of increasing precedence (viper's env > file > default rule).
func Load(configPath string) (EnvironmentProperties, error) {
	v := viper.New()
	d := defaults()

	v.SetDefault("world_shape", d.WorldShape)
	v.SetDefault("num_dr", d.NumDR)
	v.SetDefault("num_pr", d.NumPR)
	v.SetDefault("num_fpr", d.NumFPR)
	v.SetDefault("num_lr", d.NumLR)
	v.SetDefault("data_stack_depth", d.DataStackDepth)
	v.SetDefault("location_stack_depth", d.LocationStackDepth)
	v.SetDefault("call_stack_depth", d.CallStackDepth)
	v.SetDefault("checkpoint_pause_ticks", d.CheckpointPauseTicks)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("EVOCHORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return EnvironmentProperties{}, errors.Wrapf(err, "config: reading %s", configPath)
		}
	}

	var props EnvironmentProperties
	if err := v.Unmarshal(&props); err != nil {
		return EnvironmentProperties{}, errors.Wrap(err, "config: unmarshal")
	}
	return props, nil
}
