// Package config loads the example agent/server binaries' runtime settings
// from flags, environment variables, and an optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the example agent and server
// binaries (cmd/agent, cmd/server).
type Config struct {
	// Address is the TCP address to dial (agent) or listen on (server).
	Address string `mapstructure:"address"`

	// LogLevel is a logrus level name: trace, debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat selects "text" or "json" logrus output.
	LogFormat string `mapstructure:"log_format"`

	// Multiplex selects the multiplexer demux mode instead of the default
	// request-manager mode.
	Multiplex bool `mapstructure:"multiplex"`

	// MetricsAddress, if non-empty, serves /metrics on this address.
	MetricsAddress string `mapstructure:"metrics_address"`
}

// Default returns the baseline configuration applied before flags,
// environment variables, or a config file are layered on top.
func Default() *Config {
	return &Config{
		Address:        "127.0.0.1:7777",
		LogLevel:       "info",
		LogFormat:      "text",
		Multiplex:      false,
		MetricsAddress: "",
	}
}

// Load reads configuration from configPath (if non-empty), then AGENTPROTO_*
// environment variables, layered over Default(). Precedence, highest first:
// environment, config file, defaults; flags are bound by the caller before
// Load runs, via v.BindPFlag, so they take precedence over all of the above.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	def := Default()
	v.SetDefault("address", def.Address)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("multiplex", def.Multiplex)
	v.SetDefault("metrics_address", def.MetricsAddress)

	v.SetEnvPrefix("AGENTPROTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
