// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package config loads host configuration from defaults, an optional YAML
// file, and command-line flags, in that order of precedence.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// ChannelConfig declares one cross-plugin channel and its participants.
type ChannelConfig struct {
	ID      string   `koanf:"id"`
	Plugins []string `koanf:"plugins"`
}

// MonitorConfig sets the resource window parameters.
type MonitorConfig struct {
	Interval       time.Duration `koanf:"interval"`
	MaxEvents      int64         `koanf:"max_events"`
	MaxHandlerTime time.Duration `koanf:"max_handler_time"`
}

// ObservabilityConfig sets the metrics/health listener.
type ObservabilityConfig struct {
	Addr string `koanf:"addr"`
}

// Config is the host configuration.
type Config struct {
	LogFormat     string              `koanf:"log_format"`
	LogLevel      string              `koanf:"log_level"`
	PluginsDir    string              `koanf:"plugins_dir"`
	Observability ObservabilityConfig `koanf:"observability"`
	Monitor       MonitorConfig       `koanf:"monitor"`
	Channels      []ChannelConfig     `koanf:"channels"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogFormat:  "json",
		LogLevel:   "info",
		PluginsDir: "plugins",
		Observability: ObservabilityConfig{
			Addr: "127.0.0.1:9198",
		},
		Monitor: MonitorConfig{
			Interval:       time.Second,
			MaxEvents:      1000,
			MaxHandlerTime: 500 * time.Millisecond,
		},
	}
}

// Load layers the optional YAML file at path and the given flag set over
// the defaults. Either may be empty/nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "loading config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "loading flags")
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "unmarshaling config")
	}

	return cfg, nil
}
