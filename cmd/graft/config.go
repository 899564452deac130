package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the graft configuration file (~/.config/graft/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Classifier head defaults
	OutputMin *float64 `yaml:"output_min"`
	OutputMax *float64 `yaml:"output_max"`
	Normalize *bool    `yaml:"normalize"`

	Producer string `yaml:"producer"`
}

// config holds the file loaded by the root Before hook.
var config Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "graft", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyAppendConfig applies config file defaults to append command options
// when the corresponding flag was not explicitly set.
func applyAppendConfig(c *cli.Command, cfg Config, opts *appendOptions) {
	if cfg.OutputMin != nil && !c.IsSet("output-min") {
		opts.outputMin = *cfg.OutputMin
		opts.minSet = true
	}
	if cfg.OutputMax != nil && !c.IsSet("output-max") {
		opts.outputMax = *cfg.OutputMax
		opts.maxSet = true
	}
	if cfg.Normalize != nil && !c.IsSet("normalize") {
		opts.normalize = *cfg.Normalize
	}
	if cfg.Producer != "" && !c.IsSet("producer") {
		opts.producer = cfg.Producer
	}
}
