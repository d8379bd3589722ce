// Package config holds the worker's YAML configuration and parameter presets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stepd/internal/logging"
	"github.com/san-kum/stepd/internal/unit"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = logging.FormatText
)

type Config struct {
	Log       LogConfig                         `yaml:"log"`
	Units     UnitsConfig                       `yaml:"units"`
	RecordDir string                            `yaml:"record_dir"`
	Journal   string                            `yaml:"journal"`
	Presets   map[string]map[string]unit.Params `yaml:"presets"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type UnitsConfig struct {
	StripExtensions []string          `yaml:"strip_extensions"`
	Aliases         map[string]string `yaml:"aliases"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Units: UnitsConfig{
			StripExtensions: append([]string(nil), unit.DefaultExtensions...),
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	for _, ext := range c.Units.StripExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("extension %q must start with a dot", ext))
		}
	}
	for alias, name := range c.Units.Aliases {
		if alias == "" || name == "" {
			errs = append(errs, fmt.Errorf("alias %q -> %q is incomplete", alias, name))
		}
	}
	return errors.Join(errs...)
}

// RegistryOptions translates the units section into registry options.
func (c *Config) RegistryOptions() []unit.Option {
	opts := []unit.Option{unit.WithExtensions(c.Units.StripExtensions...)}
	if len(c.Units.Aliases) > 0 {
		opts = append(opts, unit.WithAliases(c.Units.Aliases))
	}
	return opts
}

// Preset looks up a preset in the file first and the built-ins second.
func (c *Config) Preset(unitName, preset string) unit.Params {
	if p, ok := c.Presets[unitName][preset]; ok {
		return p.Clone()
	}
	return GetPreset(unitName, preset)
}
