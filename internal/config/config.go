// Package config holds the CLI configuration: engine options plus the
// optional YAML config file that carries them.
package config

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"

	"github.com/moolen/poddiag/internal/engine"
)

// Config holds all configuration for a diagnosis run.
type Config struct {
	// EnableCategories restricts rules to these categories; empty = all.
	EnableCategories []string `yaml:"enableCategories"`

	// DisableCategories removes rules in these categories after the
	// enable filter.
	DisableCategories []string `yaml:"disableCategories"`

	// Verbose includes the per-rule evaluation trace in output metadata.
	Verbose bool `yaml:"verbose"`

	// EngineVersion is stamped into output metadata. Must be a valid
	// semantic version when set.
	EngineVersion string `yaml:"engineVersion"`

	// RulesFile is an optional extra declarative rules file.
	RulesFile string `yaml:"rulesFile"`

	// Format selects the renderer: text, json or markdown.
	Format string `yaml:"format"`

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Format {
	case "", "text", "json", "markdown":
	default:
		return NewConfigError(fmt.Sprintf("Format must be one of text, json, markdown (got %q)", c.Format))
	}

	if c.EngineVersion != "" {
		if _, err := goversion.NewVersion(c.EngineVersion); err != nil {
			return NewConfigError(fmt.Sprintf("EngineVersion %q is not a valid version: %v", c.EngineVersion, err))
		}
	}

	for _, cat := range c.EnableCategories {
		if cat == "" {
			return NewConfigError("EnableCategories must not contain empty entries")
		}
	}
	for _, cat := range c.DisableCategories {
		if cat == "" {
			return NewConfigError("DisableCategories must not contain empty entries")
		}
	}
	return nil
}

// EngineOptions maps the config onto the engine's option record.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		EnableCategories:  c.EnableCategories,
		DisableCategories: c.DisableCategories,
		Verbose:           c.Verbose,
		EngineVersion:     c.EngineVersion,
	}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}
