package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadFile loads and validates a YAML config file using Koanf.
// CLI flags override whatever the file sets; the caller merges them.
func LoadFile(filepath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filepath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", filepath, err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", filepath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", filepath, err)
	}

	return &cfg, nil
}
