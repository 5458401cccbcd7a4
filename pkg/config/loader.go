package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"policycrawl/pkg/utils"
)

// Load reads a YAML config file, unmarshals it, and validates the result.
// Warnings from validation are returned so the caller can log them.
func Load(path string) (*AppConfig, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, utils.WrapErrorf(err, "reading config file '%s'", path)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, utils.WrapErrorf(utils.ErrConfigValidation, "parsing config file '%s': %v", path, err)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return &cfg, warnings, nil
}
