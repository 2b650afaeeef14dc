package retinotopy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a run configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if config.Subject.ID == "" {
		return nil, fmt.Errorf("subject.id is required")
	}
	if config.Subject.Surface == "" {
		return nil, fmt.Errorf("subject.surface is required")
	}
	if config.Subject.Chirality != "" && config.Subject.Chirality != "lh" && config.Subject.Chirality != "rh" {
		return nil, fmt.Errorf("subject.chirality must be \"lh\" or \"rh\", got %q", config.Subject.Chirality)
	}
	if config.Template.Surface == "" {
		return nil, fmt.Errorf("template.surface is required")
	}
	if config.ModelName == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.MaxPEChange < 0 || config.MaxPEChange > 1 {
		return nil, fmt.Errorf("maxPeChange must be in [0, 1], got %v", config.MaxPEChange)
	}
	if config.WeightCutoff != nil && *config.WeightCutoff < 0 {
		return nil, fmt.Errorf("weightCutoff must be non-negative, got %v", *config.WeightCutoff)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
