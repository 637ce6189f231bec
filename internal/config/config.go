package config

import (
	"encoding/json"
	"fmt"
	"mt5-session-bot/internal/models"
	"os"
)

// LoadConfig reads a JSON config file and merges it over the compiled-in
// defaults, so a partial file only overrides what it names. A missing file is
// not an error: the defaults are returned as-is.
func LoadConfig(path string) (*models.Config, error) {
	cfg := models.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// WriteDefault writes the default config to path, pretty-printed, so a fresh
// deployment has a file to edit.
func WriteDefault(path string) error {
	data, err := json.MarshalIndent(models.DefaultConfig(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
