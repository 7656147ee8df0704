// Package config persists user settings: refresh cadence, sort order, and
// the configured menu-bar items.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"gravbar/internal/quota"
)

// MenuBarItem is one configured status-bar slot. ModelKey is empty when the
// slot follows the primary (sort-selected) model.
type MenuBarItem struct {
	ID       string `yaml:"id"`
	ModelKey string `yaml:"model,omitempty"`
	Icon     string `yaml:"icon"`
}

// Config holds all persisted preferences.
type Config struct {
	RefreshSeconds int           `yaml:"refresh_seconds"`
	SortKey        string        `yaml:"sort_key"`
	SortDescending bool          `yaml:"sort_descending"`
	Items          []MenuBarItem `yaml:"menu_bar_items,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		RefreshSeconds: 60,
		SortKey:        quota.SortByName.String(),
	}
}

// Interval converts the refresh cadence to a duration, falling back to the
// default for non-positive values.
func (c Config) Interval() time.Duration {
	if c.RefreshSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RefreshSeconds) * time.Second
}

// SortOrder maps the persisted sort fields to a quota.SortOrder.
func (c Config) SortOrder() quota.SortOrder {
	return quota.SortOrder{
		Key:        quota.ParseSortKey(c.SortKey),
		Descending: c.SortDescending,
	}
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "gravbar")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gravbar")
}

func configPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Load reads the config file, or returns defaults when it does not exist.
func Load() (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config file, creating the directory if needed.
func (c Config) Save() error {
	dir := configDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath(), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
