package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ServiceSettings holds per-service switches from the services file.
type ServiceSettings struct {
	Enabled     bool   `yaml:"enabled"`
	AllowDraft  bool   `yaml:"allow_draft"`
	Description string `yaml:"description"`
}

// ServicesConfig is the parsed services file.
type ServicesConfig struct {
	Services map[string]*ServiceSettings `yaml:"services"`
}

// LoadServicesConfig loads the services configuration from config/services.yaml
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}
	for name, settings := range cfg.Services {
		if settings == nil {
			return nil, fmt.Errorf("service %s: empty settings", name)
		}
	}
	return &cfg, nil
}

// LoadServicesConfigOrDefault returns the file at path, or the default
// configuration when the file does not exist.
func LoadServicesConfigOrDefault(path string) (*ServicesConfig, error) {
	cfg, err := LoadServicesConfigFromPath(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultServicesConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// DefaultServicesConfig enables every service with drafts disabled.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"catalog": {
				Enabled:     true,
				Description: "Item catalog with search, bulk transfer and sample methods",
			},
		},
	}
}

// Enabled reports whether a service should be registered. Services missing
// from the file are enabled.
func (c *ServicesConfig) Enabled(name string) bool {
	if c == nil {
		return true
	}
	s, ok := c.Services[name]
	return !ok || s.Enabled
}

// DraftServices lists services whose draft methods may execute.
func (c *ServicesConfig) DraftServices() []string {
	if c == nil {
		return nil
	}
	var out []string
	for name, s := range c.Services {
		if s.AllowDraft {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
