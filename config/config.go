// Package config loads the service configuration from YAML or JSON files
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kidlift/kidlift/core/allocate"
	"github.com/kidlift/kidlift/core/fairness"
	"github.com/kidlift/kidlift/core/lifecycle"
	"github.com/kidlift/kidlift/core/metrics"
	"github.com/kidlift/kidlift/core/swap"
	infralogger "github.com/kidlift/kidlift/infra/logger"
	infranotify "github.com/kidlift/kidlift/infra/notify"
)

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `json:"driver"`
	// Path is the SQLite database file, required for the sqlite driver.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("store path is required for sqlite driver")
		}
		return nil
	default:
		return fmt.Errorf("unknown store driver %s", c.Driver)
	}
}

// SweepsConfig sets the intervals of the two background sweeps.
type SweepsConfig struct {
	NoResponseIntervalMinutes int `json:"no_response_interval_minutes"`
	AutoAcceptIntervalMinutes int `json:"auto_accept_interval_minutes"`
}

// SetDefaults applies sane defaults.
func (c *SweepsConfig) SetDefaults() {
	if c.NoResponseIntervalMinutes <= 0 {
		c.NoResponseIntervalMinutes = 15
	}
	if c.AutoAcceptIntervalMinutes <= 0 {
		c.AutoAcceptIntervalMinutes = 15
	}
}

// NotifyConfig selects the notification dispatcher.
type NotifyConfig struct {
	// Dispatcher is "mqtt" or "nop".
	Dispatcher string             `json:"dispatcher"`
	MQTT       infranotify.Config `json:"mqtt"`
}

// SetDefaults applies sane defaults.
func (c *NotifyConfig) SetDefaults() {
	if c.Dispatcher == "" {
		c.Dispatcher = "nop"
	}
	c.MQTT.SetDefaults()
}

// Validate checks mandatory fields.
func (c NotifyConfig) Validate() error {
	switch c.Dispatcher {
	case "nop":
		return nil
	case "mqtt":
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required for mqtt dispatcher")
		}
		return nil
	default:
		return fmt.Errorf("unknown notify dispatcher %s", c.Dispatcher)
	}
}

// Config is the root service configuration.
type Config struct {
	Store     StoreConfig        `json:"store"`
	Allocator allocate.Config    `json:"allocator"`
	Fairness  fairness.Config    `json:"fairness"`
	Lifecycle lifecycle.Config   `json:"lifecycle"`
	Swap      swap.Config        `json:"swap"`
	Sweeps    SweepsConfig       `json:"sweeps"`
	Notify    NotifyConfig       `json:"notify"`
	Metrics   metrics.Config     `json:"metrics"`
	Logging   infralogger.Config `json:"logging"`
	Groups    []GroupConfig      `json:"groups"`
}

// Load reads the configuration file and applies CARPOOL_-prefixed
// environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("CARPOOL_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "carpool_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Store.SetDefaults()
	cfg.Allocator.SetDefaults()
	cfg.Fairness.SetDefaults()
	cfg.Lifecycle.SetDefaults()
	cfg.Swap.SetDefaults()
	cfg.Sweeps.SetDefaults()
	cfg.Notify.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Logging.SetDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Notify.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	for _, g := range cfg.Groups {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
