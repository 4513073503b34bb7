// Package config loads the service configuration from a JSON or YAML file
// with environment overrides.
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

	"github.com/luminet/dimmerd/core/dispatch"
	"github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/core/scheduler"
	corestore "github.com/luminet/dimmerd/core/store"
	"github.com/luminet/dimmerd/infra/chirpstack"
	infrastore "github.com/luminet/dimmerd/infra/store"
)

type Config struct {
	Store      StoreConfig       `json:"store"`
	ChirpStack chirpstack.Config `json:"chirpstack"`
	Dispatch   dispatch.Config   `json:"dispatch"`
	Scheduler  scheduler.Config  `json:"scheduler"`
	Metrics    metrics.Config    `json:"metrics"`
	AttemptLog AttemptLogConfig  `json:"attempt_log"`
	API        APIConfig         `json:"api"`
}

// StoreConfig locates the shared database and tunes change detection.
type StoreConfig struct {
	// Path is the SQLite database file written by the API service.
	Path string `json:"path"`
	// Watch kicks the poller on file changes in addition to the interval.
	Watch  bool                   `json:"watch"`
	Poller corestore.PollerConfig `json:"poller"`
}

// Database returns the adapter configuration.
func (c StoreConfig) Database() infrastore.Config {
	return infrastore.Config{Path: c.Path}
}

// AttemptLogConfig locates the local dispatch attempt database.
type AttemptLogConfig struct {
	Path string `json:"path"`
}

// APIConfig defines the query API endpoint.
type APIConfig struct {
	Listen string `json:"listen"`
	Token  string `json:"token"`
}

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
	if err := k.Load(env.Provider("DIMMERD_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "dimmerd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Store.Poller.SetDefaults()
	c.ChirpStack.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Metrics.SetDefaults()
	if c.AttemptLog.Path == "" {
		c.AttemptLog.Path = "dimmerd.db"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.ChirpStack.Server == "" {
		return fmt.Errorf("chirpstack.server is required")
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}
