/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package client

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mlandesman/sams-reqkit/cache"
	"github.com/mlandesman/sams-reqkit/config"
	"github.com/mlandesman/sams-reqkit/httpclient"
	"github.com/mlandesman/sams-reqkit/pipeline"
	"github.com/mlandesman/sams-reqkit/scheduler"
)

const (
	cfgKeyPrefetchEnabled      = "enabled"
	cfgKeyPrefetchMaxPerWindow = "maxPerWindow"
	cfgKeyPrefetchWindow       = "window"
	cfgKeyPrefetchMaxEndpoints = "maxEndpoints"
)

// Default values of the prefetch configuration.
const (
	DefaultPrefetchMaxPerWindow = 5
	DefaultPrefetchWindow       = time.Second
	DefaultPrefetchMaxEndpoints = 100
)

// PrefetchConfig limits speculative prefetching of related endpoints.
type PrefetchConfig struct {
	Enabled bool

	// MaxPerWindow prefetches of one endpoint are allowed within Window.
	MaxPerWindow int
	Window       time.Duration

	// MaxEndpoints bounds the number of endpoints tracked by the limiter.
	MaxEndpoints int
}

var _ config.Config = (*PrefetchConfig)(nil)
var _ config.KeyPrefixProvider = (*PrefetchConfig)(nil)

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *PrefetchConfig) KeyPrefix() string {
	return "prefetch"
}

// SetProviderDefaults is part of config interface implementation.
func (c *PrefetchConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyPrefetchEnabled, true)
	dp.SetDefault(cfgKeyPrefetchMaxPerWindow, DefaultPrefetchMaxPerWindow)
	dp.SetDefault(cfgKeyPrefetchWindow, DefaultPrefetchWindow)
	dp.SetDefault(cfgKeyPrefetchMaxEndpoints, DefaultPrefetchMaxEndpoints)
}

// Set is part of config interface implementation.
func (c *PrefetchConfig) Set(dp config.DataProvider) (err error) {
	if c.Enabled, err = dp.GetBool(cfgKeyPrefetchEnabled); err != nil {
		return err
	}
	if c.MaxPerWindow, err = dp.GetInt(cfgKeyPrefetchMaxPerWindow); err != nil {
		return err
	}
	if c.MaxPerWindow <= 0 {
		return dp.WrapKeyErr(cfgKeyPrefetchMaxPerWindow, errors.New("must be positive"))
	}
	if c.Window, err = dp.GetDuration(cfgKeyPrefetchWindow); err != nil {
		return err
	}
	if c.Window <= 0 {
		return dp.WrapKeyErr(cfgKeyPrefetchWindow, errors.New("must be positive"))
	}
	if c.MaxEndpoints, err = dp.GetInt(cfgKeyPrefetchMaxEndpoints); err != nil {
		return err
	}
	if c.MaxEndpoints < 0 {
		return dp.WrapKeyErr(cfgKeyPrefetchMaxEndpoints, errors.New("must not be negative"))
	}
	return nil
}

// Config aggregates configurations of all parts of the client.
type Config struct {
	Scheduler *scheduler.Config
	Pipeline  *pipeline.Config
	Cache     *cache.Config
	Transport *httpclient.Config
	Prefetch  *PrefetchConfig
}

// NewConfig creates a new Config with empty sections to be filled by a config.Loader.
func NewConfig() *Config {
	return &Config{
		Scheduler: scheduler.NewConfig(""),
		Pipeline:  pipeline.NewConfig(""),
		Cache:     cache.NewConfig(""),
		Transport: httpclient.NewConfig(""),
		Prefetch:  &PrefetchConfig{},
	}
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Scheduler: scheduler.NewDefaultConfig(),
		Pipeline:  pipeline.NewDefaultConfig(),
		Cache:     cache.NewDefaultConfig(),
		Transport: httpclient.NewDefaultConfig(),
		Prefetch: &PrefetchConfig{
			Enabled:      true,
			MaxPerWindow: DefaultPrefetchMaxPerWindow,
			Window:       DefaultPrefetchWindow,
			MaxEndpoints: DefaultPrefetchMaxEndpoints,
		},
	}
}

// Sections returns all configuration sections so they can be loaded together.
func (c *Config) Sections() []config.Config {
	return []config.Config{c.Scheduler, c.Pipeline, c.Cache, c.Transport, c.Prefetch}
}

// LoadConfigFromReader loads the client configuration from the reader.
// Environment variables with envVarsPrefix (e.g. REQKIT_SCHEDULER_MAXCONCURRENT) override the read values.
func LoadConfigFromReader(r io.Reader, dataType config.DataType, envVarsPrefix string) (*Config, error) {
	cfg := NewConfig()
	sections := cfg.Sections()
	if err := config.NewDefaultLoader(envVarsPrefix).LoadFromReader(r, dataType, sections[0], sections[1:]...); err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromFile loads the client configuration from the file.
func LoadConfigFromFile(path string, dataType config.DataType, envVarsPrefix string) (*Config, error) {
	cfg := NewConfig()
	sections := cfg.Sections()
	if err := config.NewDefaultLoader(envVarsPrefix).LoadFromFile(path, dataType, sections[0], sections[1:]...); err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}
