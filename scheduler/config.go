/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"errors"
	"time"

	"github.com/mlandesman/sams-reqkit/config"
)

const cfgDefaultKeyPrefix = "scheduler"

const (
	cfgKeyMaxConcurrent   = "maxConcurrent"
	cfgKeyMaxRetries      = "maxRetries"
	cfgKeyRetryBaseDelay  = "retryBaseDelay"
	cfgKeyTimeout         = "timeout"
	cfgKeyBatchingEnabled = "batching.enabled"
	cfgKeyBatchingMaxSize = "batching.maxSize"
	cfgKeyBatchingWindow  = "batching.window"
)

// Default values of the scheduler configuration.
const (
	DefaultMaxConcurrent  = 6
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultBatchMaxSize   = 10
	DefaultBatchWindow    = 50 * time.Millisecond
)

// BatchingConfig represents configuration of batching.
type BatchingConfig struct {
	Enabled bool
	MaxSize int
	Window  time.Duration
}

// Config represents the scheduler configuration.
type Config struct {
	// MaxConcurrent is the ceiling for concurrently executing operations.
	MaxConcurrent int

	// MaxRetries is the maximum number of retries of a transient failure. Zero disables retries.
	MaxRetries int

	// RetryBaseDelay is the delay before the first retry, doubled for every next one.
	RetryBaseDelay time.Duration

	// Timeout bounds every attempt unless the operation sets its own.
	Timeout time.Duration

	Batching BatchingConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Empty keyPrefix means "scheduler".
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrent:  DefaultMaxConcurrent,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		Timeout:        DefaultTimeout,
		Batching:       BatchingConfig{MaxSize: DefaultBatchMaxSize, Window: DefaultBatchWindow},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults is part of config interface implementation.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxConcurrent, DefaultMaxConcurrent)
	dp.SetDefault(cfgKeyMaxRetries, DefaultMaxRetries)
	dp.SetDefault(cfgKeyRetryBaseDelay, DefaultRetryBaseDelay)
	dp.SetDefault(cfgKeyTimeout, DefaultTimeout)
	dp.SetDefault(cfgKeyBatchingEnabled, false)
	dp.SetDefault(cfgKeyBatchingMaxSize, DefaultBatchMaxSize)
	dp.SetDefault(cfgKeyBatchingWindow, DefaultBatchWindow)
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.MaxConcurrent, err = dp.GetInt(cfgKeyMaxConcurrent); err != nil {
		return err
	}
	if c.MaxConcurrent <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxConcurrent, errors.New("must be positive"))
	}
	if c.MaxRetries, err = dp.GetInt(cfgKeyMaxRetries); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return dp.WrapKeyErr(cfgKeyMaxRetries, errors.New("must not be negative"))
	}
	if c.RetryBaseDelay, err = dp.GetDuration(cfgKeyRetryBaseDelay); err != nil {
		return err
	}
	if c.RetryBaseDelay <= 0 {
		return dp.WrapKeyErr(cfgKeyRetryBaseDelay, errors.New("must be positive"))
	}
	if c.Timeout, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, errors.New("must be positive"))
	}
	return c.setBatching(dp)
}

func (c *Config) setBatching(dp config.DataProvider) (err error) {
	if c.Batching.Enabled, err = dp.GetBool(cfgKeyBatchingEnabled); err != nil {
		return err
	}
	if c.Batching.MaxSize, err = dp.GetInt(cfgKeyBatchingMaxSize); err != nil {
		return err
	}
	if c.Batching.MaxSize <= 0 {
		return dp.WrapKeyErr(cfgKeyBatchingMaxSize, errors.New("must be positive"))
	}
	if c.Batching.Window, err = dp.GetDuration(cfgKeyBatchingWindow); err != nil {
		return err
	}
	if c.Batching.Window <= 0 {
		return dp.WrapKeyErr(cfgKeyBatchingWindow, errors.New("must be positive"))
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.MaxConcurrent <= 0:
		return errors.New("max concurrent must be positive")
	case c.MaxRetries < 0:
		return errors.New("max retries must not be negative")
	case c.MaxRetries > 0 && c.RetryBaseDelay <= 0:
		return errors.New("retry base delay must be positive")
	case c.Timeout <= 0:
		return errors.New("timeout must be positive")
	case c.Batching.Enabled && (c.Batching.MaxSize <= 0 || c.Batching.Window <= 0):
		return errors.New("batching max size and window must be positive")
	}
	return nil
}
