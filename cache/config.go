/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"errors"
	"time"

	"github.com/mlandesman/sams-reqkit/config"
)

const cfgDefaultKeyPrefix = "cache"

const (
	cfgKeyMaxEntries       = "maxEntries"
	cfgKeyMaxEntrySize     = "maxEntrySize"
	cfgKeyDefaultTTL       = "defaultTTL"
	cfgKeyRules            = "rules"
	cfgKeyCleanupInterval  = "cleanupInterval"
	cfgKeyDedupEnabled     = "dedup.enabled"
	cfgKeyDedupWindow      = "dedup.window"
	cfgKeyDedupMaxRetained = "dedup.maxRetained"
)

// DefaultCleanupInterval is the default interval of the periodic sweep of expired entries.
const DefaultCleanupInterval = time.Minute

// DedupConfig represents configuration of request deduplication.
type DedupConfig struct {
	Enabled bool

	// Window keeps a successful outcome joinable after the call settled.
	Window      time.Duration
	MaxRetained int
}

// Config represents configuration of the response cache and deduplication.
type Config struct {
	MaxEntries      int
	MaxEntrySize    config.ByteSize
	DefaultTTL      time.Duration
	Rules           []TTLRule
	CleanupInterval time.Duration
	Dedup           DedupConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Empty keyPrefix means "cache".
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		MaxEntries:      DefaultMaxEntries,
		MaxEntrySize:    DefaultMaxEntrySize,
		DefaultTTL:      DefaultTTL,
		CleanupInterval: DefaultCleanupInterval,
		Dedup:           DedupConfig{Enabled: true, Window: DefaultRetainWindow, MaxRetained: DefaultMaxEntries},
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
	dp.SetDefault(cfgKeyMaxEntries, DefaultMaxEntries)
	dp.SetDefault(cfgKeyMaxEntrySize, DefaultMaxEntrySize)
	dp.SetDefault(cfgKeyDefaultTTL, DefaultTTL)
	dp.SetDefault(cfgKeyCleanupInterval, DefaultCleanupInterval)
	dp.SetDefault(cfgKeyDedupEnabled, true)
	dp.SetDefault(cfgKeyDedupWindow, DefaultRetainWindow)
	dp.SetDefault(cfgKeyDedupMaxRetained, DefaultMaxEntries)
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.MaxEntries, err = dp.GetInt(cfgKeyMaxEntries); err != nil {
		return err
	}
	if c.MaxEntries <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxEntries, errors.New("must be positive"))
	}
	if c.MaxEntrySize, err = dp.GetSizeInBytes(cfgKeyMaxEntrySize); err != nil {
		return err
	}
	if c.DefaultTTL, err = dp.GetDuration(cfgKeyDefaultTTL); err != nil {
		return err
	}
	if c.DefaultTTL <= 0 {
		return dp.WrapKeyErr(cfgKeyDefaultTTL, errors.New("must be positive"))
	}
	c.Rules = nil
	if err = dp.UnmarshalKey(cfgKeyRules, &c.Rules, config.WithTextUnmarshalerHook()); err != nil {
		return err
	}
	if _, err = NewPolicy(int(c.MaxEntrySize), c.DefaultTTL, c.Rules); err != nil {
		return dp.WrapKeyErr(cfgKeyRules, err)
	}
	if c.CleanupInterval, err = dp.GetDuration(cfgKeyCleanupInterval); err != nil {
		return err
	}
	if c.CleanupInterval < 0 {
		return dp.WrapKeyErr(cfgKeyCleanupInterval, errors.New("must not be negative"))
	}
	if c.Dedup.Enabled, err = dp.GetBool(cfgKeyDedupEnabled); err != nil {
		return err
	}
	if c.Dedup.Window, err = dp.GetDuration(cfgKeyDedupWindow); err != nil {
		return err
	}
	if c.Dedup.Window < 0 {
		return dp.WrapKeyErr(cfgKeyDedupWindow, errors.New("must not be negative"))
	}
	if c.Dedup.MaxRetained, err = dp.GetInt(cfgKeyDedupMaxRetained); err != nil {
		return err
	}
	if c.Dedup.MaxRetained < 0 {
		return dp.WrapKeyErr(cfgKeyDedupMaxRetained, errors.New("must not be negative"))
	}
	return nil
}

// Policy builds the cacheability policy described by the config.
func (c *Config) Policy() (*Policy, error) {
	return NewPolicy(int(c.MaxEntrySize), c.DefaultTTL, c.Rules)
}
