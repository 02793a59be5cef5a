/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import (
	"errors"
	"time"

	"github.com/mlandesman/sams-reqkit/config"
)

const cfgDefaultKeyPrefix = "coordinator"

const (
	cfgKeyMaxParallel             = "maxParallel"
	cfgKeyDefaultTimeout          = "defaultTimeout"
	cfgKeyProgressInterval        = "progressInterval"
	cfgKeyThrottleEnabled         = "throttle.enabled"
	cfgKeyThrottleMemoryThreshold = "throttle.memoryThreshold"
	cfgKeyThrottleActiveThreshold = "throttle.activeThreshold"
	cfgKeyThrottleBaseDelay       = "throttle.baseDelay"
	cfgKeyThrottleMaxDelay        = "throttle.maxDelay"
)

// Default values of the coordinator configuration.
const (
	DefaultMaxParallel             = 6
	DefaultOperationTimeout        = 30 * time.Second
	DefaultProgressInterval        = 250 * time.Millisecond
	DefaultThrottleMemoryThreshold = 512 << 20
	DefaultThrottleActiveThreshold = 50
	DefaultThrottleBaseDelay       = 50 * time.Millisecond
	DefaultThrottleMaxDelay        = 2 * time.Second
)

// ThrottleConfig represents configuration of the adaptive throttling.
type ThrottleConfig struct {
	Enabled bool

	// MemoryThreshold is the heap usage above which admission of a new group is delayed.
	MemoryThreshold config.ByteSize

	// ActiveThreshold is the number of running operations above which admission of a new group is delayed.
	ActiveThreshold int

	// BaseDelay is multiplied by √(group size) and the priority weight.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Config represents the coordinator configuration.
type Config struct {
	MaxParallel      int
	DefaultTimeout   time.Duration
	ProgressInterval time.Duration
	Throttle         ThrottleConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Empty keyPrefix means "coordinator".
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		MaxParallel:      DefaultMaxParallel,
		DefaultTimeout:   DefaultOperationTimeout,
		ProgressInterval: DefaultProgressInterval,
		Throttle: ThrottleConfig{
			Enabled:         true,
			MemoryThreshold: DefaultThrottleMemoryThreshold,
			ActiveThreshold: DefaultThrottleActiveThreshold,
			BaseDelay:       DefaultThrottleBaseDelay,
			MaxDelay:        DefaultThrottleMaxDelay,
		},
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
	dp.SetDefault(cfgKeyMaxParallel, DefaultMaxParallel)
	dp.SetDefault(cfgKeyDefaultTimeout, DefaultOperationTimeout)
	dp.SetDefault(cfgKeyProgressInterval, DefaultProgressInterval)
	dp.SetDefault(cfgKeyThrottleEnabled, true)
	dp.SetDefault(cfgKeyThrottleMemoryThreshold, DefaultThrottleMemoryThreshold)
	dp.SetDefault(cfgKeyThrottleActiveThreshold, DefaultThrottleActiveThreshold)
	dp.SetDefault(cfgKeyThrottleBaseDelay, DefaultThrottleBaseDelay)
	dp.SetDefault(cfgKeyThrottleMaxDelay, DefaultThrottleMaxDelay)
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.MaxParallel, err = dp.GetInt(cfgKeyMaxParallel); err != nil {
		return err
	}
	if c.MaxParallel <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxParallel, errors.New("must be positive"))
	}
	if c.DefaultTimeout, err = dp.GetDuration(cfgKeyDefaultTimeout); err != nil {
		return err
	}
	if c.DefaultTimeout <= 0 {
		return dp.WrapKeyErr(cfgKeyDefaultTimeout, errors.New("must be positive"))
	}
	if c.ProgressInterval, err = dp.GetDuration(cfgKeyProgressInterval); err != nil {
		return err
	}
	if c.ProgressInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyProgressInterval, errors.New("must be positive"))
	}
	return c.setThrottle(dp)
}

func (c *Config) setThrottle(dp config.DataProvider) (err error) {
	if c.Throttle.Enabled, err = dp.GetBool(cfgKeyThrottleEnabled); err != nil {
		return err
	}
	if c.Throttle.MemoryThreshold, err = dp.GetSizeInBytes(cfgKeyThrottleMemoryThreshold); err != nil {
		return err
	}
	if c.Throttle.ActiveThreshold, err = dp.GetInt(cfgKeyThrottleActiveThreshold); err != nil {
		return err
	}
	if c.Throttle.ActiveThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyThrottleActiveThreshold, errors.New("must not be negative"))
	}
	if c.Throttle.BaseDelay, err = dp.GetDuration(cfgKeyThrottleBaseDelay); err != nil {
		return err
	}
	if c.Throttle.BaseDelay < 0 {
		return dp.WrapKeyErr(cfgKeyThrottleBaseDelay, errors.New("must not be negative"))
	}
	if c.Throttle.MaxDelay, err = dp.GetDuration(cfgKeyThrottleMaxDelay); err != nil {
		return err
	}
	if c.Throttle.MaxDelay < c.Throttle.BaseDelay {
		return dp.WrapKeyErr(cfgKeyThrottleMaxDelay, errors.New("must not be less than base delay"))
	}
	return nil
}
