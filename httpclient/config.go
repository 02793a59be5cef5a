/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mlandesman/sams-reqkit/config"
)

const cfgDefaultKeyPrefix = "transport"

const (
	cfgKeyTimeout                 = "timeout"
	cfgKeyMaxIdleConnsPerHost     = "maxIdleConnsPerHost"
	cfgKeyRateLimitsEnabled       = "rateLimits.enabled"
	cfgKeyRateLimitsLimit         = "rateLimits.limit"
	cfgKeyRateLimitsBurst         = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout   = "rateLimits.waitTimeout"
	cfgKeyRateLimitsAdaptHeader   = "rateLimits.adaptation.responseHeaderName"
	cfgKeyRateLimitsAdaptSlack    = "rateLimits.adaptation.slackPercent"
	cfgKeyLogEnabled              = "log.enabled"
	cfgKeyLogMode                 = "log.mode"
	cfgKeyLogSlowRequestThreshold = "log.slowRequestThreshold"
	cfgKeyMetricsEnabled          = "metrics.enabled"
	cfgKeyDNSServers              = "dns.servers"
	cfgKeyDNSTimeout              = "dns.timeout"
)

const defaultMaxIdleConnsPerHost = 6

// RateLimitConfig represents configuration options for HTTP client rate limits.
type RateLimitConfig struct {
	Enabled     bool
	Limit       int
	Burst       int
	WaitTimeout time.Duration
	Adaptation  RateLimitingRoundTripperAdaptation
}

// TransportOpts returns transport options.
func (c *RateLimitConfig) TransportOpts() RateLimitingRoundTripperOpts {
	return RateLimitingRoundTripperOpts{Burst: c.Burst, WaitTimeout: c.WaitTimeout, Adaptation: c.Adaptation}
}

// LogConfig represents configuration options for HTTP client logs.
type LogConfig struct {
	Enabled              bool
	Mode                 LoggingMode
	SlowRequestThreshold time.Duration
}

// TransportOpts returns transport options.
func (c *LogConfig) TransportOpts() LoggingRoundTripperOpts {
	return LoggingRoundTripperOpts{Mode: c.Mode, SlowRequestThreshold: c.SlowRequestThreshold}
}

// MetricsConfig represents configuration options for HTTP client metrics.
type MetricsConfig struct {
	Enabled bool
}

// DNSConfig overrides the system resolver. Empty Servers means the system resolver is used.
type DNSConfig struct {
	Servers []string
	Timeout time.Duration
}

// Config represents options for the transport the scheduler executes requests with.
type Config struct {
	// Timeout bounds the whole exchange on the http.Client level. Zero means no limit
	// (every attempt is still bounded by the scheduler timeout).
	Timeout time.Duration

	// MaxIdleConnsPerHost is passed to the default http.Transport.
	MaxIdleConnsPerHost int

	RateLimits RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	DNS        DNSConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Empty keyPrefix means "transport".
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		Log:                 LogConfig{Enabled: true, Mode: LoggingModeFailed},
		Metrics:             MetricsConfig{Enabled: true},
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
	dp.SetDefault(cfgKeyMaxIdleConnsPerHost, defaultMaxIdleConnsPerHost)
	dp.SetDefault(cfgKeyRateLimitsWaitTimeout, DefaultRateLimitingWaitTimeout)
	dp.SetDefault(cfgKeyLogEnabled, true)
	dp.SetDefault(cfgKeyLogMode, string(LoggingModeFailed))
	dp.SetDefault(cfgKeyMetricsEnabled, true)
	dp.SetDefault(cfgKeyDNSTimeout, defaultDNSDialTimeout)
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.Timeout, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, errors.New("must not be negative"))
	}
	if c.MaxIdleConnsPerHost, err = dp.GetInt(cfgKeyMaxIdleConnsPerHost); err != nil {
		return err
	}
	if err = c.setRateLimits(dp); err != nil {
		return err
	}
	if err = c.setLog(dp); err != nil {
		return err
	}
	if c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled); err != nil {
		return err
	}
	return c.setDNS(dp)
}

func (c *Config) setDNS(dp config.DataProvider) (err error) {
	if c.DNS.Servers, err = dp.GetStringSlice(cfgKeyDNSServers); err != nil {
		return err
	}
	for _, addr := range c.DNS.Servers {
		if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
			return dp.WrapKeyErr(cfgKeyDNSServers, fmt.Errorf("invalid server address %q: %w", addr, splitErr))
		}
	}
	if c.DNS.Timeout, err = dp.GetDuration(cfgKeyDNSTimeout); err != nil {
		return err
	}
	if c.DNS.Timeout < 0 {
		return dp.WrapKeyErr(cfgKeyDNSTimeout, errors.New("must not be negative"))
	}
	return nil
}

func (c *Config) setRateLimits(dp config.DataProvider) (err error) {
	if c.RateLimits.Enabled, err = dp.GetBool(cfgKeyRateLimitsEnabled); err != nil {
		return err
	}
	if !c.RateLimits.Enabled {
		return nil
	}
	if c.RateLimits.Limit, err = dp.GetInt(cfgKeyRateLimitsLimit); err != nil {
		return err
	}
	if c.RateLimits.Limit <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsLimit, errors.New("must be positive"))
	}
	if c.RateLimits.Burst, err = dp.GetInt(cfgKeyRateLimitsBurst); err != nil {
		return err
	}
	if c.RateLimits.Burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, errors.New("must not be negative"))
	}
	if c.RateLimits.WaitTimeout, err = dp.GetDuration(cfgKeyRateLimitsWaitTimeout); err != nil {
		return err
	}
	if c.RateLimits.Adaptation.ResponseHeaderName, err = dp.GetString(cfgKeyRateLimitsAdaptHeader); err != nil {
		return err
	}
	if c.RateLimits.Adaptation.SlackPercent, err = dp.GetInt(cfgKeyRateLimitsAdaptSlack); err != nil {
		return err
	}
	if c.RateLimits.Adaptation.SlackPercent < 0 || c.RateLimits.Adaptation.SlackPercent > 100 {
		return dp.WrapKeyErr(cfgKeyRateLimitsAdaptSlack, errors.New("must be in range [0..100]"))
	}
	return nil
}

func (c *Config) setLog(dp config.DataProvider) (err error) {
	if c.Log.Enabled, err = dp.GetBool(cfgKeyLogEnabled); err != nil {
		return err
	}
	mode, err := dp.GetStringFromSet(cfgKeyLogMode,
		[]string{string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}, true)
	if err != nil {
		return err
	}
	c.Log.Mode = LoggingMode(mode)
	if c.Log.SlowRequestThreshold, err = dp.GetDuration(cfgKeyLogSlowRequestThreshold); err != nil {
		return err
	}
	if c.Log.SlowRequestThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyLogSlowRequestThreshold, errors.New("must not be negative"))
	}
	return nil
}
