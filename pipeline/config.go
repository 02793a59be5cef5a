/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"errors"
	"time"

	"github.com/mlandesman/sams-reqkit/config"
)

const cfgDefaultKeyPrefix = "pipeline"

const (
	cfgKeyHistorySize           = "historySize"
	cfgKeyFastThreshold         = "fastThreshold"
	cfgKeySlowThreshold         = "slowThreshold"
	cfgKeyStreamThreshold       = "streamThreshold"
	cfgKeyStreamChunkSize       = "streamChunkSize"
	cfgKeyConfidenceThreshold   = "predictive.confidenceThreshold"
	cfgKeyPredictiveTTL         = "predictive.ttl"
	cfgKeyPredictiveMaxEntries  = "predictive.maxEntries"
	cfgKeyShapingMaxDepth       = "shaping.maxDepth"
	cfgKeyShapingMaxStringLen   = "shaping.maxStringLength"
	cfgKeyShapingMaxArrayLength = "shaping.maxArrayLength"
)

// Default values of the pipeline configuration.
const (
	DefaultHistorySize         = 20
	DefaultFastThreshold       = 200 * time.Millisecond
	DefaultSlowThreshold       = time.Second
	DefaultStreamThreshold     = 512 * 1024
	DefaultStreamChunkSize     = 32 * 1024
	DefaultConfidenceThreshold = 0.8
	DefaultPredictiveTTL       = 30 * time.Second
	DefaultPredictiveEntries   = 50
	DefaultShapingMaxDepth     = 5
	DefaultShapingMaxStringLen = 1024
	DefaultShapingMaxArrayLen  = 100
)

// ShapingConfig limits lossy payload shaping.
type ShapingConfig struct {
	MaxDepth        int
	MaxStringLength int
	MaxArrayLength  int
}

// PredictiveConfig represents configuration of the predictive cache.
type PredictiveConfig struct {
	ConfidenceThreshold float64
	TTL                 time.Duration
	MaxEntries          int
}

// Config represents the pipeline configuration.
type Config struct {
	HistorySize     int
	FastThreshold   time.Duration
	SlowThreshold   time.Duration
	StreamThreshold config.ByteSize
	StreamChunkSize config.ByteSize
	Predictive      PredictiveConfig
	Shaping         ShapingConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Empty keyPrefix means "pipeline".
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		HistorySize:     DefaultHistorySize,
		FastThreshold:   DefaultFastThreshold,
		SlowThreshold:   DefaultSlowThreshold,
		StreamThreshold: DefaultStreamThreshold,
		StreamChunkSize: DefaultStreamChunkSize,
		Predictive: PredictiveConfig{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			TTL:                 DefaultPredictiveTTL,
			MaxEntries:          DefaultPredictiveEntries,
		},
		Shaping: ShapingConfig{
			MaxDepth:        DefaultShapingMaxDepth,
			MaxStringLength: DefaultShapingMaxStringLen,
			MaxArrayLength:  DefaultShapingMaxArrayLen,
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
	dp.SetDefault(cfgKeyHistorySize, DefaultHistorySize)
	dp.SetDefault(cfgKeyFastThreshold, DefaultFastThreshold)
	dp.SetDefault(cfgKeySlowThreshold, DefaultSlowThreshold)
	dp.SetDefault(cfgKeyStreamThreshold, DefaultStreamThreshold)
	dp.SetDefault(cfgKeyStreamChunkSize, DefaultStreamChunkSize)
	dp.SetDefault(cfgKeyConfidenceThreshold, DefaultConfidenceThreshold)
	dp.SetDefault(cfgKeyPredictiveTTL, DefaultPredictiveTTL)
	dp.SetDefault(cfgKeyPredictiveMaxEntries, DefaultPredictiveEntries)
	dp.SetDefault(cfgKeyShapingMaxDepth, DefaultShapingMaxDepth)
	dp.SetDefault(cfgKeyShapingMaxStringLen, DefaultShapingMaxStringLen)
	dp.SetDefault(cfgKeyShapingMaxArrayLength, DefaultShapingMaxArrayLen)
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.HistorySize, err = dp.GetInt(cfgKeyHistorySize); err != nil {
		return err
	}
	if c.HistorySize <= 0 {
		return dp.WrapKeyErr(cfgKeyHistorySize, errors.New("must be positive"))
	}
	if c.FastThreshold, err = dp.GetDuration(cfgKeyFastThreshold); err != nil {
		return err
	}
	if c.SlowThreshold, err = dp.GetDuration(cfgKeySlowThreshold); err != nil {
		return err
	}
	if c.SlowThreshold < c.FastThreshold {
		return dp.WrapKeyErr(cfgKeySlowThreshold, errors.New("must not be less than fast threshold"))
	}
	if c.StreamThreshold, err = dp.GetSizeInBytes(cfgKeyStreamThreshold); err != nil {
		return err
	}
	if c.StreamChunkSize, err = dp.GetSizeInBytes(cfgKeyStreamChunkSize); err != nil {
		return err
	}
	if c.StreamChunkSize == 0 {
		return dp.WrapKeyErr(cfgKeyStreamChunkSize, errors.New("must be positive"))
	}
	if err = c.setPredictive(dp); err != nil {
		return err
	}
	return c.setShaping(dp)
}

func (c *Config) setPredictive(dp config.DataProvider) (err error) {
	if c.Predictive.ConfidenceThreshold, err = dp.GetFloat64(cfgKeyConfidenceThreshold); err != nil {
		return err
	}
	if c.Predictive.ConfidenceThreshold < 0 || c.Predictive.ConfidenceThreshold > 1 {
		return dp.WrapKeyErr(cfgKeyConfidenceThreshold, errors.New("must be in range [0..1]"))
	}
	if c.Predictive.TTL, err = dp.GetDuration(cfgKeyPredictiveTTL); err != nil {
		return err
	}
	if c.Predictive.MaxEntries, err = dp.GetInt(cfgKeyPredictiveMaxEntries); err != nil {
		return err
	}
	if c.Predictive.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyPredictiveMaxEntries, errors.New("must not be negative"))
	}
	return nil
}

func (c *Config) setShaping(dp config.DataProvider) (err error) {
	for key, dst := range map[string]*int{
		cfgKeyShapingMaxDepth:       &c.Shaping.MaxDepth,
		cfgKeyShapingMaxStringLen:   &c.Shaping.MaxStringLength,
		cfgKeyShapingMaxArrayLength: &c.Shaping.MaxArrayLength,
	} {
		if *dst, err = dp.GetInt(key); err != nil {
			return err
		}
		if *dst <= 0 {
			return dp.WrapKeyErr(key, errors.New("must be positive"))
		}
	}
	return nil
}
