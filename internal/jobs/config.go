package jobs

import (
	"fmt"
	"runtime"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "jobs"

const (
	cfgKeyWorkerPoolSize   = "workerPoolSize"
	cfgKeyProgressInterval = "progressInterval"
	cfgKeyStatusTTL        = "statusTTL"
)

// Config represents a set of configuration parameters for the job runner
// and the job status store.
type Config struct {
	WorkerPoolSize   int                 `mapstructure:"workerPoolSize" yaml:"workerPoolSize" json:"workerPoolSize"`
	ProgressInterval int                 `mapstructure:"progressInterval" yaml:"progressInterval" json:"progressInterval"`
	StatusTTL        config.TimeDuration `mapstructure:"statusTTL" yaml:"statusTTL" json:"statusTTL"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyWorkerPoolSize, runtime.NumCPU())
	dp.SetDefault(cfgKeyProgressInterval, 1)
	dp.SetDefault(cfgKeyStatusTTL, DefaultStatusTTL)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.WorkerPoolSize, err = dp.GetInt(cfgKeyWorkerPoolSize); err != nil {
		return err
	}
	if c.WorkerPoolSize < 1 {
		return dp.WrapKeyErr(cfgKeyWorkerPoolSize, fmt.Errorf("must be at least 1"))
	}

	if c.ProgressInterval, err = dp.GetInt(cfgKeyProgressInterval); err != nil {
		return err
	}
	if c.ProgressInterval < 1 {
		return dp.WrapKeyErr(cfgKeyProgressInterval, fmt.Errorf("must be at least 1"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyStatusTTL); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyStatusTTL, fmt.Errorf("must be positive"))
	}
	c.StatusTTL = config.TimeDuration(dur)

	return nil
}
