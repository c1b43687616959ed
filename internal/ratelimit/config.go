package ratelimit

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "ratelimit"

const (
	cfgKeyRedisAddress     = "redis.address"
	cfgKeyRedisDB          = "redis.db"
	cfgKeyRedisPassword    = "redis.password" // nolint:gosec // configuration key, not a credential
	cfgKeyStoreCallTimeout = "storeCallTimeout"
	cfgKeySafetyKeyTTL     = "safetyKeyTTL"
	cfgKeySweeperEnabled   = "sweeper.enabled"
	cfgKeySweeperInterval  = "sweeper.interval"
)

const (
	defaultRedisAddress     = "127.0.0.1:6379"
	defaultStoreCallTimeout = time.Second
)

var tierCfgNames = [...]string{"small", "medium", "large", "xl"}

// Config represents a set of configuration parameters for the admission
// controller: the Redis connection, the safety TTLs, the sweeper, and the
// per-tier limit overrides.
type Config struct {
	Redis            RedisConfig         `mapstructure:"redis" yaml:"redis" json:"redis"`
	StoreCallTimeout config.TimeDuration `mapstructure:"storeCallTimeout" yaml:"storeCallTimeout" json:"storeCallTimeout"`
	SafetyKeyTTL     config.TimeDuration `mapstructure:"safetyKeyTTL" yaml:"safetyKeyTTL" json:"safetyKeyTTL"`
	Sweeper          SweeperConfig       `mapstructure:"sweeper" yaml:"sweeper" json:"sweeper"`
	Tiers            TiersConfig         `mapstructure:"tiers" yaml:"tiers" json:"tiers"`

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
// This prefix will be used by config.Loader.
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

// RedisConfig represents the Redis connection parameters.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address" json:"address"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
}

// SweeperConfig represents the periodic sweeper parameters.
type SweeperConfig struct {
	Enabled  bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Interval config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`
}

// TierConfig represents the limit overrides of a single tier.
// MaxCount 0 means the tier is unbounded.
type TierConfig struct {
	MaxCount      int                 `mapstructure:"maxCount" yaml:"maxCount" json:"maxCount"`
	MaxConcurrent int                 `mapstructure:"maxConcurrent" yaml:"maxConcurrent" json:"maxConcurrent"`
	Cooldown      config.TimeDuration `mapstructure:"cooldown" yaml:"cooldown" json:"cooldown"`
}

// TiersConfig represents the limit overrides of all tiers.
type TiersConfig struct {
	Small  TierConfig `mapstructure:"small" yaml:"small" json:"small"`
	Medium TierConfig `mapstructure:"medium" yaml:"medium" json:"medium"`
	Large  TierConfig `mapstructure:"large" yaml:"large" json:"large"`
	XL     TierConfig `mapstructure:"xl" yaml:"xl" json:"xl"`
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
	dp.SetDefault(cfgKeyRedisAddress, defaultRedisAddress)
	dp.SetDefault(cfgKeyRedisDB, 0)
	dp.SetDefault(cfgKeyStoreCallTimeout, defaultStoreCallTimeout)
	dp.SetDefault(cfgKeySafetyKeyTTL, DefaultSafetyKeyTTL)
	dp.SetDefault(cfgKeySweeperEnabled, true)
	dp.SetDefault(cfgKeySweeperInterval, DefaultSweepInterval)

	defaults := NewDefaultTierTable()
	for i, name := range tierCfgNames {
		lim := defaults.Limits(Tier(i))
		dp.SetDefault("tiers."+name+".maxCount", lim.MaxCount)
		dp.SetDefault("tiers."+name+".maxConcurrent", lim.MaxConcurrent)
		dp.SetDefault("tiers."+name+".cooldown", lim.Cooldown)
	}
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Redis.Address, err = dp.GetString(cfgKeyRedisAddress); err != nil {
		return err
	}
	if c.Redis.DB, err = dp.GetInt(cfgKeyRedisDB); err != nil {
		return err
	}
	if c.Redis.Password, err = dp.GetString(cfgKeyRedisPassword); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyStoreCallTimeout); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyStoreCallTimeout, fmt.Errorf("must be positive"))
	}
	c.StoreCallTimeout = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeySafetyKeyTTL); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeySafetyKeyTTL, fmt.Errorf("must be positive"))
	}
	c.SafetyKeyTTL = config.TimeDuration(dur)

	if c.Sweeper.Enabled, err = dp.GetBool(cfgKeySweeperEnabled); err != nil {
		return err
	}
	if dur, err = dp.GetDuration(cfgKeySweeperInterval); err != nil {
		return err
	}
	c.Sweeper.Interval = config.TimeDuration(dur)

	tiers := []*TierConfig{&c.Tiers.Small, &c.Tiers.Medium, &c.Tiers.Large, &c.Tiers.XL}
	for i, name := range tierCfgNames {
		if err = setTierConfig(dp, name, tiers[i]); err != nil {
			return err
		}
	}
	return nil
}

func setTierConfig(dp config.DataProvider, name string, tc *TierConfig) error {
	var err error

	if tc.MaxCount, err = dp.GetInt("tiers." + name + ".maxCount"); err != nil {
		return err
	}
	if tc.MaxCount < 0 {
		return dp.WrapKeyErr("tiers."+name+".maxCount", fmt.Errorf("must not be negative"))
	}
	if tc.MaxConcurrent, err = dp.GetInt("tiers." + name + ".maxConcurrent"); err != nil {
		return err
	}
	if tc.MaxConcurrent < 1 {
		return dp.WrapKeyErr("tiers."+name+".maxConcurrent", fmt.Errorf("must be at least 1"))
	}
	var dur time.Duration
	if dur, err = dp.GetDuration("tiers." + name + ".cooldown"); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr("tiers."+name+".cooldown", fmt.Errorf("must not be negative"))
	}
	tc.Cooldown = config.TimeDuration(dur)
	return nil
}

// TierTable builds the immutable tier table from the configured overrides.
func (c *Config) TierTable() *TierTable {
	return NewTierTable(map[Tier]TierLimits{
		TierSmall:  {MaxCount: c.Tiers.Small.MaxCount, MaxConcurrent: c.Tiers.Small.MaxConcurrent, Cooldown: time.Duration(c.Tiers.Small.Cooldown)},
		TierMedium: {MaxCount: c.Tiers.Medium.MaxCount, MaxConcurrent: c.Tiers.Medium.MaxConcurrent, Cooldown: time.Duration(c.Tiers.Medium.Cooldown)},
		TierLarge:  {MaxCount: c.Tiers.Large.MaxCount, MaxConcurrent: c.Tiers.Large.MaxConcurrent, Cooldown: time.Duration(c.Tiers.Large.Cooldown)},
		TierXL:     {MaxCount: c.Tiers.XL.MaxCount, MaxConcurrent: c.Tiers.XL.MaxConcurrent, Cooldown: time.Duration(c.Tiers.XL.Cooldown)},
	})
}
