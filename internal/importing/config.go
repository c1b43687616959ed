package importing

import (
	"fmt"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpclient"
)

const cfgDefaultKeyPrefix = "import"

const cfgClientKeyPrefix = "client"

const (
	cfgKeyDBPath                  = "db.path"
	cfgKeyRandomUserBaseURL       = "randomUser.baseURL"
	cfgKeyRandomUserNationalities = "randomUser.nationalities"
	cfgKeyBatchSize               = "batchSize"
)

const (
	defaultDBPath            = "users.db"
	defaultRandomUserBaseURL = "https://randomuser.me/api/"
	defaultNationalities     = "us,ca,au,gb,in"
)

// DBConfig represents the users database parameters.
type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// RandomUserConfig represents the random-user API parameters.
type RandomUserConfig struct {
	BaseURL       string `mapstructure:"baseURL" yaml:"baseURL" json:"baseURL"`
	Nationalities string `mapstructure:"nationalities" yaml:"nationalities" json:"nationalities"`
}

// Config represents a set of configuration parameters for the import
// workload: the users database, the random-user API endpoint, and the
// outbound HTTP client.
type Config struct {
	DB         DBConfig           `mapstructure:"db" yaml:"db" json:"db"`
	RandomUser RandomUserConfig   `mapstructure:"randomUser" yaml:"randomUser" json:"randomUser"`
	BatchSize  int                `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`
	Client     *httpclient.Config `mapstructure:"client" yaml:"client" json:"client"`

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
	return &Config{
		keyPrefix: opts.keyPrefix,
		Client:    httpclient.NewConfig(),
	}
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
	dp.SetDefault(cfgKeyDBPath, defaultDBPath)
	dp.SetDefault(cfgKeyRandomUserBaseURL, defaultRandomUserBaseURL)
	dp.SetDefault(cfgKeyRandomUserNationalities, defaultNationalities)
	dp.SetDefault(cfgKeyBatchSize, DefaultBatchSize)
	c.Client.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, cfgClientKeyPrefix))
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.DB.Path, err = dp.GetString(cfgKeyDBPath); err != nil {
		return err
	}
	if c.DB.Path == "" {
		return dp.WrapKeyErr(cfgKeyDBPath, fmt.Errorf("must not be empty"))
	}
	if c.RandomUser.BaseURL, err = dp.GetString(cfgKeyRandomUserBaseURL); err != nil {
		return err
	}
	if c.RandomUser.Nationalities, err = dp.GetString(cfgKeyRandomUserNationalities); err != nil {
		return err
	}
	if c.BatchSize, err = dp.GetInt(cfgKeyBatchSize); err != nil {
		return err
	}
	if c.BatchSize < 1 {
		return dp.WrapKeyErr(cfgKeyBatchSize, fmt.Errorf("must be at least 1"))
	}
	return c.Client.Set(config.NewKeyPrefixedDataProvider(dp, cfgClientKeyPrefix))
}
