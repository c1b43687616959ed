package main

import (
	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"

	"github.com/ishan/user-service/internal/importing"
	"github.com/ishan/user-service/internal/jobs"
	"github.com/ishan/user-service/internal/ratelimit"
)

// AppConfig aggregates the configuration of every component of the service.
type AppConfig struct {
	Server    *httpserver.Config
	Log       *log.Config
	RateLimit *ratelimit.Config
	Jobs      *jobs.Config
	Import    *importing.Config
}

// NewAppConfig creates a new AppConfig with initialized per-component configs.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server:    httpserver.NewConfig(),
		Log:       log.NewConfig(),
		RateLimit: ratelimit.NewConfig(),
		Jobs:      jobs.NewConfig(),
		Import:    importing.NewConfig(),
	}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}
