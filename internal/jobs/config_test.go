package jobs

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/config"
)

func TestConfigWithLoader(t *testing.T) {
	yamlData := []byte(`
jobs:
  workerPoolSize: 16
  progressInterval: 5
  statusTTL: 48h
`)

	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader(yamlData), config.DataTypeYAML, cfg)
	require.NoError(t, err, "load configuration")

	require.Equal(t, 16, cfg.WorkerPoolSize)
	require.Equal(t, 5, cfg.ProgressInterval)
	require.Equal(t, 48*time.Hour, time.Duration(cfg.StatusTTL))
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader(nil), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.GreaterOrEqual(t, cfg.WorkerPoolSize, 1)
	require.Equal(t, 1, cfg.ProgressInterval)
	require.Equal(t, DefaultStatusTTL, time.Duration(cfg.StatusTTL))
}

func TestConfigValidation(t *testing.T) {
	yamlData := []byte(`
jobs:
  workerPoolSize: 0
`)
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader(yamlData), config.DataTypeYAML, cfg)
	require.ErrorContains(t, err, "at least 1")
}
