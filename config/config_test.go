// vidiox/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"vidiox/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("VIDIOX_PORT", "")
		t.Setenv("VIDIOX_MAX_CONCURRENCY", "")
		t.Setenv("VIDIOX_SIMULATOR_STEP_DELAY", "")
		t.Setenv("VIDIOX_MAX_INPUT_SIZE", "")
		t.Setenv("VIDIOX_STORE_DRIVER", "")

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 4, cfg.MaxConcurrency)
		assert.Equal(t, "memory", cfg.StoreDriver)
		assert.Equal(t, "local", cfg.Dispatch)
		assert.Equal(t, 2*time.Second, cfg.SimulatorStepDelay)
		assert.Equal(t, 2*time.Second, cfg.PollInterval)
		assert.Equal(t, 30*time.Minute, cfg.PollMaxWait)
		assert.Equal(t, 24*time.Hour, cfg.AuthTokenTTL)
		assert.Equal(t, int64(500*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeDisk)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("VIDIOX_PORT", "9999")
		t.Setenv("VIDIOX_MAX_CONCURRENCY", "10")
		t.Setenv("VIDIOX_SIMULATOR_STEP_DELAY", "150ms")
		t.Setenv("VIDIOX_AUTH_SECRET", "newsecret")
		t.Setenv("VIDIOX_MAX_INPUT_SIZE", "50MB")
		t.Setenv("VIDIOX_STORE_DRIVER", "sqlite")

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 10, cfg.MaxConcurrency)
		assert.Equal(t, 150*time.Millisecond, cfg.SimulatorStepDelay)
		assert.Equal(t, "newsecret", cfg.AuthSecret)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, "sqlite", cfg.StoreDriver)
	})
}
