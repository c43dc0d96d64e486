package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, DefaultTransitDelay, cfg.TransitDelay)
	assert.True(t, cfg.TransitSimEnabled)
	assert.Equal(t, DefaultStuckPendingAfter, cfg.StuckPendingAfter)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("TRANSIT_SIM_DISABLED", "true")
	t.Setenv("CAPTURE_DECLINE_ABOVE", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.False(t, cfg.TransitSimEnabled)
	assert.Equal(t, "5000", cfg.CaptureDeclineAbove)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		TickInterval:      0,
		TransitDelay:      time.Second,
		StuckPendingAfter: time.Minute,
		LogFormat:         "text",
	}
	assert.Error(t, cfg.Validate())

	cfg.TickInterval = time.Minute
	cfg.LogFormat = "xml"
	assert.Error(t, cfg.Validate())

	cfg.LogFormat = "json"
	assert.NoError(t, cfg.Validate())
}
