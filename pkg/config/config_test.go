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

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1000, cfg.RateLimit.Points)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Queue.SendTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Enrich.CacheTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "9")
	t.Setenv("RATE_LIMIT_POINTS", "50")
	t.Setenv("INSTAGRAM_ENABLED", "true")
	t.Setenv("INSTAGRAM_API_TOKEN", "tok")
	t.Setenv("CLEARBIT_RATE_CAP", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Queue.Workers)
	assert.Equal(t, 50, cfg.RateLimit.Points)
	assert.True(t, cfg.Channels.Instagram.Enabled)
	assert.Equal(t, "tok", cfg.Channels.Instagram.APIToken)
	assert.Equal(t, 2, cfg.Enrich.Clearbit.RateCap, "explicit cap wins over the quota default")
}

func TestProviderQuotaDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Enrich.Clearbit.RateCap)
	assert.Equal(t, 5, cfg.Enrich.Apollo.RateCap)
	assert.Equal(t, 3, cfg.Enrich.Hunter.RateCap)
	assert.Equal(t, 5, cfg.Enrich.LinkedIn.RateCap)
}
