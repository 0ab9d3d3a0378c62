package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g-match/matcher/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.EdgePollInterval)
	assert.Equal(t, 300*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 80.0, cfg.MatchThreshold)
	assert.Equal(t, 10, cfg.PriorityBypass)
	assert.False(t, cfg.PriorityBypassEnabled)
	assert.Equal(t, 24*time.Hour, cfg.ExpireAfter)
	assert.Equal(t, 120*time.Second, cfg.LockExpire)
	assert.Equal(t, 500, cfg.MgetBatch)
	assert.True(t, cfg.EmailEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MATCHER_SCHEDULER_INTERVAL", "1m")
	t.Setenv("MATCHER_MATCH_THRESHOLD", "70")
	t.Setenv("MATCHER_PRIORITY_BYPASS_ENABLED", "true")
	t.Setenv("MATCHER_EMAIL_ENABLED", "false")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 70.0, cfg.MatchThreshold)
	assert.True(t, cfg.PriorityBypassEnabled)
	assert.False(t, cfg.EmailEnabled)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"MATCHER_MATCH_THRESHOLD":         "8O",
		"MATCHER_SCHEDULER_INTERVAL":      "5 minutes",
		"MATCHER_PRIORITY_BYPASS":         "ten",
		"MATCHER_PRIORITY_BYPASS_ENABLED": "yep",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.MatchThreshold = 120
	assert.Error(t, cfg.Validate())

	cfg, _ = config.Load()
	cfg.MgetBatch = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = config.Load()
	cfg.RedisURL = ""
	assert.Error(t, cfg.Validate())
}
