package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "STORE_BACKEND", "NATS_URL", "SESSION_TTL", "TRANSFER_MAX_RETRIES", "OPENING_BALANCE_MAX", "CHAOS_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 3, cfg.Transfer.MaxRetries)
	assert.Equal(t, int64(100000), cfg.OpeningBalanceMax)
	assert.False(t, cfg.ChaosMode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("BADGER_PATH", "/tmp/bank")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SESSION_TTL", "90m")
	t.Setenv("TRANSFER_RETRY_BACKOFF", "25ms")
	t.Setenv("OPENING_BALANCE_MAX", "12.50")
	t.Setenv("CHAOS_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.StoreBackend)
	assert.Equal(t, "/tmp/bank", cfg.Badger.Path)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 90*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 25*time.Millisecond, cfg.Transfer.RetryBackoff)
	assert.Equal(t, int64(1250), cfg.OpeningBalanceMax)
	assert.True(t, cfg.ChaosMode)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := map[string]string{
		"REDIS_DB":             "two",
		"SESSION_TTL":          "forever",
		"CHAOS_MODE":           "maybe",
		"OPENING_BALANCE_MAX":  "1.234",
		"STORE_BACKEND":        "mongo",
		"TRANSFER_MAX_RETRIES": "-1",
		"TRANSFER_TIMEOUT":     "0s",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsExtremeOpeningBalance(t *testing.T) {
	for _, value := range []string{"1e-2000000000", "1e2000000000"} {
		t.Setenv("OPENING_BALANCE_MAX", value)
		start := time.Now()
		_, err := Load()
		assert.Error(t, err, value)
		assert.Less(t, time.Since(start), 100*time.Millisecond, value)
	}
}
