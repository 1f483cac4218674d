package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("SEED_ITEMS", "")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("KAFKA_ENABLED", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Business.CheckoutLockTTL)
	assert.Empty(t, cfg.Business.SeedItems)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PROPAGATION_CONCURRENCY", "3")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("SEED_ITEMS", "book-1:5, book-2:0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Business.PropagationConcurrency)
	assert.Equal(t, time.Minute, cfg.Business.IdempotencyTTL)
	assert.Equal(t, map[string]int{"book-1": 5, "book-2": 0}, cfg.Business.SeedItems)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseSeedItems(t *testing.T) {
	for _, raw := range []string{"book-1", "book-1:x", ":5", "book-1:-2"} {
		_, err := parseSeedItems(raw)
		assert.Error(t, err, raw)
	}
}
