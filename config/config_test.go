package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "STORE_FILE_URL", "STORE_IN_MEMORY_ID", "KAFKA_BROKERS", "MAP_ENTITY", "PG_DSN"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "default", cfg.Store.InMemoryIdentifier)
	assert.Equal(t, "Place", cfg.Map.Entity)
	assert.Equal(t, -1, cfg.Map.ResultsLimit)
	assert.Equal(t, 20, cfg.Map.MaxZoomLevel)
	assert.True(t, cfg.Map.Clustering)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.MinIO.Enabled())
	assert.Equal(t, 30*time.Minute, cfg.SessionIdle)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_TOPIC", "records")
	t.Setenv("MAP_RESULTS_LIMIT", "250")
	t.Setenv("MAP_CLUSTERING", "false")
	t.Setenv("SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("MAX_SESSIONS", "not-a-number")

	cfg := Load()
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 250, cfg.Map.ResultsLimit)
	assert.False(t, cfg.Map.Clustering)
	assert.Equal(t, 90*time.Second, cfg.SessionIdle)
	assert.Equal(t, 1000, cfg.MaxSessions)
}

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_DSN", "")
	t.Setenv("PG_USER", "maps")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	assert.Equal(t, "postgres://maps:secret@db:5432/clustermap?sslmode=disable", BuildPostgresDSNFromEnv())

	t.Setenv("PG_DSN", "postgres://override/x")
	assert.Equal(t, "postgres://override/x", BuildPostgresDSNFromEnv())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CLUSTERMAP_TEST_KEY=from-file\n"), 0o644))
	t.Setenv("CLUSTERMAP_TEST_KEY", "")
	os.Unsetenv("CLUSTERMAP_TEST_KEY")

	LoadEnv(path)
	assert.Equal(t, "from-file", MustGetEnv("CLUSTERMAP_TEST_KEY"))

	LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Panics(t, func() { MustGetEnv("CLUSTERMAP_TEST_UNSET_KEY") })
}
