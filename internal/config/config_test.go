package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.HoldTTL)
	assert.Equal(t, "ledger.commands.dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, 200*time.Millisecond, cfg.Consumer.Backoff)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "postgres:\n  dsn: host=db\n"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ledger.commands", cfg.Kafka.CommandsTopic)
	assert.Equal(t, "ledger.commands.dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, "wallet", cfg.Ledger.Profile)
	assert.Equal(t, time.Minute, cfg.Sweep.StaleAfter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Kafka.EventsTopic)
}

func TestLoadMemoryLockerOnlyWhenAsked(t *testing.T) {
	cfg, err := Load(writeConfig(t, "lock:\n  backend: memory\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Lock.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "host=pg user=ledger")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_PROFILE", "reward")

	cfg, err := Load(writeConfig(t, "postgres:\n  dsn: host=ignored\nledger:\n  profile: wallet\n"))
	require.NoError(t, err)
	assert.Equal(t, "host=pg user=ledger password=s3cret", cfg.Postgres.DSN)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "reward", cfg.Ledger.Profile)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "lock:\n  backend: etcd\n"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, "ledger:\n  adjustments: sideways\n"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, "server:\n  port: 70000\n"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, "server: [\n"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
