package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "order.events", cfg.OrderTopic)
	assert.Equal(t, "redis", cfg.ChannelDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.RelayInterval)
	assert.Equal(t, 100, cfg.RelayBatchSize)
	assert.Equal(t, 10, cfg.RelayMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
}

func TestLoad_OverridesAndEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("CHANNEL_DRIVER", "nats")

	cfg, err := Load(map[string]any{"http_addr": ":8081", "kafka_group": "other"})
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "nats", cfg.ChannelDriver)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "other", cfg.KafkaGroup)

	t.Setenv("HTTP_ADDR", ":9000")
	cfg, err = Load(map[string]any{"http_addr": ":8081"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr, "environment wins over per-service overrides")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,b"))
}
