package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBrokerList(t *testing.T) {
	t.Run("explicit list is used verbatim in order", func(t *testing.T) {
		assert.Equal(t, []string{"kafka-2:9092", "kafka-1:9092"}, BrokerList("kafka-2:9092, kafka-1:9092"))
	})
	t.Run("absent value falls back to local default", func(t *testing.T) {
		assert.Equal(t, []string{DefaultBroker}, BrokerList(""))
		assert.Equal(t, []string{DefaultBroker}, BrokerList(" , "))
	})
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, []string{DefaultBroker}, cfg.Brokers)
	assert.Equal(t, "audit-events", cfg.Topic)
	assert.Equal(t, "audit-consumer-group", cfg.GroupID)
	assert.Equal(t, int32(3), cfg.Partitions)
	assert.Equal(t, int16(1), cfg.ReplicationFactor)
	assert.Equal(t, 30*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 8, cfg.Retry.MaxRetries)

	custom := Config{Topic: "quejas-audit", Partitions: 6}.WithDefaults()
	assert.Equal(t, "quejas-audit", custom.AuditTopicName())
	assert.Equal(t, int32(6), custom.Partitions)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 12800*time.Millisecond, p.Backoff(8))
	assert.Equal(t, 30*time.Second, p.Backoff(9), "capped at max backoff")
	assert.Equal(t, 30*time.Second, p.Backoff(50))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0), "attempts below one are treated as the first")
}

func TestConsumerOpts_DefaultGroup(t *testing.T) {
	// Options are opaque; this only guards against an empty group slipping
	// through to the client.
	opts := ConsumerOpts(Config{}, "", nil)
	assert.NotEmpty(t, opts)
}
