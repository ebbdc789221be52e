// Package kafka builds franz-go client handles for the audit topic: producer,
// consumer-group member and admin, all sharing one broker list and retry policy.
package kafka

import (
	"strings"
	"time"

	pstrings "portalquejas/pkg/platform/strings"
)

const (
	DefaultBroker            = "localhost:9092"
	DefaultTopic             = "audit-events"
	DefaultGroupID           = "audit-consumer-group"
	DefaultClientID          = "portal-quejas"
	DefaultPartitions        = int32(3)
	DefaultReplicationFactor = int16(1)

	DefaultSendTimeout       = 30 * time.Second
	DefaultSessionTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 3 * time.Second
)

// Config describes how to reach the brokers and where audit events live.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	ClientID string

	// Partitions and ReplicationFactor apply only when the topic is created.
	// The replication factor has no environment override; production
	// clusters are expected to pre-create the topic.
	Partitions        int32
	ReplicationFactor int16

	// SendTimeout bounds how long a produced record may wait for delivery.
	SendTimeout       time.Duration
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration

	Retry RetryPolicy
}

// DefaultConfig returns the local development configuration.
func DefaultConfig() Config {
	return Config{
		Brokers:           []string{DefaultBroker},
		Topic:             DefaultTopic,
		GroupID:           DefaultGroupID,
		ClientID:          DefaultClientID,
		Partitions:        DefaultPartitions,
		ReplicationFactor: DefaultReplicationFactor,
		SendTimeout:       DefaultSendTimeout,
		SessionTimeout:    DefaultSessionTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		Retry:             DefaultRetryPolicy(),
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if len(c.Brokers) == 0 {
		c.Brokers = d.Brokers
	}
	if c.Topic == "" {
		c.Topic = d.Topic
	}
	if c.GroupID == "" {
		c.GroupID = d.GroupID
	}
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.Partitions < 1 {
		c.Partitions = d.Partitions
	}
	if c.ReplicationFactor < 1 {
		c.ReplicationFactor = d.ReplicationFactor
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// BrokerList parses a comma-separated host:port list. The order is kept as
// given; an empty value falls back to the single local default broker.
func BrokerList(raw string) []string {
	brokers := pstrings.SplitList(raw, ",")
	if len(brokers) == 0 {
		return []string{DefaultBroker}
	}
	return brokers
}

// AuditTopicName returns the configured topic or the default.
func (c Config) AuditTopicName() string {
	if strings.TrimSpace(c.Topic) == "" {
		return DefaultTopic
	}
	return c.Topic
}
