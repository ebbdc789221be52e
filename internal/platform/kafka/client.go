package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"portalquejas/pkg/platform/audit"
)

// commonOpts are shared by every handle: brokers, client id, retry policy
// and logging.
func commonOpts(cfg Config, logger *slog.Logger) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequestRetries(cfg.Retry.MaxRetries),
		kgo.RetryBackoffFn(cfg.Retry.Backoff),
	}
	if logger != nil {
		opts = append(opts, kgo.WithLogger(newLogAdapter(logger)))
	}
	return opts
}

// ProducerOpts returns the options of a producer handle. The topic is
// auto-created when absent, delivery is bounded by SendTimeout, and keyed
// records are hashed with the murmur2 sticky-key partitioner so every event
// of a record goes to the same partition.
func ProducerOpts(cfg Config, logger *slog.Logger) []kgo.Opt {
	cfg = cfg.WithDefaults()
	return append(commonOpts(cfg, logger),
		kgo.DefaultProduceTopic(cfg.AuditTopicName()),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(cfg.SendTimeout),
		kgo.ProduceRequestTimeout(cfg.SendTimeout),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	)
}

// ConsumerOpts returns the options of a consumer-group member. A group with
// no committed offset starts at the end of the topic, so a new deployment
// only sees new events. Offsets are committed explicitly by the consumer
// loop after each record is handled.
func ConsumerOpts(cfg Config, groupID string, logger *slog.Logger) []kgo.Opt {
	cfg = cfg.WithDefaults()
	if groupID == "" {
		groupID = cfg.GroupID
	}
	return append(commonOpts(cfg, logger),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(cfg.AuditTopicName()),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
}

// AdminOpts returns the options of an admin handle.
func AdminOpts(cfg Config, logger *slog.Logger) []kgo.Opt {
	return commonOpts(cfg.WithDefaults(), logger)
}

// Dial creates a client and pings the cluster. A failed ping closes the
// client and is reported as audit.ErrConnection.
func Dial(ctx context.Context, opts ...kgo.Opt) (*kgo.Client, error) {
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %w", audit.ErrConnection, err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping brokers: %w", audit.ErrConnection, err)
	}
	return client, nil
}

// NewProducerClient dials a producer handle.
func NewProducerClient(ctx context.Context, cfg Config, logger *slog.Logger) (*kgo.Client, error) {
	return Dial(ctx, ProducerOpts(cfg, logger)...)
}

// NewConsumerClient dials a consumer-group member. An empty groupID uses
// the configured (or default) group.
func NewConsumerClient(ctx context.Context, cfg Config, groupID string, logger *slog.Logger) (*kgo.Client, error) {
	return Dial(ctx, ConsumerOpts(cfg, groupID, logger)...)
}

// NewAdminClient dials a plain handle for administrative requests.
func NewAdminClient(ctx context.Context, cfg Config, logger *slog.Logger) (*kgo.Client, error) {
	return Dial(ctx, AdminOpts(cfg, logger)...)
}

// logAdapter routes franz-go client logs to slog. Client internals log at
// debug level and above; only warnings and errors are forwarded.
type logAdapter struct {
	logger *slog.Logger
}

func newLogAdapter(logger *slog.Logger) *logAdapter {
	return &logAdapter{logger: logger.With("component", "kafka")}
}

func (a *logAdapter) Level() kgo.LogLevel { return kgo.LogLevelWarn }

func (a *logAdapter) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelError:
		a.logger.Error(msg, keyvals...)
	case kgo.LogLevelWarn:
		a.logger.Warn(msg, keyvals...)
	case kgo.LogLevelInfo:
		a.logger.Info(msg, keyvals...)
	default:
		a.logger.Debug(msg, keyvals...)
	}
}
