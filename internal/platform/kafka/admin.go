package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"

	"portalquejas/pkg/platform/audit"
)

// TopicAdmin is the subset of *kadm.Client used to provision topics.
type TopicAdmin interface {
	ListTopics(ctx context.Context, topics ...string) (kadm.TopicDetails, error)
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// EnsureTopics creates the audit topic with the configured partition count
// and replication factor unless it already exists. It is safe to run on
// every startup. Per-topic creation failures are logged and skipped; only a
// failure to read cluster metadata is returned.
func EnsureTopics(ctx context.Context, admin TopicAdmin, cfg Config, logger *slog.Logger) error {
	cfg = cfg.WithDefaults()
	topics := []string{cfg.AuditTopicName()}

	details, err := admin.ListTopics(ctx, topics...)
	if err != nil {
		return fmt.Errorf("%w: list topics: %w", audit.ErrConnection, err)
	}

	var missing []string
	for _, t := range topics {
		if d, ok := details[t]; ok && d.Err == nil {
			logger.DebugContext(ctx, "topic already exists", "topic", t)
			continue
		}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return nil
	}

	responses, err := admin.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, nil, missing...)
	if err != nil {
		logger.WarnContext(ctx, "topic creation request failed",
			"topics", missing,
			"error", err,
		)
		return nil
	}
	for _, t := range missing {
		resp, ok := responses[t]
		switch {
		case !ok:
			logger.WarnContext(ctx, "no creation response for topic", "topic", t)
		case resp.Err == nil:
			logger.InfoContext(ctx, "topic created",
				"topic", t,
				"partitions", cfg.Partitions,
				"replication_factor", cfg.ReplicationFactor,
			)
		case errors.Is(resp.Err, kerr.TopicAlreadyExists):
			logger.DebugContext(ctx, "topic created concurrently", "topic", t)
		default:
			logger.WarnContext(ctx, "topic creation failed",
				"topic", t,
				"error", resp.Err,
			)
		}
	}
	return nil
}

// EnsureAuditTopic dials an admin handle, provisions the audit topic and
// closes the handle.
func EnsureAuditTopic(ctx context.Context, cfg Config, logger *slog.Logger) error {
	client, err := NewAdminClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()
	return EnsureTopics(ctx, kadm.NewClient(client), cfg, logger)
}
