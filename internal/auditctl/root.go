// Package auditctl implements the auditctl command: publish audit events by
// hand, replay captured ones and prepare the audit topic.
package auditctl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"portalquejas/internal/platform/kafka"
	"portalquejas/internal/platform/logger"
	audit "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/audit/publisher"
	pstrings "portalquejas/pkg/platform/strings"
)

// defaultSource tags events when neither --source nor $AUDIT_SOURCE is set.
const defaultSource = "auditctl"

// Publisher is the producer surface the commands use.
type Publisher interface {
	Publish(ctx context.Context, e audit.Event) (audit.Delivery, error)
	PublishBatch(ctx context.Context, events []audit.Event) (audit.BatchOutcome, error)
	Close() error
}

type Config struct {
	OutputWriter io.Writer
	// NewPublisher builds the producer; nil uses the Kafka publisher.
	NewPublisher func(cfg kafka.Config, source string, logger *slog.Logger) Publisher
	// EnsureTopic prepares the audit topic; nil uses kafka.EnsureAuditTopic.
	EnsureTopic func(ctx context.Context, cfg kafka.Config, logger *slog.Logger) error
}

type runtimeState struct {
	brokers  string
	topic    string
	source   string
	entities string
	verbose  bool
	writer   io.Writer
	logger   *slog.Logger

	newPublisher func(cfg kafka.Config, source string, logger *slog.Logger) Publisher
	ensureTopic  func(ctx context.Context, cfg kafka.Config, logger *slog.Logger) error
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		writer:       cfg.OutputWriter,
		newPublisher: cfg.NewPublisher,
		ensureTopic:  cfg.EnsureTopic,
	}
	if rt.newPublisher == nil {
		rt.newPublisher = func(kcfg kafka.Config, source string, logger *slog.Logger) Publisher {
			return publisher.New(kcfg, publisher.WithLogger(logger), publisher.WithSource(source))
		}
	}
	if rt.ensureTopic == nil {
		rt.ensureTopic = kafka.EnsureAuditTopic
	}

	root := &cobra.Command{
		Use:          "auditctl",
		Short:        "Publish and replay portal audit events",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.brokers == "" {
				rt.brokers = os.Getenv("KAFKA_BROKERS")
			}
			if rt.topic == "" {
				rt.topic = os.Getenv("KAFKA_AUDIT_TOPIC")
			}
			if rt.source == "" {
				rt.source = os.Getenv("AUDIT_SOURCE")
			}
			if rt.source == "" {
				rt.source = defaultSource
			}
			if rt.entities == "" {
				rt.entities = os.Getenv("AUDIT_EXTRA_ENTITIES")
			}
			audit.RegisterEntities(pstrings.SplitListLower(rt.entities, ",")...)

			level := "warn"
			if rt.verbose {
				level = "debug"
			}
			rt.logger = logger.New(level, false)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.brokers, "brokers", "", "Comma-separated broker list (default $KAFKA_BROKERS or localhost:9092)")
	root.PersistentFlags().StringVar(&rt.topic, "topic", "", "Audit topic (default $KAFKA_AUDIT_TOPIC or audit-events)")
	root.PersistentFlags().StringVar(&rt.source, "source", "", "Value of the source header (default $AUDIT_SOURCE or auditctl)")
	root.PersistentFlags().StringVar(&rt.entities, "entities", "", "Extra entity names to accept")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewEmitCommand(),
		NewReplayCommand(),
		NewTopicCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) kafkaConfig() kafka.Config {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = kafka.BrokerList(rt.brokers)
	if rt.topic != "" {
		cfg.Topic = rt.topic
	}
	return cfg
}
