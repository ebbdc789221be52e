package auditctl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	auditsvc "portalquejas/internal/audit"
	"portalquejas/internal/platform/config"
	audit "portalquejas/pkg/platform/audit"
)

type emitOptions struct {
	entity    string
	recordID  int64
	previous  string
	current   string
	actor     string
	clientIP  string
	userAgent string
}

// NewEmitCommand publishes one event through the same service the CRUD
// layer uses, so defaults, validation and background delivery match
// production.
func NewEmitCommand() *cobra.Command {
	opts := &emitOptions{}

	cmd := &cobra.Command{
		Use:       "emit {create|read|update|delete}",
		Short:     "Publish one audit event",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"create", "read", "update", "delete"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			action, ok := audit.ParseActionKind(args[0])
			if !ok {
				return fmt.Errorf("unknown action %q", args[0])
			}
			return runEmit(cmd.Context(), rt, action, opts)
		},
	}

	cmd.Flags().StringVar(&opts.entity, "entity", string(audit.EntityComplaint), "Affected entity")
	cmd.Flags().Int64Var(&opts.recordID, "id", 0, "Record id")
	cmd.Flags().StringVar(&opts.previous, "previous", "", "JSON snapshot before the action")
	cmd.Flags().StringVar(&opts.current, "new", "", "JSON snapshot after the action")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "Actor recorded on the event")
	cmd.Flags().StringVar(&opts.clientIP, "ip", "", "Client address recorded on the event")
	cmd.Flags().StringVar(&opts.userAgent, "user-agent", "", "Client agent recorded on the event")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// reportingPublisher remembers the outcome of the last publish so the
// command can report it; the service itself never returns publish errors.
type reportingPublisher struct {
	Publisher
	delivery audit.Delivery
	err      error
}

func (p *reportingPublisher) Publish(ctx context.Context, e audit.Event) (audit.Delivery, error) {
	p.delivery, p.err = p.Publisher.Publish(ctx, e)
	return p.delivery, p.err
}

func runEmit(ctx context.Context, rt *runtimeState, action audit.ActionKind, opts *emitOptions) error {
	previous, err := document("previous", opts.previous)
	if err != nil {
		return err
	}
	current, err := document("new", opts.current)
	if err != nil {
		return err
	}

	draft := audit.Event{
		Action:        action,
		Entity:        audit.Entity(strings.ToLower(opts.entity)),
		RecordID:      opts.recordID,
		PreviousState: previous,
		NewState:      current,
	}
	if err := audit.Validate(draft); err != nil {
		return err
	}

	pub := &reportingPublisher{Publisher: rt.newPublisher(rt.kafkaConfig(), rt.source, rt.logger)}
	defer pub.Close()

	// one event, never sampled; Close below waits for its delivery
	svc, err := auditsvc.FromConfig(config.Audit{AsyncBuffer: 1, ReadSampleRate: 1}, pub,
		auditsvc.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	md := auditsvc.Metadata{Actor: opts.actor, ClientIP: opts.clientIP, UserAgent: opts.userAgent}
	switch action {
	case audit.ActionCreate:
		svc.LogCreate(ctx, draft.Entity, draft.RecordID, current, md)
	case audit.ActionRead:
		svc.LogRead(ctx, draft.Entity, draft.RecordID, current, md)
	case audit.ActionUpdate:
		svc.LogUpdate(ctx, draft.Entity, draft.RecordID, previous, current, md)
	case audit.ActionDelete:
		deleted := previous
		if audit.IsEmptyDocument(deleted) {
			// the deleted record's snapshot may be passed with --new
			deleted = current
		}
		svc.LogDelete(ctx, draft.Entity, draft.RecordID, deleted, md)
	}
	svc.Close()
	if pub.err != nil {
		return pub.err
	}

	_, err = fmt.Fprintf(rt.writer, "published %s %s to %s[%d]@%d\n",
		action, draft.Key(), pub.delivery.Topic, pub.delivery.Partition, pub.delivery.Offset)
	return err
}

func document(flag, raw string) (audit.Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("--%s is not valid JSON", flag)
	}
	return audit.Document(raw), nil
}
