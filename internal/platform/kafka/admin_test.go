package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"

	"portalquejas/pkg/platform/audit"
)

type fakeAdmin struct {
	details   kadm.TopicDetails
	listErr   error
	createErr error
	responses kadm.CreateTopicResponses

	created           []string
	partitions        int32
	replicationFactor int16
}

func (f *fakeAdmin) ListTopics(_ context.Context, _ ...string) (kadm.TopicDetails, error) {
	return f.details, f.listErr
}

func (f *fakeAdmin) CreateTopics(_ context.Context, partitions int32, rf int16, _ map[string]*string, topics ...string) (kadm.CreateTopicResponses, error) {
	f.created = append(f.created, topics...)
	f.partitions = partitions
	f.replicationFactor = rf
	return f.responses, f.createErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnsureTopics(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing topic with fixed partitions", func(t *testing.T) {
		admin := &fakeAdmin{
			details: kadm.TopicDetails{
				DefaultTopic: {Topic: DefaultTopic, Err: kerr.UnknownTopicOrPartition},
			},
			responses: kadm.CreateTopicResponses{DefaultTopic: {Topic: DefaultTopic}},
		}
		require.NoError(t, EnsureTopics(ctx, admin, Config{}, discardLogger()))
		assert.Equal(t, []string{DefaultTopic}, admin.created)
		assert.Equal(t, int32(3), admin.partitions)
		assert.Equal(t, int16(1), admin.replicationFactor)
	})

	t.Run("skips existing topic", func(t *testing.T) {
		admin := &fakeAdmin{
			details: kadm.TopicDetails{DefaultTopic: {Topic: DefaultTopic}},
		}
		require.NoError(t, EnsureTopics(ctx, admin, Config{}, discardLogger()))
		assert.Empty(t, admin.created)
	})

	t.Run("creation failure is logged not returned", func(t *testing.T) {
		admin := &fakeAdmin{
			details:   kadm.TopicDetails{},
			createErr: errors.New("not controller"),
		}
		assert.NoError(t, EnsureTopics(ctx, admin, Config{}, discardLogger()))
		assert.Equal(t, []string{DefaultTopic}, admin.created)
	})

	t.Run("per-topic error is logged not returned", func(t *testing.T) {
		admin := &fakeAdmin{
			details:   kadm.TopicDetails{},
			responses: kadm.CreateTopicResponses{DefaultTopic: {Topic: DefaultTopic, Err: kerr.InvalidReplicationFactor}},
		}
		assert.NoError(t, EnsureTopics(ctx, admin, Config{}, discardLogger()))
	})

	t.Run("concurrent creation is tolerated", func(t *testing.T) {
		admin := &fakeAdmin{
			details:   kadm.TopicDetails{},
			responses: kadm.CreateTopicResponses{DefaultTopic: {Topic: DefaultTopic, Err: kerr.TopicAlreadyExists}},
		}
		assert.NoError(t, EnsureTopics(ctx, admin, Config{}, discardLogger()))
	})

	t.Run("unreachable broker is a connection error", func(t *testing.T) {
		admin := &fakeAdmin{listErr: errors.New("dial tcp: connection refused")}
		err := EnsureTopics(ctx, admin, Config{}, discardLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, audit.ErrConnection)
		assert.Empty(t, admin.created)
	})
}
