package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
	"github.com/mindshift/ums-gateway/internal/platform/messagebroker"
)

type fakeMessageRepo struct {
	repository.MessageRepository

	retryCandidates   []*core_domain.Message
	expiredCandidates []*core_domain.Message
	claimDenied       map[string]bool
	claimed           []string
	expired           []string
}

func (f *fakeMessageRepo) FindRetryCandidates(_ context.Context, limit int) ([]*core_domain.Message, error) {
	return f.retryCandidates, nil
}

func (f *fakeMessageRepo) FindExpiredCandidates(_ context.Context, now time.Time, limit int) ([]*core_domain.Message, error) {
	return f.expiredCandidates, nil
}

func (f *fakeMessageRepo) ClaimForRetry(_ context.Context, id string) (bool, error) {
	if f.claimDenied[id] {
		return false, nil
	}
	f.claimed = append(f.claimed, id)
	return true, nil
}

func (f *fakeMessageRepo) MarkExpiredIfUndelivered(_ context.Context, id string) (bool, error) {
	f.expired = append(f.expired, id)
	return true, nil
}

type fakeEventRepo struct {
	repository.MessageEventRepository

	appended []*core_domain.MessageEvent
}

func (f *fakeEventRepo) Append(_ context.Context, event *core_domain.MessageEvent) error {
	f.appended = append(f.appended, event)
	return nil
}

type fakeBus struct {
	subjects []string
	keys     []string
}

func (f *fakeBus) Publish(_ context.Context, subject, key string, payload []byte) error {
	f.subjects = append(f.subjects, subject)
	f.keys = append(f.keys, key)
	return nil
}

func failedMessage(id string, retries int) *core_domain.Message {
	msg := &core_domain.Message{
		ID:        id,
		RequestID: "req_" + id,
		TenantID:  "tenant-1",
		Channel:   core_domain.ChannelSMS,
		Status:    core_domain.StatusFailed,
		Retries:   retries,
	}
	return msg
}

func newRecoverer(repo *fakeMessageRepo, events *fakeEventRepo, bus *fakeBus) *Recoverer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRecoverer(repo, events, bus, 50, logger)
}

func TestRecovererRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("re-queues claimed failed messages", func(t *testing.T) {
		repo := &fakeMessageRepo{
			retryCandidates: []*core_domain.Message{failedMessage("m1", 0), failedMessage("m2", 2)},
		}
		events := &fakeEventRepo{}
		bus := &fakeBus{}

		retried, expired, err := newRecoverer(repo, events, bus).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, retried)
		assert.Zero(t, expired)
		assert.Equal(t, []string{"m1", "m2"}, repo.claimed)
		assert.Equal(t, []string{
			messagebroker.SubjectMessageRequested,
			messagebroker.SubjectMessageRequested,
		}, bus.subjects)
		assert.Equal(t, []string{"req_m1", "req_m2"}, bus.keys)
		require.Len(t, events.appended, 2)
		assert.Equal(t, core_domain.EventRetried, events.appended[0].EventType)
	})

	t.Run("retry counter is bumped on the re-queued message", func(t *testing.T) {
		msg := failedMessage("m1", 1)
		repo := &fakeMessageRepo{retryCandidates: []*core_domain.Message{msg}}

		_, _, err := newRecoverer(repo, &fakeEventRepo{}, &fakeBus{}).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, msg.Retries)
		assert.Equal(t, core_domain.StatusPending, msg.Status)
	})

	t.Run("lost claim skips the message", func(t *testing.T) {
		repo := &fakeMessageRepo{
			retryCandidates: []*core_domain.Message{failedMessage("m1", 0)},
			claimDenied:     map[string]bool{"m1": true},
		}
		bus := &fakeBus{}

		retried, _, err := newRecoverer(repo, &fakeEventRepo{}, bus).RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, retried)
		assert.Empty(t, bus.subjects)
	})

	t.Run("expires overdue queued messages and fans out", func(t *testing.T) {
		overdue := &core_domain.Message{
			ID: "m3", RequestID: "req_m3", TenantID: "tenant-1",
			Channel: core_domain.ChannelEmail, Status: core_domain.StatusPending,
		}
		repo := &fakeMessageRepo{expiredCandidates: []*core_domain.Message{overdue}}
		events := &fakeEventRepo{}
		bus := &fakeBus{}

		retried, expired, err := newRecoverer(repo, events, bus).RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, retried)
		assert.Equal(t, 1, expired)
		assert.Equal(t, core_domain.StatusExpired, overdue.Status)
		assert.Equal(t, []string{messagebroker.SubjectMessageStatus}, bus.subjects)
		require.Len(t, events.appended, 1)
		assert.Equal(t, core_domain.EventExpired, events.appended[0].EventType)
	})

	t.Run("idle sweep does nothing", func(t *testing.T) {
		retried, expired, err := newRecoverer(&fakeMessageRepo{}, &fakeEventRepo{}, &fakeBus{}).RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, retried)
		assert.Zero(t, expired)
	})
}
