package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/outbox"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	return m.Called(ctx, message).Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	return m
}

type MockHistoryRepo struct {
	mock.Mock
}

func (m *MockHistoryRepo) Upsert(ctx context.Context, entry *ledger.Entry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockHistoryRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	args := m.Called(ctx, accountID, limit, offset)
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockHistoryRepo) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, message *outbox.Message) error {
	return m.Called(ctx, message).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func newMessage(t *testing.T, id int64, attempts int) (*outbox.Message, *ledger.Entry) {
	t.Helper()
	entry := ledger.NewEscrowDebit(uuid.New(), uuid.New(), 4000, uuid.New(), time.Now())
	message, err := outbox.NewMessage(entry)
	require.NoError(t, err)
	message.ID = id
	message.Attempts = attempts
	return message, entry
}

func TestHistoryPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("mirrors and marks processed", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		outboxRepo, history := new(MockOutboxRepo), new(MockHistoryRepo)
		message, entry := newMessage(t, 1, 0)

		history.On("Upsert", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
			return e.ID == entry.ID && e.Kind == ledger.KindEscrowDebit && e.Amount == 4000
		})).Return(nil).Once()
		outboxRepo.On("UpdateStatus", ctx, int64(1), shared.OutboxStatusProcessed).Return(nil).Once()

		p := NewHistoryPublisher(outboxRepo, history, metrics.New(reg), newTestLogger())
		require.NoError(t, p.Publish(ctx, message))

		assert.Equal(t, float64(1), counterValue(t, reg, "escrow_ledger_mirror_published_total"))
		outboxRepo.AssertExpectations(t)
		history.AssertExpectations(t)
	})

	t.Run("history store down", func(t *testing.T) {
		outboxRepo, history := new(MockOutboxRepo), new(MockHistoryRepo)
		message, _ := newMessage(t, 2, 0)
		history.On("Upsert", ctx, mock.Anything).Return(errors.New("server selection timeout")).Once()

		p := NewHistoryPublisher(outboxRepo, history, metrics.New(prometheus.NewRegistry()), newTestLogger())
		err := p.Publish(ctx, message)

		assert.ErrorContains(t, err, "failed to mirror ledger entry")
		assert.NotErrorIs(t, err, ErrPoisonMessage)
		outboxRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("poison payload", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		outboxRepo, history := new(MockOutboxRepo), new(MockHistoryRepo)
		message := &outbox.Message{ID: 3, Payload: json.RawMessage(`{"amount":"forty"}`)}
		outboxRepo.On("UpdateStatus", ctx, int64(3), shared.OutboxStatusFailedToPublish).Return(nil).Once()

		p := NewHistoryPublisher(outboxRepo, history, metrics.New(reg), newTestLogger())
		err := p.Publish(ctx, message)

		assert.ErrorIs(t, err, ErrPoisonMessage)
		assert.Equal(t, float64(1), counterValue(t, reg, "escrow_ledger_mirror_failed_total"))
		history.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		outboxRepo.AssertExpectations(t)
	})
}

func TestPoller_ProcessPending(t *testing.T) {
	ctx := context.Background()
	cfg := &config.OutboxConfig{PollingInterval: time.Second, BatchSize: 10, MaxRetryAttempts: 3}

	t.Run("retries until exhausted", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		outboxRepo, publisher := new(MockOutboxRepo), new(MockPublisher)
		ok, _ := newMessage(t, 1, 0)
		retry, _ := newMessage(t, 2, 0)
		last, _ := newMessage(t, 3, 2)

		outboxRepo.On("GetPending", ctx, 10).Return([]*outbox.Message{ok, retry, last}, nil).Once()
		publisher.On("Publish", ctx, ok).Return(nil).Once()
		publisher.On("Publish", ctx, retry).Return(errors.New("timeout")).Once()
		publisher.On("Publish", ctx, last).Return(errors.New("timeout")).Once()
		outboxRepo.On("IncrementAttempts", ctx, int64(2)).Return(nil).Once()
		outboxRepo.On("IncrementAttempts", ctx, int64(3)).Return(nil).Once()
		outboxRepo.On("UpdateStatus", ctx, int64(3), shared.OutboxStatusFailedToPublish).Return(nil).Once()

		poller := NewPoller(cfg, outboxRepo, publisher, metrics.New(reg), newTestLogger())
		require.NoError(t, poller.processPending(ctx))

		assert.Equal(t, float64(1), counterValue(t, reg, "escrow_ledger_mirror_failed_total"))
		outboxRepo.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("poison messages are not retried", func(t *testing.T) {
		outboxRepo, publisher := new(MockOutboxRepo), new(MockPublisher)
		bad, _ := newMessage(t, 4, 0)
		outboxRepo.On("GetPending", ctx, 10).Return([]*outbox.Message{bad}, nil).Once()
		publisher.On("Publish", ctx, bad).Return(ErrPoisonMessage).Once()

		poller := NewPoller(cfg, outboxRepo, publisher, metrics.New(prometheus.NewRegistry()), newTestLogger())
		require.NoError(t, poller.processPending(ctx))

		outboxRepo.AssertNotCalled(t, "IncrementAttempts", mock.Anything, mock.Anything)
	})

	t.Run("outbox unavailable", func(t *testing.T) {
		outboxRepo := new(MockOutboxRepo)
		outboxRepo.On("GetPending", ctx, 10).Return(nil, errors.New("connection refused")).Once()

		poller := NewPoller(cfg, outboxRepo, new(MockPublisher), metrics.New(prometheus.NewRegistry()), newTestLogger())
		assert.ErrorContains(t, poller.processPending(ctx), "failed to get pending outbox messages")
	})
}

func TestPoller_StartStopsOnCancel(t *testing.T) {
	polled := make(chan struct{}, 1)
	outboxRepo := new(MockOutboxRepo)
	outboxRepo.On("GetPending", mock.Anything, 5).
		Run(func(mock.Arguments) {
			select {
			case polled <- struct{}{}:
			default:
			}
		}).
		Return([]*outbox.Message{}, nil)
	cfg := &config.OutboxConfig{PollingInterval: 5 * time.Millisecond, BatchSize: 5, MaxRetryAttempts: 3}
	poller := NewPoller(cfg, outboxRepo, new(MockPublisher), metrics.New(prometheus.NewRegistry()), newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()

	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("poller never polled")
	}
	cancel()
	<-done
}
