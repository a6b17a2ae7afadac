package outbox_poller

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/outbox"
	"github.com/stellar-anchor-watch/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOutboxRepo for testing
type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	m.Called(tx)
	return m
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var _ outbox.Repository = (*MockOutboxRepo)(nil)

// MockBatchPublisher for testing
type MockBatchPublisher struct {
	mock.Mock
}

func (m *MockBatchPublisher) PublishBatch(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// MockDeadLetterPublisher for testing
type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error {
	args := m.Called(ctx, key, originalMessageValue, reason)
	return args.Error(0)
}

func (m *MockDeadLetterPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func pendingMessage(t *testing.T, id int64, attempts int) *outbox.Message {
	t.Helper()
	event := &shared.BatchEvent{
		Task:          shared.TaskPayments,
		Cursor:        "200",
		RecordCount:   2,
		CorrelationID: "corr-1",
		CommittedAt:   time.Now().UTC(),
	}
	msg, err := outbox.NewMessage(event)
	require.NoError(t, err)
	msg.ID = id
	msg.Attempts = attempts
	return msg
}

func testPollerConfig() *config.OutboxConfig {
	return &config.OutboxConfig{
		PollingInterval:  time.Second,
		BatchSize:        10,
		MaxRetryAttempts: 3,
	}
}

func TestPoller_ProcessPendingMessages(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("PublishesEachPendingMessage", func(t *testing.T) {
		outboxRepo := &MockOutboxRepo{}
		publisher := &MockBatchPublisher{}

		first := pendingMessage(t, 1, 0)
		second := pendingMessage(t, 2, 0)
		outboxRepo.On("GetPending", ctx, 10).Return([]*outbox.Message{first, second}, nil).Once()
		publisher.On("PublishBatch", ctx, first).Return(nil).Once()
		publisher.On("PublishBatch", ctx, second).Return(nil).Once()

		poller := NewPoller(testPollerConfig(), outboxRepo, publisher, nil, logger)
		require.NoError(t, poller.processPendingMessages(ctx))

		outboxRepo.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("NoPendingMessagesIsANoOp", func(t *testing.T) {
		outboxRepo := &MockOutboxRepo{}
		publisher := &MockBatchPublisher{}

		outboxRepo.On("GetPending", ctx, 10).Return([]*outbox.Message{}, nil).Once()

		poller := NewPoller(testPollerConfig(), outboxRepo, publisher, nil, logger)
		require.NoError(t, poller.processPendingMessages(ctx))

		publisher.AssertNotCalled(t, "PublishBatch", mock.Anything, mock.Anything)
	})

	t.Run("FailureIncrementsAttempts", func(t *testing.T) {
		outboxRepo := &MockOutboxRepo{}
		publisher := &MockBatchPublisher{}

		msg := pendingMessage(t, 3, 0)
		outboxRepo.On("GetPending", ctx, 10).Return([]*outbox.Message{msg}, nil).Once()
		publisher.On("PublishBatch", ctx, msg).Return(errors.New("kafka down")).Once()
		outboxRepo.On("IncrementAttempts", ctx, int64(3)).Return(nil).Once()

		poller := NewPoller(testPollerConfig(), outboxRepo, publisher, nil, logger)
		require.NoError(t, poller.processPendingMessages(ctx))

		outboxRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MaxAttemptsDeadLettersAndMarksFailed", func(t *testing.T) {
		outboxRepo := &MockOutboxRepo{}
		publisher := &MockBatchPublisher{}
		dlq := &MockDeadLetterPublisher{}

		msg := pendingMessage(t, 4, 2) // third failure hits the limit
		outboxRepo.On("GetPending", ctx, 10).Return([]*outbox.Message{msg}, nil).Once()
		publisher.On("PublishBatch", ctx, msg).Return(errors.New("kafka down")).Once()
		outboxRepo.On("IncrementAttempts", ctx, int64(4)).Return(nil).Once()
		dlq.On("PublishToDLQ", ctx, string(shared.TaskPayments), []byte(msg.Payload), "max retry attempts exceeded").Return(nil).Once()
		outboxRepo.On("UpdateStatus", ctx, int64(4), shared.OutboxStatusFailedToPublish).Return(nil).Once()

		poller := NewPoller(testPollerConfig(), outboxRepo, publisher, dlq, logger)
		require.NoError(t, poller.processPendingMessages(ctx))

		outboxRepo.AssertExpectations(t)
		dlq.AssertExpectations(t)
	})

	t.Run("GetPendingErrorIsReturned", func(t *testing.T) {
		outboxRepo := &MockOutboxRepo{}
		publisher := &MockBatchPublisher{}

		outboxRepo.On("GetPending", ctx, 10).Return(nil, errors.New("connection lost")).Once()

		poller := NewPoller(testPollerConfig(), outboxRepo, publisher, nil, logger)
		err := poller.processPendingMessages(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get pending outbox messages")
	})
}
