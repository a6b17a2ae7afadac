package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stellar-anchor-watch/internal/domain/outbox"
	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) WithTx(tx pgx.Tx) record.Repository {
	m.Called(tx)
	return m
}

func (m *MockRecordRepository) UpsertPayments(ctx context.Context, payments []*record.Payment) (int, error) {
	args := m.Called(ctx, payments)
	return args.Int(0), args.Error(1)
}

func (m *MockRecordRepository) UpsertTrustlineEvents(ctx context.Context, events []*record.TrustlineEvent) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockRecordRepository) UpsertAccountMerges(ctx context.Context, merges []*record.AccountMerge) (int, error) {
	args := m.Called(ctx, merges)
	return args.Int(0), args.Error(1)
}

func (m *MockRecordRepository) UpsertFeeBumps(ctx context.Context, feeBumps []*record.FeeBumpTransaction) (int, error) {
	args := m.Called(ctx, feeBumps)
	return args.Int(0), args.Error(1)
}

func (m *MockRecordRepository) GetPaymentByOpID(ctx context.Context, opID string) (*record.Payment, error) {
	args := m.Called(ctx, opID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Payment), args.Error(1)
}

func (m *MockRecordRepository) PaymentsForAnchor(ctx context.Context, anchorID string) ([]*record.Payment, error) {
	args := m.Called(ctx, anchorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*record.Payment), args.Error(1)
}

func (m *MockRecordRepository) PaymentsForCorridorDay(ctx context.Context, corridorKey string, day string) ([]*record.Payment, error) {
	args := m.Called(ctx, corridorKey, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*record.Payment), args.Error(1)
}

func (m *MockRecordRepository) CountPaymentsForAnchor(ctx context.Context, anchorID string) (int64, error) {
	args := m.Called(ctx, anchorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRecordRepository) TrustlineCountForAsset(ctx context.Context, assetCode, assetIssuer string) (int64, error) {
	args := m.Called(ctx, assetCode, assetIssuer)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRecordRepository) PaymentVolumeForAsset(ctx context.Context, assetCode, assetIssuer string, since time.Time) (int64, error) {
	args := m.Called(ctx, assetCode, assetIssuer, since)
	return args.Get(0).(int64), args.Error(1)
}

var _ record.Repository = (*MockRecordRepository)(nil)

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	m.Called(tx)
	return m
}

func (m *MockOutboxRepository) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepository) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var _ outbox.Repository = (*MockOutboxRepository)(nil)

func paymentBatchForTest() *NormalizedBatch {
	n := newTestNormalizer()
	return n.NormalizeBatch(shared.TaskPayments, []*RawOperation{validRawPayment()})
}

func TestPgBatchCommitter_CommitBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitsRecordsCursorAndOutboxTogether", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		recordRepo := new(MockRecordRepository)
		cursorRepo := new(MockCursorRepository)
		outboxRepo := new(MockOutboxRepository)

		batch := paymentBatchForTest()

		mockPool.ExpectBegin()
		recordRepo.On("WithTx", mock.Anything).Return().Once()
		recordRepo.On("UpsertPayments", ctx, batch.Payments).Return(1, nil).Once()
		cursorRepo.On("WithTx", mock.Anything).Return().Once()
		cursorRepo.On("Advance", ctx, shared.TaskPayments, "12885905408").Return(nil).Once()
		outboxRepo.On("WithTx", mock.Anything).Return().Once()
		outboxRepo.On("Create", ctx, mock.MatchedBy(func(msg *outbox.Message) bool {
			event, eventErr := msg.GetBatchEvent()
			if eventErr != nil {
				return false
			}
			return event.Task == shared.TaskPayments &&
				event.Cursor == "12885905408" &&
				event.RecordCount == 1 &&
				len(event.AnchorIDs) == 1 &&
				event.CorrelationID != ""
		})).Return(nil).Once()
		mockPool.ExpectCommit()

		committer := NewPgBatchCommitter(mockPool, recordRepo, cursorRepo, outboxRepo, newTestLogger())
		require.NoError(t, committer.CommitBatch(ctx, batch, "12885905408"))

		recordRepo.AssertExpectations(t)
		cursorRepo.AssertExpectations(t)
		outboxRepo.AssertExpectations(t)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DuplicateBatchAdvancesCursorWithoutOutboxEvent", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		recordRepo := new(MockRecordRepository)
		cursorRepo := new(MockCursorRepository)
		outboxRepo := new(MockOutboxRepository)

		batch := paymentBatchForTest()

		mockPool.ExpectBegin()
		recordRepo.On("WithTx", mock.Anything).Return().Once()
		recordRepo.On("UpsertPayments", ctx, batch.Payments).Return(0, nil).Once()
		cursorRepo.On("WithTx", mock.Anything).Return().Once()
		cursorRepo.On("Advance", ctx, shared.TaskPayments, "12885905408").Return(nil).Once()
		mockPool.ExpectCommit()

		committer := NewPgBatchCommitter(mockPool, recordRepo, cursorRepo, outboxRepo, newTestLogger())
		require.NoError(t, committer.CommitBatch(ctx, batch, "12885905408"))

		outboxRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UpsertFailureRollsBackEverything", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		recordRepo := new(MockRecordRepository)
		cursorRepo := new(MockCursorRepository)
		outboxRepo := new(MockOutboxRepository)

		batch := paymentBatchForTest()

		mockPool.ExpectBegin()
		recordRepo.On("WithTx", mock.Anything).Return().Once()
		recordRepo.On("UpsertPayments", ctx, batch.Payments).Return(0, errors.New("constraint violation")).Once()
		mockPool.ExpectRollback()

		committer := NewPgBatchCommitter(mockPool, recordRepo, cursorRepo, outboxRepo, newTestLogger())
		err = committer.CommitBatch(ctx, batch, "12885905408")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upsert")

		cursorRepo.AssertNotCalled(t, "Advance", mock.Anything, mock.Anything, mock.Anything)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("CursorAdvanceFailureRollsBack", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		recordRepo := new(MockRecordRepository)
		cursorRepo := new(MockCursorRepository)
		outboxRepo := new(MockOutboxRepository)

		batch := paymentBatchForTest()

		mockPool.ExpectBegin()
		recordRepo.On("WithTx", mock.Anything).Return().Once()
		recordRepo.On("UpsertPayments", ctx, batch.Payments).Return(1, nil).Once()
		cursorRepo.On("WithTx", mock.Anything).Return().Once()
		cursorRepo.On("Advance", ctx, shared.TaskPayments, "12885905408").Return(errors.New("db down")).Once()
		mockPool.ExpectRollback()

		committer := NewPgBatchCommitter(mockPool, recordRepo, cursorRepo, outboxRepo, newTestLogger())
		require.Error(t, committer.CommitBatch(ctx, batch, "12885905408"))

		outboxRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}
