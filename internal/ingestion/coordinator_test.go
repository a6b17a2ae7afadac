package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/cursor"
	"github.com/stellar-anchor-watch/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedgerSource struct {
	mock.Mock
}

func (m *MockLedgerSource) FetchPage(ctx context.Context, task shared.TaskName, cur string, limit int) (*Page, error) {
	args := m.Called(ctx, task, cur, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Page), args.Error(1)
}

type MockBatchCommitter struct {
	mock.Mock
}

func (m *MockBatchCommitter) CommitBatch(ctx context.Context, batch *NormalizedBatch, nextCursor string) error {
	args := m.Called(ctx, batch, nextCursor)
	return args.Error(0)
}

type MockCursorRepository struct {
	mock.Mock
}

func (m *MockCursorRepository) WithTx(tx pgx.Tx) cursor.Repository {
	m.Called(tx)
	return m
}

func (m *MockCursorRepository) Get(ctx context.Context, task shared.TaskName) (*cursor.Cursor, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cursor.Cursor), args.Error(1)
}

func (m *MockCursorRepository) Ensure(ctx context.Context, task shared.TaskName) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockCursorRepository) Advance(ctx context.Context, task shared.TaskName, newCursor string) error {
	args := m.Called(ctx, task, newCursor)
	return args.Error(0)
}

var _ cursor.Repository = (*MockCursorRepository)(nil)

func newTestCoordinator(source LedgerSource, committer BatchCommitter, cursorRepo cursor.Repository) *Coordinator {
	cfg := &config.IngestionConfig{
		BatchSize:       100,
		PollInterval:    10 * time.Millisecond,
		MaxRetryElapsed: time.Second,
	}
	return NewCoordinator(cfg, source, newTestNormalizer(), committer, cursorRepo, newTestLogger())
}

func TestCoordinator_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitsFetchedBatchWithNextCursor", func(t *testing.T) {
		source := new(MockLedgerSource)
		committer := new(MockBatchCommitter)
		cursorRepo := new(MockCursorRepository)

		cursorRepo.On("Get", ctx, shared.TaskPayments).
			Return(&cursor.Cursor{TaskName: shared.TaskPayments, LastCursor: "100"}, nil).Once()

		raw := validRawPayment()
		source.On("FetchPage", ctx, shared.TaskPayments, "100", 100).
			Return(&Page{Records: []*RawOperation{raw}, NextCursor: raw.PagingToken}, nil).Once()

		committer.On("CommitBatch", ctx, mock.MatchedBy(func(b *NormalizedBatch) bool {
			return b.Task == shared.TaskPayments && len(b.Payments) == 1
		}), raw.PagingToken).Return(nil).Once()

		co := newTestCoordinator(source, committer, cursorRepo)
		fetched, err := co.runOnce(ctx, shared.TaskPayments)
		require.NoError(t, err)
		assert.Equal(t, 1, fetched)

		source.AssertExpectations(t)
		committer.AssertExpectations(t)
		cursorRepo.AssertExpectations(t)
	})

	t.Run("EmptyPageCommitsNothing", func(t *testing.T) {
		source := new(MockLedgerSource)
		committer := new(MockBatchCommitter)
		cursorRepo := new(MockCursorRepository)

		cursorRepo.On("Get", ctx, shared.TaskPayments).
			Return(&cursor.Cursor{TaskName: shared.TaskPayments, LastCursor: "100"}, nil).Once()
		source.On("FetchPage", ctx, shared.TaskPayments, "100", 100).
			Return(&Page{}, nil).Once()

		co := newTestCoordinator(source, committer, cursorRepo)
		fetched, err := co.runOnce(ctx, shared.TaskPayments)
		require.NoError(t, err)
		assert.Equal(t, 0, fetched)

		committer.AssertNotCalled(t, "CommitBatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FilteredOutPageStillAdvancesCursor", func(t *testing.T) {
		source := new(MockLedgerSource)
		committer := new(MockBatchCommitter)
		cursorRepo := new(MockCursorRepository)

		cursorRepo.On("Get", ctx, shared.TaskTrustlines).
			Return(&cursor.Cursor{TaskName: shared.TaskTrustlines, LastCursor: "100"}, nil).Once()

		// The feed advanced but no record survived the type filter.
		source.On("FetchPage", ctx, shared.TaskTrustlines, "100", 100).
			Return(&Page{NextCursor: "250"}, nil).Once()

		committer.On("CommitBatch", ctx, mock.MatchedBy(func(b *NormalizedBatch) bool {
			return b.Empty()
		}), "250").Return(nil).Once()

		co := newTestCoordinator(source, committer, cursorRepo)
		_, err := co.runOnce(ctx, shared.TaskTrustlines)
		require.NoError(t, err)
		committer.AssertExpectations(t)
	})

	t.Run("FetchErrorLeavesCursorUntouched", func(t *testing.T) {
		source := new(MockLedgerSource)
		committer := new(MockBatchCommitter)
		cursorRepo := new(MockCursorRepository)

		cursorRepo.On("Get", ctx, shared.TaskPayments).
			Return(&cursor.Cursor{TaskName: shared.TaskPayments, LastCursor: "100"}, nil).Once()
		source.On("FetchPage", ctx, shared.TaskPayments, "100", 100).
			Return(nil, errors.New("horizon unavailable")).Once()

		co := newTestCoordinator(source, committer, cursorRepo)
		_, err := co.runOnce(ctx, shared.TaskPayments)
		require.Error(t, err)

		committer.AssertNotCalled(t, "CommitBatch", mock.Anything, mock.Anything, mock.Anything)
		cursorRepo.AssertNotCalled(t, "Advance", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCoordinator_StartEnsuresAllCursors(t *testing.T) {
	source := new(MockLedgerSource)
	committer := new(MockBatchCommitter)
	cursorRepo := new(MockCursorRepository)

	for _, task := range shared.AllTasks() {
		cursorRepo.On("Ensure", mock.Anything, task).Return(nil).Once()
		cursorRepo.On("Get", mock.Anything, task).
			Return(&cursor.Cursor{TaskName: task}, nil).Maybe()
	}
	source.On("FetchPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Page{}, nil).Maybe()

	co := newTestCoordinator(source, committer, cursorRepo)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	require.NoError(t, co.Start(ctx, &wg))
	cancel()
	wg.Wait()

	cursorRepo.AssertExpectations(t)
}
