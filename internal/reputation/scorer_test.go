package reputation

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/asset"
	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAssetRepository struct {
	mock.Mock
}

func (m *MockAssetRepository) WithTx(tx pgx.Tx) asset.Repository {
	m.Called(tx)
	return m
}

func (m *MockAssetRepository) Get(ctx context.Context, code, issuer string) (*asset.VerifiedAsset, error) {
	args := m.Called(ctx, code, issuer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asset.VerifiedAsset), args.Error(1)
}

func (m *MockAssetRepository) LockForUpdate(ctx context.Context, code, issuer string) (*asset.VerifiedAsset, error) {
	args := m.Called(ctx, code, issuer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asset.VerifiedAsset), args.Error(1)
}

func (m *MockAssetRepository) SaveWithHistory(ctx context.Context, a *asset.VerifiedAsset, h *asset.HistoryEntry) error {
	args := m.Called(ctx, a, h)
	return args.Error(0)
}

func (m *MockAssetRepository) List(ctx context.Context) ([]*asset.VerifiedAsset, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*asset.VerifiedAsset), args.Error(1)
}

func (m *MockAssetRepository) History(ctx context.Context, code, issuer string) ([]*asset.HistoryEntry, error) {
	args := m.Called(ctx, code, issuer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*asset.HistoryEntry), args.Error(1)
}

var _ asset.Repository = (*MockAssetRepository)(nil)

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

var scorerNow = time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

func newTestScorer(db TxBeginner, assetRepo *MockAssetRepository, recordRepo *MockRecordRepository, checker SourceChecker) *Scorer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	if checker == nil {
		checker = NewStaticSourceChecker(nil, nil)
	}
	scorer := NewScorer(
		&config.ReputationConfig{SuspiciousThreshold: 3},
		db, assetRepo, recordRepo, checker, logger,
	)
	scorer.now = func() time.Time { return scorerNow }
	return scorer
}

func TestScorer_RefreshAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstSightingWritesAuditRowForScoreChange", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)

		fresh := asset.NewAsset("USDC", "GISSUER", scorerNow)

		mockPool.ExpectBegin()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "USDC", "GISSUER").Return(fresh, nil).Once()
		recordRepo.On("WithTx", mock.Anything).Return()
		recordRepo.On("TrustlineCountForAsset", ctx, "USDC", "GISSUER").Return(int64(25), nil).Once()
		recordRepo.On("PaymentVolumeForAsset", ctx, "USDC", "GISSUER", scorerNow.Add(-volumeWindow)).
			Return(int64(200_000_000), nil).Once()

		var savedEntry *asset.HistoryEntry
		assetRepo.On("SaveWithHistory", ctx, mock.AnythingOfType("*asset.VerifiedAsset"), mock.AnythingOfType("*asset.HistoryEntry")).
			Run(func(args mock.Arguments) {
				savedEntry = args.Get(2).(*asset.HistoryEntry)
			}).Return(nil).Once()
		mockPool.ExpectCommit()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, nil)
		changed, err := scorer.RefreshAsset(ctx, "USDC", "GISSUER", "trustline activity", actorScorer)
		require.NoError(t, err)
		assert.True(t, changed)

		require.NotNil(t, savedEntry)
		assert.Equal(t, asset.StatusUnverified, savedEntry.PreviousStatus)
		assert.Equal(t, asset.StatusUnverified, savedEntry.NewStatus)
		assert.Equal(t, 0, savedEntry.PreviousScore)
		assert.Equal(t, 20, savedEntry.NewScore) // trustline tier 10 + volume tier 10
		assert.Equal(t, actorScorer, savedEntry.Actor)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UnchangedStateCommitsWithoutAuditRow", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)

		current := asset.NewAsset("USDC", "GISSUER", scorerNow.Add(-time.Hour))
		current.TrustlineCount = 25
		current.TxVolume = 200_000_000
		current.ReputationScore = 20
		current.ScoreVersion = ScoreVersion

		mockPool.ExpectBegin()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "USDC", "GISSUER").Return(current, nil).Once()
		recordRepo.On("WithTx", mock.Anything).Return()
		recordRepo.On("TrustlineCountForAsset", ctx, "USDC", "GISSUER").Return(int64(25), nil).Once()
		recordRepo.On("PaymentVolumeForAsset", ctx, "USDC", "GISSUER", mock.Anything).Return(int64(200_000_000), nil).Once()
		assetRepo.On("SaveWithHistory", ctx, mock.Anything, (*asset.HistoryEntry)(nil)).Return(nil).Once()
		mockPool.ExpectCommit()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, nil)
		changed, err := scorer.RefreshAsset(ctx, "USDC", "GISSUER", "trustline activity", actorScorer)
		require.NoError(t, err)
		assert.False(t, changed)
		assetRepo.AssertExpectations(t)
	})
}

func TestScorer_ReportSuspicious(t *testing.T) {
	ctx := context.Background()

	t.Run("ThresholdForcesSuspiciousStatus", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)

		current := asset.NewAsset("EURT", "GISSUER", scorerNow.Add(-time.Hour))
		require.NoError(t, current.Transition(asset.StatusVerified, false, scorerNow.Add(-time.Hour)))
		current.RegistryVerified = true
		current.UnresolvedReports = 2
		current.SuspiciousReports = 2
		current.ReputationScore = 10

		mockPool.ExpectBegin()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "EURT", "GISSUER").Return(current, nil).Once()

		var savedAsset *asset.VerifiedAsset
		var savedEntry *asset.HistoryEntry
		assetRepo.On("SaveWithHistory", ctx, mock.Anything, mock.AnythingOfType("*asset.HistoryEntry")).
			Run(func(args mock.Arguments) {
				savedAsset = args.Get(1).(*asset.VerifiedAsset)
				savedEntry = args.Get(2).(*asset.HistoryEntry)
			}).Return(nil).Once()
		mockPool.ExpectCommit()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, nil)
		require.NoError(t, scorer.ReportSuspicious(ctx, "EURT", "GISSUER", "phishing site", "reporter-1"))

		require.NotNil(t, savedAsset)
		assert.Equal(t, asset.StatusSuspicious, savedAsset.VerificationStatus)
		assert.Equal(t, 3, savedAsset.UnresolvedReports)
		require.NotNil(t, savedEntry)
		assert.Equal(t, asset.StatusVerified, savedEntry.PreviousStatus)
		assert.Equal(t, asset.StatusSuspicious, savedEntry.NewStatus)
		assert.Contains(t, savedEntry.Reason, "threshold")
	})
}

func TestScorer_ResolveReports(t *testing.T) {
	ctx := context.Background()

	t.Run("ResolutionReturnsToVerifiedWhenSourcesVouch", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)

		current := asset.NewAsset("USDC", "GISSUER", scorerNow.Add(-48*time.Hour))
		require.NoError(t, current.Transition(asset.StatusSuspicious, false, scorerNow.Add(-time.Hour)))
		current.RegistryVerified = true
		current.UnresolvedReports = 4

		mockPool.ExpectBegin()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "USDC", "GISSUER").Return(current, nil).Once()

		var savedAsset *asset.VerifiedAsset
		var savedEntry *asset.HistoryEntry
		assetRepo.On("SaveWithHistory", ctx, mock.Anything, mock.AnythingOfType("*asset.HistoryEntry")).
			Run(func(args mock.Arguments) {
				savedAsset = args.Get(1).(*asset.VerifiedAsset)
				savedEntry = args.Get(2).(*asset.HistoryEntry)
			}).Return(nil).Once()
		mockPool.ExpectCommit()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, nil)
		require.NoError(t, scorer.ResolveReports(ctx, "USDC", "GISSUER", "reviewer-7", "reports were spam"))

		require.NotNil(t, savedAsset)
		assert.Equal(t, asset.StatusVerified, savedAsset.VerificationStatus)
		assert.Equal(t, 0, savedAsset.UnresolvedReports)
		require.NotNil(t, savedEntry)
		assert.Equal(t, "reviewer-7", savedEntry.Actor)
		assert.Contains(t, savedEntry.Reason, "reports were spam")
	})

	t.Run("NonSuspiciousAssetRejectsResolution", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)

		current := asset.NewAsset("USDC", "GISSUER", scorerNow)

		mockPool.ExpectBegin()
		mockPool.ExpectRollback()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "USDC", "GISSUER").Return(current, nil).Once()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, nil)
		err = scorer.ResolveReports(ctx, "USDC", "GISSUER", "reviewer-7", "n/a")
		require.Error(t, err)
		assert.ErrorIs(t, err, asset.ErrInvalidTransition)

		assetRepo.AssertNotCalled(t, "SaveWithHistory", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestScorer_RunVerificationSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("SourcesConfirmUnverifiedAsset", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)
		checker := NewStaticSourceChecker(map[string]bool{"USDC:GISSUER": true}, nil)

		current := asset.NewAsset("USDC", "GISSUER", scorerNow.Add(-time.Hour))
		assetRepo.On("List", ctx).Return([]*asset.VerifiedAsset{current}, nil).Once()

		mockPool.ExpectBegin()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "USDC", "GISSUER").Return(current, nil).Once()

		var savedAsset *asset.VerifiedAsset
		var savedEntry *asset.HistoryEntry
		assetRepo.On("SaveWithHistory", ctx, mock.Anything, mock.AnythingOfType("*asset.HistoryEntry")).
			Run(func(args mock.Arguments) {
				savedAsset = args.Get(1).(*asset.VerifiedAsset)
				savedEntry = args.Get(2).(*asset.HistoryEntry)
			}).Return(nil).Once()
		mockPool.ExpectCommit()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, checker)
		changed, err := scorer.RunVerificationSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		require.NotNil(t, savedAsset)
		assert.Equal(t, asset.StatusVerified, savedAsset.VerificationStatus)
		assert.True(t, savedAsset.RegistryVerified)
		assert.Equal(t, 40, savedAsset.ReputationScore)
		require.NotNil(t, savedEntry)
		assert.Equal(t, actorSweep, savedEntry.Actor)
	})

	t.Run("RevokedSourceFlagDegradesToSuspicious", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		recordRepo := new(MockRecordRepository)
		checker := NewStaticSourceChecker(nil, nil) // registry no longer lists the asset

		current := asset.NewAsset("USDC", "GISSUER", scorerNow.Add(-time.Hour))
		require.NoError(t, current.Transition(asset.StatusVerified, false, scorerNow.Add(-time.Hour)))
		current.RegistryVerified = true
		current.ReputationScore = 40

		assetRepo.On("List", ctx).Return([]*asset.VerifiedAsset{current}, nil).Once()

		mockPool.ExpectBegin()
		assetRepo.On("WithTx", mock.Anything).Return()
		assetRepo.On("LockForUpdate", ctx, "USDC", "GISSUER").Return(current, nil).Once()

		var savedAsset *asset.VerifiedAsset
		var savedEntry *asset.HistoryEntry
		assetRepo.On("SaveWithHistory", ctx, mock.Anything, mock.AnythingOfType("*asset.HistoryEntry")).
			Run(func(args mock.Arguments) {
				savedAsset = args.Get(1).(*asset.VerifiedAsset)
				savedEntry = args.Get(2).(*asset.HistoryEntry)
			}).Return(nil).Once()
		mockPool.ExpectCommit()

		scorer := newTestScorer(mockPool, assetRepo, recordRepo, checker)
		changed, err := scorer.RunVerificationSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		require.NotNil(t, savedAsset)
		assert.Equal(t, asset.StatusSuspicious, savedAsset.VerificationStatus)
		assert.False(t, savedAsset.RegistryVerified)
		require.NotNil(t, savedEntry)
		assert.Equal(t, "verification source revoked", savedEntry.Reason)
	})
}

func TestScorer_HandleBatchEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("IgnoresNonTrustlineEvents", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		assetRepo := new(MockAssetRepository)
		scorer := newTestScorer(mockPool, assetRepo, new(MockRecordRepository), nil)

		event := &shared.BatchEvent{Task: shared.TaskPayments, AssetKeys: []shared.AssetKey{{Code: "USDC", Issuer: "G"}}}
		payload, err := json.Marshal(event)
		require.NoError(t, err)
		require.NoError(t, scorer.HandleBatchEvent(ctx, []byte("payments"), payload))

		assetRepo.AssertNotCalled(t, "LockForUpdate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MalformedEventIsDropped", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		scorer := newTestScorer(mockPool, new(MockAssetRepository), new(MockRecordRepository), nil)
		require.NoError(t, scorer.HandleBatchEvent(ctx, []byte("k"), []byte("not json")))
	})
}
