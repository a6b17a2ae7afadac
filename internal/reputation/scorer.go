package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/asset"
	"github.com/stellar-anchor-watch/internal/domain/record"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// TxBeginner abstracts the pgx pool for transaction control.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Payment volume feeding the score is windowed so dormant assets decay.
const volumeWindow = 30 * 24 * time.Hour

// actor names stamped into audit rows for automated changes
const (
	actorScorer = "reputation-scorer"
	actorSweep  = "verification-sweep"
)

// Scorer owns the asset verification state machine. All writes go through a
// row-locked transaction that saves the asset and its audit row together.
type Scorer struct {
	db         TxBeginner
	assetRepo  asset.Repository
	recordRepo record.Repository
	checker    SourceChecker
	threshold  int
	logger     *slog.Logger
	now        func() time.Time
}

func NewScorer(
	cfg *config.ReputationConfig,
	db TxBeginner,
	assetRepo asset.Repository,
	recordRepo record.Repository,
	checker SourceChecker,
	logger *slog.Logger,
) *Scorer {
	return &Scorer{
		db:         db,
		assetRepo:  assetRepo,
		recordRepo: recordRepo,
		checker:    checker,
		threshold:  cfg.SuspiciousThreshold,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleBatchEvent is the Kafka message handler. Only trustline batches carry
// reputation-relevant activity.
func (s *Scorer) HandleBatchEvent(ctx context.Context, key []byte, value []byte) error {
	var event shared.BatchEvent
	if err := json.Unmarshal(value, &event); err != nil {
		s.logger.Error("Failed to decode batch event, dropping it", "key", string(key), "error", err)
		return nil
	}
	if event.Task != shared.TaskTrustlines {
		return nil
	}

	logger := s.logger
	if event.CorrelationID != "" {
		logger = s.logger.With("correlation_id", event.CorrelationID)
	}

	var errs []error
	for _, assetKey := range event.AssetKeys {
		if _, err := s.RefreshAsset(ctx, assetKey.Code, assetKey.Issuer, "trustline activity", actorScorer); err != nil {
			logger.Error("Failed to refresh asset reputation", "asset", assetKey.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshAsset recomputes one asset's activity inputs and score. The row is
// created unverified on first sighting. An audit row is written whenever the
// visible state (status or score) changed.
func (s *Scorer) RefreshAsset(ctx context.Context, code, issuer, reason, actor string) (bool, error) {
	return s.updateAsset(ctx, code, issuer, func(ctx context.Context, tx pgx.Tx, a *asset.VerifiedAsset, now time.Time) (string, string, error) {
		recordRepoTx := s.recordRepo.WithTx(tx)

		trustlines, err := recordRepoTx.TrustlineCountForAsset(ctx, code, issuer)
		if err != nil {
			return "", "", fmt.Errorf("failed to count trustlines: %w", err)
		}
		volume, err := recordRepoTx.PaymentVolumeForAsset(ctx, code, issuer, now.Add(-volumeWindow))
		if err != nil {
			return "", "", fmt.Errorf("failed to sum payment volume: %w", err)
		}

		a.TrustlineCount = trustlines
		a.TxVolume = volume
		return reason, actor, nil
	})
}

// ReportSuspicious records one report against an asset. Reaching the
// unresolved threshold forces the suspicious status.
func (s *Scorer) ReportSuspicious(ctx context.Context, code, issuer, reason, reporter string) error {
	_, err := s.updateAsset(ctx, code, issuer, func(ctx context.Context, tx pgx.Tx, a *asset.VerifiedAsset, now time.Time) (string, string, error) {
		a.SuspiciousReports++
		a.UnresolvedReports++
		return "suspicious report: " + reason, reporter, nil
	})
	return err
}

// ResolveReports is the reviewer operation that releases an asset from the
// suspicious status. The target state depends on whether any verification
// source still vouches for the asset.
func (s *Scorer) ResolveReports(ctx context.Context, code, issuer, reviewer, resolution string) error {
	_, err := s.updateAsset(ctx, code, issuer, func(ctx context.Context, tx pgx.Tx, a *asset.VerifiedAsset, now time.Time) (string, string, error) {
		if a.VerificationStatus != asset.StatusSuspicious {
			return "", "", fmt.Errorf("asset %s:%s is not suspicious: %w", code, issuer, asset.ErrInvalidTransition)
		}
		a.UnresolvedReports = 0

		target := asset.StatusUnverified
		if a.SourcesVerified() {
			target = asset.StatusVerified
		}
		if err := a.Transition(target, true, now); err != nil {
			return "", "", err
		}
		return "reports resolved: " + resolution, reviewer, nil
	})
	return err
}

// RunVerificationSweep re-checks every tracked asset against the external
// verification sources. It keeps going past individual failures and returns
// the number of assets whose state changed.
func (s *Scorer) RunVerificationSweep(ctx context.Context) (int, error) {
	assets, err := s.assetRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list assets for verification sweep: %w", err)
	}

	changed := 0
	for _, current := range assets {
		didChange, err := s.sweepAsset(ctx, current.AssetCode, current.AssetIssuer)
		if err != nil {
			s.logger.Error("Verification sweep failed for asset",
				"asset_code", current.AssetCode, "asset_issuer", current.AssetIssuer, "error", err,
			)
			continue
		}
		if didChange {
			changed++
		}
	}

	s.logger.Info("Verification sweep finished", "assets_checked", len(assets), "assets_changed", changed)
	return changed, nil
}

func (s *Scorer) sweepAsset(ctx context.Context, code, issuer string) (bool, error) {
	registry, err := s.checker.RegistryListed(ctx, code, issuer)
	if err != nil {
		return false, fmt.Errorf("registry check failed: %w", err)
	}
	metadata, err := s.checker.IssuerMetadataValid(ctx, code, issuer)
	if err != nil {
		return false, fmt.Errorf("issuer metadata check failed: %w", err)
	}

	return s.updateAsset(ctx, code, issuer, func(ctx context.Context, tx pgx.Tx, a *asset.VerifiedAsset, now time.Time) (string, string, error) {
		revoked := (a.RegistryVerified && !registry) || (a.IssuerMetadataVerified && !metadata)
		a.RegistryVerified = registry
		a.IssuerMetadataVerified = metadata

		reason := "verification source sweep"
		switch {
		case revoked && a.VerificationStatus != asset.StatusSuspicious:
			// A revoked source flag degrades the asset regardless of its
			// previous state.
			if err := a.Transition(asset.StatusSuspicious, false, now); err != nil {
				return "", "", err
			}
			reason = "verification source revoked"
		case a.VerificationStatus == asset.StatusUnverified && a.SourcesVerified():
			if err := a.Transition(asset.StatusVerified, false, now); err != nil {
				return "", "", err
			}
			reason = "verification sources confirmed"
		}
		return reason, actorSweep, nil
	})
}

// mutator adjusts the locked asset in place and names the audit reason/actor.
type mutator func(ctx context.Context, tx pgx.Tx, a *asset.VerifiedAsset, now time.Time) (reason string, actor string, err error)

// updateAsset is the shared read-modify-write path: lock (or create) the row,
// apply the mutation, re-derive the suspicious status and the score, and save
// the asset together with its audit row when the visible state changed. It
// reports whether a visible change happened. When status, score, and the
// unresolved-report count all come out unchanged, the refreshed inputs still
// commit but no audit row is written, so the history records transitions
// rather than traffic.
func (s *Scorer) updateAsset(ctx context.Context, code, issuer string, mutate mutator) (changed bool, err error) {
	now := s.now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin reputation transaction for %s:%s: %w", code, issuer, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("Failed to rollback reputation transaction", "asset_code", code, "asset_issuer", issuer, "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	assetRepoTx := s.assetRepo.WithTx(tx)
	a, err := assetRepoTx.LockForUpdate(ctx, code, issuer)
	if err != nil {
		return false, fmt.Errorf("failed to lock asset %s:%s: %w", code, issuer, err)
	}
	before := *a

	reason, actor, err := mutate(ctx, tx, a, now)
	if err != nil {
		return false, err
	}

	// Threshold breach forces suspicious no matter what the mutation did.
	if a.UnresolvedReports >= s.threshold && a.VerificationStatus != asset.StatusSuspicious {
		if err = a.Transition(asset.StatusSuspicious, false, now); err != nil {
			return false, err
		}
		reason = fmt.Sprintf("unresolved reports reached threshold (%d)", s.threshold)
	}

	a.ReputationScore = Score(a)
	a.ScoreVersion = ScoreVersion
	a.UpdatedAt = now

	if a.VerificationStatus == before.VerificationStatus && a.ReputationScore == before.ReputationScore &&
		a.UnresolvedReports == before.UnresolvedReports {
		// Nothing visible changed: commit the refreshed inputs without an
		// audit row.
		if err = assetRepoTx.SaveWithHistory(ctx, a, nil); err != nil {
			return false, fmt.Errorf("failed to save asset %s:%s: %w", code, issuer, err)
		}
		if err = tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("failed to commit reputation update for %s:%s: %w", code, issuer, err)
		}
		return false, nil
	}

	entry := asset.NewHistoryEntry(&before, a, reason, actor, now)
	if err = assetRepoTx.SaveWithHistory(ctx, a, entry); err != nil {
		return false, fmt.Errorf("failed to save asset %s:%s with history: %w", code, issuer, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit reputation update for %s:%s: %w", code, issuer, err)
	}

	s.logger.Info("Asset reputation updated",
		"asset_code", code,
		"asset_issuer", issuer,
		"status", string(a.VerificationStatus),
		"score", a.ReputationScore,
		"reason", reason,
	)
	return true, nil
}
