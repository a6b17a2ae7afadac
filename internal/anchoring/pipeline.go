package anchoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/domain/metrics"
	"github.com/stellar-anchor-watch/internal/domain/snapshot"
)

// StateSource provides the aggregate state covered by a snapshot.
type StateSource interface {
	ListAnchors(ctx context.Context) ([]*metrics.AnchorMetrics, error)
	ListCorridors(ctx context.Context, date string) ([]*metrics.CorridorMetrics, error)
}

// maxEpochAttempts bounds how many duplicate-epoch rejections one run will
// absorb before giving up until the next schedule tick.
const maxEpochAttempts = 3

// Pipeline runs one scheduled snapshot submission end to end: serialize,
// hash, reserve the next epoch, submit on-chain. Every epoch it ever chooses
// ends the run as submitted or abandoned, never silently pending, so epochs
// stay strictly increasing across restarts.
type Pipeline struct {
	state           StateSource
	submissions     snapshot.Repository
	contract        SnapshotContract
	maxRetryElapsed time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewPipeline(
	cfg *config.AnchoringConfig,
	state StateSource,
	submissions snapshot.Repository,
	contract SnapshotContract,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		state:           state,
		submissions:     submissions,
		contract:        contract,
		maxRetryElapsed: cfg.MaxRetryElapsed,
		logger:          logger,
		now:             time.Now,
	}
}

// Run executes one submission attempt. Transient contract failures are
// retried with backoff inside the run; a duplicate-epoch rejection abandons
// the epoch and retries with a freshly derived one; validation rejections
// abort the run without killing the process.
func (p *Pipeline) Run(ctx context.Context) error {
	anchors, err := p.state.ListAnchors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load anchor state for snapshot: %w", err)
	}
	corridors, err := p.state.ListCorridors(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load corridor state for snapshot: %w", err)
	}

	digest := HashState(anchors, corridors)
	hash := digest[:]

	epoch, err := p.nextEpoch(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxEpochAttempts; attempt++ {
		now := p.now().UTC()
		sub := &snapshot.Submission{
			Epoch:         epoch,
			Hash:          hash,
			FormatVersion: FormatVersion,
			State:         snapshot.StatePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := p.submissions.Reserve(ctx, sub); err != nil {
			return fmt.Errorf("failed to reserve epoch %d: %w", epoch, err)
		}

		chainTimestamp, err := p.submit(ctx, hash, epoch)
		if err == nil {
			if err := p.submissions.MarkSubmitted(ctx, epoch, chainTimestamp); err != nil {
				return fmt.Errorf("snapshot accepted on-chain but recording epoch %d failed: %w", epoch, err)
			}
			p.logger.Info("Snapshot anchored",
				"epoch", epoch,
				"chain_timestamp", chainTimestamp,
				"anchors", len(anchors),
				"corridors", len(corridors),
			)
			return nil
		}

		if abandonErr := p.submissions.MarkAbandoned(ctx, epoch); abandonErr != nil {
			return fmt.Errorf("failed to abandon epoch %d after submission error %v: %w", epoch, err, abandonErr)
		}

		switch {
		case errors.Is(err, ErrDuplicateEpoch):
			p.logger.Warn("Epoch already taken on-chain, re-deriving", "epoch", epoch)
			next, nextErr := p.nextEpoch(ctx)
			if nextErr != nil {
				return nextErr
			}
			if next <= epoch {
				next = epoch + 1
			}
			epoch = next
		case errors.Is(err, ErrInvalidHashSize), errors.Is(err, ErrInvalidEpoch):
			return fmt.Errorf("snapshot rejected by contract validation: %w", err)
		default:
			return fmt.Errorf("failed to submit snapshot for epoch %d: %w", epoch, err)
		}
	}
	return fmt.Errorf("gave up after %d duplicate-epoch rejections", maxEpochAttempts)
}

// nextEpoch derives the next unused epoch from the highest ever reserved
// locally and the highest accepted on-chain.
func (p *Pipeline) nextEpoch(ctx context.Context) (uint64, error) {
	localMax, err := p.submissions.MaxEpoch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read highest reserved epoch: %w", err)
	}

	var chainMax uint64
	latest, err := p.contract.LatestSnapshot(ctx)
	switch {
	case err == nil:
		chainMax = latest.Epoch
	case errors.Is(err, ErrNoSnapshots):
		// first submission ever
	default:
		return 0, fmt.Errorf("failed to read latest on-chain snapshot: %w", err)
	}

	if chainMax > localMax {
		return chainMax + 1, nil
	}
	return localMax + 1, nil
}

// submit pushes (hash, epoch) on-chain, retrying transient failures with an
// exponential backoff bounded by maxRetryElapsed. Contract validation errors
// are permanent.
func (p *Pipeline) submit(ctx context.Context, hash []byte, epoch uint64) (uint64, error) {
	var chainTimestamp uint64
	operation := func() error {
		ts, err := p.contract.SubmitSnapshot(ctx, hash, epoch)
		if err != nil {
			if errors.Is(err, ErrInvalidHashSize) || errors.Is(err, ErrInvalidEpoch) ||
				errors.Is(err, ErrDuplicateEpoch) || errors.Is(err, ErrUnauthorizedSubmitter) {
				return backoff.Permanent(err)
			}
			p.logger.Warn("Snapshot submission failed, will retry", "epoch", epoch, "error", err)
			return err
		}
		chainTimestamp = ts
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = p.maxRetryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return 0, err
	}
	return chainTimestamp, nil
}
