package anchoring

import (
	"context"
	"errors"
)

// HashSize is the exact digest length the contract accepts.
const HashSize = 32

// Contract validation errors, mirrored one to one by every implementation.
var (
	ErrInvalidHashSize       = errors.New("snapshot hash must be exactly 32 bytes")
	ErrInvalidEpoch          = errors.New("snapshot epoch must be greater than zero")
	ErrDuplicateEpoch        = errors.New("a snapshot already exists for this epoch")
	ErrSnapshotNotFound      = errors.New("no snapshot exists for this epoch")
	ErrNoSnapshots           = errors.New("no snapshots have been submitted")
	ErrUnauthorizedSubmitter = errors.New("submitter is not authorized for this contract")
)

// SnapshotRecord is one accepted on-chain snapshot.
type SnapshotRecord struct {
	Hash           []byte
	Epoch          uint64
	ChainTimestamp uint64
}

// SnapshotContract is the on-chain snapshot ledger. SubmitSnapshot enforces
// the exact hash size, a nonzero epoch, and one snapshot per epoch; accepted
// records are immutable.
type SnapshotContract interface {
	// SubmitSnapshot commits (hash, epoch) and returns the chain timestamp.
	SubmitSnapshot(ctx context.Context, hash []byte, epoch uint64) (uint64, error)

	// GetSnapshot returns the hash recorded for an epoch.
	GetSnapshot(ctx context.Context, epoch uint64) ([]byte, error)

	// LatestSnapshot returns the highest-epoch record.
	LatestSnapshot(ctx context.Context) (*SnapshotRecord, error)

	// VerifySnapshot reports whether the hash was ever accepted.
	VerifySnapshot(ctx context.Context, hash []byte) (bool, error)
}
