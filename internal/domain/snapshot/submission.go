// Package snapshot models the off-chain ledger of snapshot submissions. Every
// epoch the pipeline ever chooses is recorded here first, so epochs stay
// strictly increasing across restarts and a crashed submission is always
// either completed or explicitly abandoned, never silently lost.
package snapshot

import (
	"context"
	"time"
)

// State tracks a chosen epoch through its lifecycle.
type State string

const (
	StatePending   State = "pending"   // epoch reserved, submission in flight
	StateSubmitted State = "submitted" // accepted on-chain
	StateAbandoned State = "abandoned" // deliberately skipped, epoch spent
)

// Submission is one epoch's record.
type Submission struct {
	Epoch          uint64    `json:"epoch"`
	Hash           []byte    `json:"hash"` // 32-byte digest of the serialized aggregate state
	FormatVersion  int       `json:"format_version"`
	State          State     `json:"state"`
	ChainTimestamp uint64    `json:"chain_timestamp"` // set once submitted
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Repository persists the submission ledger.
type Repository interface {
	// Reserve writes a pending row for an epoch. Fails if the epoch exists.
	Reserve(ctx context.Context, sub *Submission) error

	// MarkSubmitted records on-chain acceptance.
	MarkSubmitted(ctx context.Context, epoch uint64, chainTimestamp uint64) error

	// MarkAbandoned records that the epoch was spent without a submission.
	MarkAbandoned(ctx context.Context, epoch uint64) error

	// MaxEpoch returns the highest epoch ever reserved, 0 when none exist.
	MaxEpoch(ctx context.Context) (uint64, error)

	// Latest returns the most recent submitted record, or ErrNoSubmissions.
	Latest(ctx context.Context) (*Submission, error)
}

// ErrNoSubmissions indicates an empty submission ledger
type ErrNoSubmissions struct{}

func (e ErrNoSubmissions) Error() string {
	return "no snapshot submissions recorded"
}
