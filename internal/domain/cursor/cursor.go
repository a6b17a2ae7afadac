// Package cursor tracks per-task ingestion progress. A cursor is the last
// successfully committed paging position in the upstream ledger feed; it never
// regresses and is advanced only in the transaction that persists the records
// it unlocks.
package cursor

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// Cursor is one task's persisted position in the upstream feed.
type Cursor struct {
	TaskName   shared.TaskName `json:"task_name"`
	LastCursor string          `json:"last_cursor"` // Horizon paging token; empty means start of feed
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Repository manages cursor persistence. Advance must reject regressions:
// the stored value only ever moves forward.
type Repository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx pgx.Tx) Repository

	// Get returns the cursor for a task, or ErrCursorNotFound.
	Get(ctx context.Context, task shared.TaskName) (*Cursor, error)

	// Ensure creates the cursor row at the feed start if it does not exist.
	Ensure(ctx context.Context, task shared.TaskName) error

	// Advance moves the cursor forward. Implementations must guarantee
	// monotonicity: a value at or behind the stored one is a no-op.
	Advance(ctx context.Context, task shared.TaskName, newCursor string) error
}

// ErrCursorNotFound indicates a task without a cursor row
type ErrCursorNotFound struct {
	Task shared.TaskName
}

func (e ErrCursorNotFound) Error() string {
	return "ingestion cursor not found for task: " + string(e.Task)
}

// Is implements the errors.Is interface for ErrCursorNotFound
func (e ErrCursorNotFound) Is(target error) bool {
	t, ok := target.(ErrCursorNotFound)
	if !ok {
		return false
	}
	if t.Task == "" {
		return true
	}
	return e.Task == t.Task
}
