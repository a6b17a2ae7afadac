package anchoring

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

type contractState struct {
	mu      sync.Mutex
	byEpoch map[uint64]*SnapshotRecord
	byHash  map[string]bool
	latest  uint64
	now     func() time.Time
}

// InMemoryContract implements the snapshot contract with the same validation
// rules as the deployed one. Used by tests and local mode.
type InMemoryContract struct {
	authorized string
	submitter  string
	state      *contractState
}

// NewInMemoryContract returns a contract handle acting as the authorized
// submitter.
func NewInMemoryContract(authorizedSubmitter string) *InMemoryContract {
	return &InMemoryContract{
		authorized: authorizedSubmitter,
		submitter:  authorizedSubmitter,
		state: &contractState{
			byEpoch: make(map[uint64]*SnapshotRecord),
			byHash:  make(map[string]bool),
			now:     time.Now,
		},
	}
}

// As returns a handle over the same contract state acting as a different
// submitter. Lets tests exercise the authorization check.
func (c *InMemoryContract) As(submitter string) *InMemoryContract {
	return &InMemoryContract{
		authorized: c.authorized,
		submitter:  submitter,
		state:      c.state,
	}
}

func (c *InMemoryContract) SubmitSnapshot(_ context.Context, hash []byte, epoch uint64) (uint64, error) {
	if len(hash) != HashSize {
		return 0, ErrInvalidHashSize
	}
	if epoch == 0 {
		return 0, ErrInvalidEpoch
	}
	if c.submitter != c.authorized {
		return 0, ErrUnauthorizedSubmitter
	}

	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEpoch[epoch]; exists {
		return 0, ErrDuplicateEpoch
	}

	stored := make([]byte, HashSize)
	copy(stored, hash)
	record := &SnapshotRecord{
		Hash:           stored,
		Epoch:          epoch,
		ChainTimestamp: uint64(s.now().Unix()),
	}
	s.byEpoch[epoch] = record
	s.byHash[hex.EncodeToString(stored)] = true
	if epoch > s.latest {
		s.latest = epoch
	}
	return record.ChainTimestamp, nil
}

func (c *InMemoryContract) GetSnapshot(_ context.Context, epoch uint64) ([]byte, error) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.byEpoch[epoch]
	if !exists {
		return nil, ErrSnapshotNotFound
	}
	hash := make([]byte, HashSize)
	copy(hash, record.Hash)
	return hash, nil
}

func (c *InMemoryContract) LatestSnapshot(_ context.Context) (*SnapshotRecord, error) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.byEpoch[s.latest]
	if !exists {
		return nil, ErrNoSnapshots
	}
	copied := *record
	return &copied, nil
}

func (c *InMemoryContract) VerifySnapshot(_ context.Context, hash []byte) (bool, error) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byHash[hex.EncodeToString(hash)], nil
}

var _ SnapshotContract = (*InMemoryContract)(nil)
