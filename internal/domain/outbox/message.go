// Package outbox implements the transactional outbox used to hand committed
// ingestion batches to the downstream consumers. A row is written in the same
// transaction as the records it announces; the poller publishes it to Kafka
// and marks it processed.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/stellar-anchor-watch/internal/domain/shared"
)

// Message stores one batch event awaiting publication.
type Message struct {
	ID            int64               `json:"id"`
	TaskName      shared.TaskName     `json:"task_name"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

// NewMessage wraps a batch event for the outbox.
func NewMessage(event *shared.BatchEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &Message{
		TaskName:  event.Task,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// GetBatchEvent extracts the batch event from the payload
func (m *Message) GetBatchEvent() (*shared.BatchEvent, error) {
	var event shared.BatchEvent
	if err := json.Unmarshal(m.Payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
