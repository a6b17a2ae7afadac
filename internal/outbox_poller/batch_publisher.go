// Package outbox_poller drains the ingestion outbox: pending rows are
// published to the Kafka batch topic and marked processed, with attempt
// counting and dead-lettering on repeated failure.
package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stellar-anchor-watch/internal/domain/outbox"
	"github.com/stellar-anchor-watch/internal/domain/shared"
	"github.com/stellar-anchor-watch/internal/platform/messaging/producers"
)

// BatchPublisher publishes one outbox message downstream
type BatchPublisher interface {
	PublishBatch(ctx context.Context, message *outbox.Message) error
}

// KafkaBatchPublisher implements BatchPublisher on the Kafka batch topic.
type KafkaBatchPublisher struct {
	outboxRepo outbox.Repository
	producer   producers.MessagePublisher
	logger     *slog.Logger
}

func NewKafkaBatchPublisher(
	outboxRepo outbox.Repository,
	producer producers.MessagePublisher,
	logger *slog.Logger,
) BatchPublisher {
	return &KafkaBatchPublisher{
		outboxRepo: outboxRepo,
		producer:   producer,
		logger:     logger,
	}
}

// PublishBatch publishes the batch event carried by an outbox message and
// marks the row processed. A payload that cannot be decoded is marked
// FAILED_TO_PUBLISH immediately since retrying cannot fix it.
func (p *KafkaBatchPublisher) PublishBatch(ctx context.Context, message *outbox.Message) error {
	event, err := message.GetBatchEvent()
	if err != nil {
		p.logger.Error("Failed to decode batch event from outbox payload",
			"outbox_id", message.ID, "task", string(message.TaskName), "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status after decode error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("decode payload for outbox %d failed: %w", message.ID, err)
	}

	logger := p.logger
	if event.CorrelationID != "" {
		logger = p.logger.With("correlation_id", event.CorrelationID)
	}

	if err := p.producer.Publish(ctx, string(event.Task), event); err != nil {
		logger.Error("Failed to publish batch event", "outbox_id", message.ID, "task", string(event.Task), "error", err)
		return fmt.Errorf("failed to publish batch event for outbox %d: %w", message.ID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Published batch event but failed to mark outbox row PROCESSED",
			"outbox_id", message.ID, "error", err,
		)
		return fmt.Errorf("batch event for outbox %d published, but marking PROCESSED failed: %w", message.ID, err)
	}

	logger.Info("Batch event published and outbox row marked PROCESSED",
		"outbox_id", message.ID,
		"task", string(event.Task),
		"cursor", event.Cursor,
		"record_count", event.RecordCount,
	)
	return nil
}
