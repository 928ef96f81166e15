package kafka

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fadedreams/roadassist/request-service/domain"
)

const (
	outboxInterval  = 5 * time.Second
	outboxBatchSize = 100
)

// Publisher delivers one outbox event.
type Publisher interface {
	PublishOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
}

// OutboxProcessor processes events from the outbox collection
type OutboxProcessor struct {
	repo      domain.OutboxRepository
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
}

// NewOutboxProcessor creates a new OutboxProcessor
func NewOutboxProcessor(repo domain.OutboxRepository, publisher Publisher, logger *slog.Logger) *OutboxProcessor {
	return &OutboxProcessor{
		repo:      repo,
		publisher: publisher,
		interval:  outboxInterval,
		logger:    logger,
	}
}

// Start begins processing outbox events
func (p *OutboxProcessor) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping outbox processor")
			return ctx.Err()
		case <-ticker.C:
			if err := p.processOutboxEvents(ctx); err != nil {
				p.logger.Error("Failed to process outbox events", "error", err)
			}
		}
	}
}

// processOutboxEvents publishes unprocessed events oldest first. An event that
// fails to publish stops the batch so later events of the same request are
// not delivered ahead of it.
func (p *OutboxProcessor) processOutboxEvents(ctx context.Context) error {
	ctx, span := otel.Tracer("request-service").Start(ctx, "ProcessOutboxEvents")
	defer span.End()

	events, err := p.repo.GetUnprocessedOutboxEvents(ctx, outboxBatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get unprocessed outbox events")
		return err
	}
	if len(events) == 0 {
		return nil
	}

	processed := 0
	for _, event := range events {
		if err := p.publisher.PublishOutboxEvent(ctx, event); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to publish outbox event")
			p.logger.Error("Failed to publish outbox event", "eventID", event.ID, "error", err)
			break
		}

		if err := p.repo.MarkOutboxEventProcessed(ctx, event.ID); err != nil {
			// Redelivery is harmless: consumers dedupe by event id.
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to mark outbox event as processed")
			p.logger.Error("Failed to mark outbox event as processed", "eventID", event.ID, "error", err)
			continue
		}
		processed++
	}

	span.SetAttributes(attribute.Int("processedEventCount", processed))
	p.logger.Debug("Processed outbox batch", "fetched", len(events), "processed", processed)
	return nil
}
