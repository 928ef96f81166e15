package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/riferrei/srclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/request-service/domain"
)

type Producer struct {
	kafkaProducer *kafka.Producer
	SchemaID      int
	topic         string
	logger        *slog.Logger
	tracer        trace.Tracer
}

func NewProducer(bootstrapServers, schemaRegistryURL, topic string, logger *slog.Logger) (*Producer, error) {
	config := &kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"compression.type":   "snappy",
		"enable.idempotence": true,
	}
	p, err := kafka.NewProducer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	// Register schema
	srClient := srclient.CreateSchemaRegistryClient(schemaRegistryURL)
	schemaObj, err := srClient.CreateSchema(topic+"-value", events.SchemaJSON, srclient.Avro)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to register schema: %w", err)
	}
	logger.Info("Schema registered", "schemaID", schemaObj.ID(), "subject", topic+"-value")

	return &Producer{
		kafkaProducer: p,
		SchemaID:      schemaObj.ID(),
		topic:         topic,
		logger:        logger,
		tracer:        otel.Tracer("request-service"),
	}, nil
}

// PublishOutboxEvent publishes an outbox event to Kafka, keyed by request so
// that events of one request stay ordered.
func (p *Producer) PublishOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	ctx, span := p.tracer.Start(ctx, "PublishOutboxEvent")
	defer span.End()

	payload, err := events.Encode(events.Schema, p.SchemaID, &event.Event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to encode event")
		return err
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Event.RequestDocID),
		Value:          payload,
		Headers:        []kafka.Header{{Key: events.HeaderEventType, Value: []byte(event.EventType)}},
	}
	otel.GetTextMapPropagator().Inject(ctx, events.NewHeaderCarrier(msg))

	deliveryChan := make(chan kafka.Event, 1)
	if err := p.kafkaProducer.Produce(msg, deliveryChan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to produce message")
		p.logger.Error("Failed to produce message", "eventID", event.ID, "error", err)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	// Wait for delivery report
	var m *kafka.Message
	select {
	case e := <-deliveryChan:
		m = e.(*kafka.Message)
	case <-ctx.Done():
		return ctx.Err()
	}
	if m.TopicPartition.Error != nil {
		span.RecordError(m.TopicPartition.Error)
		span.SetStatus(codes.Error, "Delivery failed")
		p.logger.Error("Delivery failed", "eventID", event.ID, "error", m.TopicPartition.Error)
		return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
	}
	p.logger.Info("Published outbox event",
		"eventID", event.ID,
		"eventType", event.EventType,
		"topic", *m.TopicPartition.Topic,
		"partition", m.TopicPartition.Partition,
		"offset", m.TopicPartition.Offset)
	span.SetAttributes(
		attribute.String("eventID", event.ID),
		attribute.String("topic", *m.TopicPartition.Topic),
		attribute.Int("partition", int(m.TopicPartition.Partition)),
		attribute.Int64("offset", int64(m.TopicPartition.Offset)),
	)
	return nil
}

// Close flushes pending deliveries and shuts down the Kafka producer.
func (p *Producer) Close() {
	p.logger.Info("Closing Kafka producer")
	p.kafkaProducer.Flush(5000)
	p.kafkaProducer.Close()
}
