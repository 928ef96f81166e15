package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/request-service/domain"
	"fadedreams/roadassist/timeline-service/store"
)

// retryDelay is how long a message whose write failed waits before it is
// read again.
const retryDelay = 2 * time.Second

// EntryWriter stores timeline entries.
type EntryWriter interface {
	SaveEntry(ctx context.Context, entry *domain.TimelineEntry) error
}

// SchemaLookup resolves a writer schema by registry id.
type SchemaLookup interface {
	Schema(id int) (avro.Schema, error)
}

// RegistrySchemas fetches writer schemas from the schema registry and keeps
// the parsed result per id.
type RegistrySchemas struct {
	client *srclient.SchemaRegistryClient
	mu     sync.Mutex
	cache  map[int]avro.Schema
}

func NewRegistrySchemas(schemaRegistryURL string) *RegistrySchemas {
	return &RegistrySchemas{
		client: srclient.CreateSchemaRegistryClient(schemaRegistryURL),
		cache:  map[int]avro.Schema{},
	}
}

func (r *RegistrySchemas) Schema(id int) (avro.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache[id]; ok {
		return s, nil
	}
	schemaObj, err := r.client.GetSchema(id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema %d: %w", id, err)
	}
	s, err := avro.Parse(schemaObj.Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %d: %w", id, err)
	}
	r.cache[id] = s
	return s, nil
}

// errSkip marks messages that can never be processed.
var errSkip = errors.New("unprocessable message")

type Consumer struct {
	kafkaConsumer *kafka.Consumer
	schemas       SchemaLookup
	store         EntryWriter
	topic         string
	logger        *slog.Logger
	tracer        trace.Tracer
}

func NewConsumer(bootstrapServers, topic, groupID string, schemas SchemaLookup, entries EntryWriter, logger *slog.Logger) (*Consumer, error) {
	config := &kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false, // Disable auto-commit to control commits
	}
	c, err := kafka.NewConsumer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return newConsumer(c, topic, schemas, entries, logger), nil
}

func newConsumer(c *kafka.Consumer, topic string, schemas SchemaLookup, entries EntryWriter, logger *slog.Logger) *Consumer {
	return &Consumer{
		kafkaConsumer: c,
		schemas:       schemas,
		store:         entries,
		topic:         topic,
		logger:        logger,
		tracer:        otel.Tracer("timeline-service"),
	}
}

// Start consumes until ctx is done. Offsets are committed only after the
// entry is stored; a failed write is retried from the same offset.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.kafkaConsumer.SubscribeTopics([]string{c.topic}, nil); err != nil {
		c.logger.Error("Failed to subscribe to topic", "topic", c.topic, "error", err)
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	c.logger.Info("Subscribed to Kafka topic", "topic", c.topic)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Context canceled, stopping Kafka consumer")
			return ctx.Err()
		default:
		}

		msg, err := c.kafkaConsumer.ReadMessage(time.Second)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.IsTimeout() {
				continue
			}
			c.logger.Error("Error reading Kafka message", "error", err)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if !errors.Is(err, errSkip) {
				c.logger.Error("Failed to store timeline entry, will retry", "offset", msg.TopicPartition.Offset, "error", err)
				if err := c.kafkaConsumer.Seek(msg.TopicPartition, 0); err != nil {
					c.logger.Error("Failed to rewind partition", "partition", msg.TopicPartition.Partition, "error", err)
				}
				select {
				case <-ctx.Done():
				case <-time.After(retryDelay):
				}
				continue
			}
			c.logger.Error("Skipping unprocessable message", "offset", msg.TopicPartition.Offset, "error", err)
		}

		if _, err := c.kafkaConsumer.CommitMessage(msg); err != nil {
			c.logger.Error("Failed to commit Kafka offset",
				"topic", *msg.TopicPartition.Topic,
				"partition", msg.TopicPartition.Partition,
				"offset", msg.TopicPartition.Offset,
				"error", err)
		}
	}
}

// handle decodes msg and stores its timeline entry. Errors wrapping errSkip
// are permanent.
func (c *Consumer) handle(ctx context.Context, msg *kafka.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, events.NewHeaderCarrier(msg))
	ctx, span := c.tracer.Start(ctx, "ProcessKafkaMessage")
	defer span.End()

	if msg.TopicPartition.Topic != nil {
		span.SetAttributes(attribute.String("topic", *msg.TopicPartition.Topic))
	}
	span.SetAttributes(
		attribute.Int("partition", int(msg.TopicPartition.Partition)),
		attribute.Int64("offset", int64(msg.TopicPartition.Offset)),
	)

	schemaID, err := events.SchemaID(msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid message framing")
		return fmt.Errorf("%w: %w", errSkip, err)
	}
	span.SetAttributes(attribute.Int("schemaID", schemaID))

	schema, err := c.schemas.Schema(schemaID)
	if err != nil {
		// The registry may be briefly unavailable, so this is retried.
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to fetch schema")
		return err
	}

	event, err := events.Decode(schema, msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode event")
		return fmt.Errorf("%w: %w", errSkip, err)
	}
	if event.EventID == "" || event.RequestDocID == "" {
		span.SetStatus(codes.Error, "Incomplete event")
		return fmt.Errorf("%w: event without id or request", errSkip)
	}

	if err := c.store.SaveEntry(ctx, store.FromEvent(event)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save timeline entry")
		return err
	}

	span.SetAttributes(attribute.String("eventID", event.EventID), attribute.String("eventType", event.EventType))
	c.logger.Info("Recorded timeline entry", "eventID", event.EventID, "eventType", event.EventType, "requestID", event.RequestID)
	return nil
}

// Close shuts down the Kafka consumer
func (c *Consumer) Close() {
	c.logger.Info("Closing Kafka consumer")
	c.kafkaConsumer.Close()
}
