package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// SubscriptionEvent represents a subscription lifecycle event
type SubscriptionEvent struct {
	EventType      string          `json:"event_type"` // created, updated, deleted, expired
	OwnerID        string          `json:"owner_id"`
	SubscriptionID string          `json:"subscription_id"`
	UpstreamPoolID string          `json:"upstream_pool_id,omitempty"`
	ProductID      string          `json:"product_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ImportEvent represents a manifest import outcome event
type ImportEvent struct {
	EventType            string          `json:"event_type"` // import.created
	OwnerID              string          `json:"owner_id"`
	ImportRecordID       string          `json:"import_record_id"`
	Status               string          `json:"status"`
	UpstreamConsumerUUID string          `json:"upstream_consumer_uuid,omitempty"`
	Data                 json.RawMessage `json:"data,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
}

// PublishSubscriptionEvent publishes a subscription event to Kafka
func (p *Producer) PublishSubscriptionEvent(ctx context.Context, event *SubscriptionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSubscriptionEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.SubscriptionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "owner_id", Value: []byte(event.OwnerID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish subscription event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":      event.EventType,
		"subscription_id": event.SubscriptionID,
		"owner_id":        event.OwnerID,
	}).Debug("Published subscription event")

	return nil
}

// PublishImportEvent publishes an import outcome event to Kafka
func (p *Producer) PublishImportEvent(ctx context.Context, event *ImportEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishImportEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.OwnerID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "owner_id", Value: []byte(event.OwnerID)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish import event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"owner_id":   event.OwnerID,
		"status":     event.Status,
	}).Debug("Published import event")

	return nil
}

// PublishSubscriptionEvents publishes multiple subscription events in a batch
func (p *Producer) PublishSubscriptionEvents(ctx context.Context, events []*SubscriptionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSubscriptionEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.SubscriptionID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "owner_id", Value: []byte(event.OwnerID)},
				{Key: "schema_version", Value: []byte("1.0")},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish subscription events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published subscription events batch")

	return nil
}
