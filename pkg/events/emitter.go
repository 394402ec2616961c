// Package events handles event emission for subscription and import lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles event emission for Fern
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitSubscriptionCreated emits a subscription created event
func (e *Emitter) EmitSubscriptionCreated(ctx context.Context, sub *models.Subscription) error {
	return e.emitSubscription(ctx, string(EventTypeSubscriptionCreated), sub)
}

// EmitSubscriptionUpdated emits a subscription updated event
func (e *Emitter) EmitSubscriptionUpdated(ctx context.Context, sub *models.Subscription) error {
	return e.emitSubscription(ctx, string(EventTypeSubscriptionUpdated), sub)
}

// EmitSubscriptionDeleted emits a subscription deleted event
func (e *Emitter) EmitSubscriptionDeleted(ctx context.Context, sub *models.Subscription) error {
	return e.emitSubscription(ctx, string(EventTypeSubscriptionDeleted), sub)
}

// EmitSubscriptionExpired emits an expired subscription warning event
func (e *Emitter) EmitSubscriptionExpired(ctx context.Context, sub *models.Subscription) error {
	return e.emitSubscription(ctx, string(EventTypeSubscriptionExpired), sub)
}

func (e *Emitter) emitSubscription(ctx context.Context, eventType string, sub *models.Subscription) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emitSubscription")
	defer span.End()

	data, _ := json.Marshal(sub)

	upstreamPoolID := ""
	if sub.UpstreamPoolID != nil {
		upstreamPoolID = *sub.UpstreamPoolID
	}

	event := &kafka.SubscriptionEvent{
		EventType:      eventType,
		OwnerID:        sub.OwnerID,
		SubscriptionID: sub.ID,
		UpstreamPoolID: upstreamPoolID,
		ProductID:      sub.ProductID,
		Data:           data,
	}

	if err := e.producer.PublishSubscriptionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}

	return nil
}

// EmitImportCreated emits an event recording a completed import attempt
func (e *Emitter) EmitImportCreated(ctx context.Context, record *models.ImportRecord) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitImportCreated")
	defer span.End()

	data, _ := json.Marshal(record)

	event := &kafka.ImportEvent{
		EventType:            string(EventTypeImportCreated),
		OwnerID:              record.OwnerID,
		ImportRecordID:       record.ID,
		Status:               string(record.Status),
		UpstreamConsumerUUID: record.UpstreamConsumerUUID,
		Data:                 data,
	}

	if err := e.producer.PublishImportEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit import.created event")
		return err
	}

	return nil
}
