// Package reconciling matches imported subscriptions against an owner's
// persisted subscriptions and applies create, merge and delete operations.
package reconciling

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SubscriptionStore is the persistence surface the engine writes through.
// Mutating calls join the ambient transaction carried by the context.
type SubscriptionStore interface {
	GetByOwnerID(ctx context.Context, ownerID string) ([]models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	Delete(ctx context.Context, id string) error
}

// SubscriptionEvents receives lifecycle events for applied operations.
type SubscriptionEvents interface {
	EmitSubscriptionCreated(ctx context.Context, sub *models.Subscription) error
	EmitSubscriptionUpdated(ctx context.Context, sub *models.Subscription) error
	EmitSubscriptionDeleted(ctx context.Context, sub *models.Subscription) error
}

// Result summarizes one reconciliation run.
type Result struct {
	Created []models.Subscription
	Updated []models.Subscription
	Deleted []models.Subscription
}

// Engine reconciles one owner's subscription set against an imported batch.
type Engine struct {
	store   SubscriptionStore
	emitter SubscriptionEvents
	logger  ectologger.Logger
}

func NewEngine(store SubscriptionStore, emitter SubscriptionEvents, logger ectologger.Logger) *Engine {
	return &Engine{
		store:   store,
		emitter: emitter,
		logger:  logger,
	}
}

// Reconcile plans and applies the tiered match against the owner's current
// subscriptions. The caller owns the transaction boundary; a failed write
// aborts with the plan partially applied inside that still-open transaction.
func (e *Engine) Reconcile(ctx context.Context, ownerID string, imported []models.Subscription) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciling.Engine.Reconcile")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"owner_id":       ownerID,
		"imported_count": len(imported),
	})

	existing, err := e.store.GetByOwnerID(ctx, ownerID)
	if err != nil {
		log.WithError(err).Error("Failed to load existing subscriptions")
		return nil, err
	}

	plan := BuildPlan(existing, imported)
	log.WithFields(map[string]any{
		"creates": len(plan.Creates),
		"merges":  len(plan.Merges),
		"deletes": len(plan.Deletes),
	}).Info("Reconciliation plan built")

	result := &Result{}

	for _, sub := range plan.Creates {
		toCreate := sub
		toCreate.OwnerID = ownerID
		created, err := e.store.Create(ctx, &toCreate)
		if err != nil {
			log.WithError(err).Error("Failed to create subscription")
			return nil, err
		}
		result.Created = append(result.Created, *created)
		e.emitOrWarn(ctx, e.emitter.EmitSubscriptionCreated, created)
	}

	for _, m := range plan.Merges {
		merged := ApplyMerge(m.Existing, m.Imported)
		updated, err := e.store.Update(ctx, &merged)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{
				"subscription_id": m.Existing.ID,
			}).Error("Failed to update subscription")
			return nil, err
		}
		result.Updated = append(result.Updated, *updated)
		e.emitOrWarn(ctx, e.emitter.EmitSubscriptionUpdated, updated)
	}

	for _, sub := range plan.Deletes {
		if err := e.store.Delete(ctx, sub.ID); err != nil {
			log.WithError(err).WithFields(map[string]any{
				"subscription_id": sub.ID,
			}).Error("Failed to delete subscription")
			return nil, err
		}
		deleted := sub
		result.Deleted = append(result.Deleted, deleted)
		e.emitOrWarn(ctx, e.emitter.EmitSubscriptionDeleted, &deleted)
	}

	return result, nil
}

// emitOrWarn logs and continues on event failures; events are best effort and
// must not abort a reconciliation that already wrote successfully.
func (e *Engine) emitOrWarn(ctx context.Context, emit func(context.Context, *models.Subscription) error, sub *models.Subscription) {
	if err := emit(ctx, sub); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": sub.ID,
		}).Warn("Failed to emit subscription event")
	}
}
