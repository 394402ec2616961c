package reconciling

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeStore struct {
	subs      map[string]models.Subscription
	nextID    int
	createErr error
}

func newFakeStore(existing ...models.Subscription) *fakeStore {
	s := &fakeStore{subs: make(map[string]models.Subscription)}
	for _, sub := range existing {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *fakeStore) GetByOwnerID(_ context.Context, ownerID string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subs {
		if sub.OwnerID == ownerID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakeStore) Create(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	created := *sub
	created.ID = fmt.Sprintf("created-%d", s.nextID)
	s.subs[created.ID] = created
	return &created, nil
}

func (s *fakeStore) Update(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if _, ok := s.subs[sub.ID]; !ok {
		return nil, errors.New("not found")
	}
	s.subs[sub.ID] = *sub
	return sub, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	delete(s.subs, id)
	return nil
}

type fakeEmitter struct {
	created []string
	updated []string
	deleted []string
	err     error
}

func (e *fakeEmitter) EmitSubscriptionCreated(_ context.Context, sub *models.Subscription) error {
	e.created = append(e.created, sub.ID)
	return e.err
}

func (e *fakeEmitter) EmitSubscriptionUpdated(_ context.Context, sub *models.Subscription) error {
	e.updated = append(e.updated, sub.ID)
	return e.err
}

func (e *fakeEmitter) EmitSubscriptionDeleted(_ context.Context, sub *models.Subscription) error {
	e.deleted = append(e.deleted, sub.ID)
	return e.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestEngine_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("applies creates merges and deletes", func(t *testing.T) {
		store := newFakeStore(
			managedSub("sub-1", "pool-1", "ent-1", 10),
			managedSub("sub-2", "pool-2", "ent-2", 20),
		)
		emitter := &fakeEmitter{}
		engine := NewEngine(store, emitter, testLogger())

		imported := []models.Subscription{
			importedSub("pool-1", "ent-1", 15),
			importedSub("pool-3", "ent-3", 5),
		}

		result, err := engine.Reconcile(ctx, "owner-1", imported)
		require.NoError(t, err)

		assert.Len(t, result.Created, 1)
		assert.Len(t, result.Updated, 1)
		assert.Len(t, result.Deleted, 1)

		// created rows get the owner stamped on
		assert.Equal(t, "owner-1", result.Created[0].OwnerID)
		assert.Equal(t, int64(15), result.Updated[0].Quantity)
		assert.Equal(t, "sub-2", result.Deleted[0].ID)

		assert.Len(t, emitter.created, 1)
		assert.Equal(t, []string{"sub-1"}, emitter.updated)
		assert.Equal(t, []string{"sub-2"}, emitter.deleted)
	})

	t.Run("event failures do not abort the run", func(t *testing.T) {
		store := newFakeStore()
		emitter := &fakeEmitter{err: errors.New("broker down")}
		engine := NewEngine(store, emitter, testLogger())

		result, err := engine.Reconcile(ctx, "owner-1", []models.Subscription{
			importedSub("pool-1", "ent-1", 5),
		})
		require.NoError(t, err)
		assert.Len(t, result.Created, 1)
	})

	t.Run("store failure aborts", func(t *testing.T) {
		store := newFakeStore()
		store.createErr = errors.New("insert failed")
		engine := NewEngine(store, &fakeEmitter{}, testLogger())

		_, err := engine.Reconcile(ctx, "owner-1", []models.Subscription{
			importedSub("pool-1", "ent-1", 5),
		})
		assert.Error(t, err)
	})
}
