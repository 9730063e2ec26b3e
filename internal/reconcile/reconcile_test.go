package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/storage/memory"
)

func strPtr(s string) *string { return &s }

// flakyStore fails the first N writes before delegating.
type flakyStore struct {
	*memory.CatalogStore
	failWrites  atomic.Int32
	failRemoves atomic.Int32
	writes      atomic.Int32
}

func (s *flakyStore) UpdateDiscipline(ctx context.Context, id string, fn catalog.UpdateFunc) error {
	s.writes.Add(1)
	if s.failWrites.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.CatalogStore.UpdateDiscipline(ctx, id, fn)
}

func (s *flakyStore) RemoveDiscipline(ctx context.Context, id string) error {
	if s.failRemoves.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.CatalogStore.RemoveDiscipline(ctx, id)
}

func newReconciler(store catalog.Store) *Reconciler {
	return New(store, Options{MaxRetries: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}, zap.NewNop())
}

func snapshot() []catalog.Discipline {
	return []catalog.Discipline{
		{ID: "IME01", Name: "Calculo", Classes: []catalog.Class{{Number: 1, Schedule: "SEG", Professor: "Ana", Vacancies: 40}}},
		{ID: "IME02", Name: "Algebra", Classes: []catalog.Class{{Number: 1, Professor: "Bia"}, {Number: 2, Professor: "Caio"}}},
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	r := newReconciler(store)
	ctx := context.Background()

	changed, err := r.Apply(ctx, snapshot())
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	first, err := store.GetAllDisciplines(ctx)
	require.NoError(t, err)

	changed, err = r.Apply(ctx, snapshot())
	require.NoError(t, err)
	assert.Zero(t, changed)
	second, err := store.GetAllDisciplines(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReconcile_PreservesWhatsappGroup(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertDiscipline(ctx, catalog.Discipline{
		ID:      "IME01",
		Name:    "Calculo",
		Classes: []catalog.Class{{Number: 1, Professor: "Ana", WhatsappGroup: strPtr("linkA")}},
	}))

	res, err := newReconciler(store).Reconcile(ctx, "IME01", Succeeded(catalog.Discipline{
		ID:      "IME01",
		Name:    "Calculo",
		Classes: []catalog.Class{{Number: 1, Professor: "Davi"}},
	}))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Created)

	d, err := store.GetDisciplineByID(ctx, "IME01")
	require.NoError(t, err)
	c, ok := d.Class(1)
	require.True(t, ok)
	assert.Equal(t, "Davi", c.Professor)
	require.NotNil(t, c.WhatsappGroup)
	assert.Equal(t, "linkA", *c.WhatsappGroup)
	assert.False(t, d.UpdatedAt.IsZero())
}

func TestReconcile_FailureLeavesRecordUntouched(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	r := newReconciler(store)
	ctx := context.Background()
	_, err := r.Apply(ctx, snapshot())
	require.NoError(t, err)
	before, err := store.GetDisciplineByID(ctx, "IME02")
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "IME02", Failed(errors.New("class table missing")))
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = r.Reconcile(ctx, "IME01", Succeeded(catalog.Discipline{ID: "IME01", Name: "Calculo II"}))
	require.NoError(t, err)
	assert.True(t, res.Changed)

	after, err := store.GetDisciplineByID(ctx, "IME02")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReconcile_RetriesTransientWrites(t *testing.T) {
	t.Parallel()

	store := &flakyStore{CatalogStore: memory.NewCatalogStore()}
	store.failWrites.Store(2)

	res, err := newReconciler(store).Reconcile(context.Background(), "IME01", Succeeded(snapshot()[0]))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int32(3), store.writes.Load())
}

func TestReconcile_ExhaustedRetriesKeepPriorRecord(t *testing.T) {
	t.Parallel()

	store := &flakyStore{CatalogStore: memory.NewCatalogStore()}
	ctx := context.Background()
	require.NoError(t, store.UpsertDiscipline(ctx, snapshot()[0]))
	store.failWrites.Store(10)

	_, err := newReconciler(store).Reconcile(ctx, "IME01", Succeeded(catalog.Discipline{ID: "IME01", Name: "Renamed"}))
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, 3, persistErr.Attempts)
	assert.Equal(t, catalog.FailurePersistence, catalog.KindOf(err))

	d, err := store.GetDisciplineByID(ctx, "IME01")
	require.NoError(t, err)
	assert.Equal(t, "Calculo", d.Name)
}

func TestReconcile_RejectsMismatchedOrInvalid(t *testing.T) {
	t.Parallel()

	r := newReconciler(memory.NewCatalogStore())
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "IME01", Succeeded(catalog.Discipline{ID: "IME09"}))
	require.Error(t, err)

	_, err = r.Reconcile(ctx, "IME01", Succeeded(catalog.Discipline{ID: "IME01", Classes: []catalog.Class{{Number: 1}, {Number: 1}}}))
	require.ErrorContains(t, err, "duplicate class number")
}

func TestFinalizeRun_ConditionalStaleness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	seen := map[string]struct{}{"IME01": {}}

	t.Run("incomplete enumeration keeps records", func(t *testing.T) {
		t.Parallel()
		store := memory.NewCatalogStore()
		r := newReconciler(store)
		_, err := r.Apply(ctx, snapshot())
		require.NoError(t, err)

		removed, err := r.FinalizeRun(ctx, false, seen)
		require.NoError(t, err)
		assert.Empty(t, removed)
		_, err = store.GetDisciplineByID(ctx, "IME02")
		require.NoError(t, err)
	})

	t.Run("complete enumeration removes absent", func(t *testing.T) {
		t.Parallel()
		store := memory.NewCatalogStore()
		r := newReconciler(store)
		_, err := r.Apply(ctx, snapshot())
		require.NoError(t, err)

		removed, err := r.FinalizeRun(ctx, true, seen)
		require.NoError(t, err)
		assert.Equal(t, []string{"IME02"}, removed)
		_, err = store.GetDisciplineByID(ctx, "IME02")
		require.ErrorIs(t, err, catalog.ErrNotFound)
		_, err = store.GetDisciplineByID(ctx, "IME01")
		require.NoError(t, err)
	})

	t.Run("empty enumeration removes nothing", func(t *testing.T) {
		t.Parallel()
		store := memory.NewCatalogStore()
		r := newReconciler(store)
		_, err := r.Apply(ctx, snapshot())
		require.NoError(t, err)

		removed, err := r.FinalizeRun(ctx, true, map[string]struct{}{})
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	t.Run("removal retries", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{CatalogStore: memory.NewCatalogStore()}
		r := newReconciler(store)
		_, err := r.Apply(ctx, snapshot())
		require.NoError(t, err)
		store.failRemoves.Store(1)

		removed, err := r.FinalizeRun(ctx, true, seen)
		require.NoError(t, err)
		assert.Equal(t, []string{"IME02"}, removed)
	})
}
