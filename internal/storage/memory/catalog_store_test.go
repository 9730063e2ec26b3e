package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

func strPtr(s string) *string { return &s }

func seed(t *testing.T, s *CatalogStore) {
	t.Helper()
	require.NoError(t, s.UpsertDiscipline(context.Background(), catalog.Discipline{
		ID:   "IME01",
		Name: "Calculo",
		Classes: []catalog.Class{
			{Number: 1, Professor: "Ana", WhatsappGroup: strPtr("linkA")},
			{Number: 2, Professor: "Bia"},
		},
	}))
}

func TestCatalogStore_ReadsAreCopies(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	seed(t, store)

	d, err := store.GetDisciplineByID(context.Background(), "IME01")
	require.NoError(t, err)
	*d.Classes[0].WhatsappGroup = "mutated"
	d.Classes[1].Professor = "mutated"

	again, err := store.GetDisciplineByID(context.Background(), "IME01")
	require.NoError(t, err)
	assert.Equal(t, "linkA", *again.Classes[0].WhatsappGroup)
	assert.Equal(t, "Bia", again.Classes[1].Professor)
}

func TestCatalogStore_NotFound(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	ctx := context.Background()
	_, err := store.GetDisciplineByID(ctx, "nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.ErrorIs(t, store.RemoveDiscipline(ctx, "nope"), catalog.ErrNotFound)
	require.ErrorIs(t, store.UpdateWhatsappGroup(ctx, catalog.WhatsappUpdate{DisciplineID: "nope"}), catalog.ErrNotFound)

	seed(t, store)
	require.ErrorIs(t, store.UpdateWhatsappGroup(ctx, catalog.WhatsappUpdate{DisciplineID: "IME01", ClassNumber: 9}), catalog.ErrNotFound)
}

func TestCatalogStore_UpdateWhatsappGroup(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdateWhatsappGroup(ctx, catalog.WhatsappUpdate{DisciplineID: "IME01", ClassNumber: 2, WhatsappGroup: strPtr("linkB")}))
	require.NoError(t, store.UpdateWhatsappGroup(ctx, catalog.WhatsappUpdate{DisciplineID: "IME01", ClassNumber: 1}))

	d, err := store.GetDisciplineByID(ctx, "IME01")
	require.NoError(t, err)
	c1, _ := d.Class(1)
	c2, _ := d.Class(2)
	assert.Nil(t, c1.WhatsappGroup)
	require.NotNil(t, c2.WhatsappGroup)
	assert.Equal(t, "linkB", *c2.WhatsappGroup)
}

func TestCatalogStore_UpdateDiscipline(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	ctx := context.Background()

	require.NoError(t, store.UpdateDiscipline(ctx, "IME03", func(existing *catalog.Discipline) (catalog.Discipline, error) {
		assert.Nil(t, existing)
		return catalog.Discipline{ID: "IME03", Name: "Fisica"}, nil
	}))
	require.NoError(t, store.UpdateDiscipline(ctx, "IME03", func(existing *catalog.Discipline) (catalog.Discipline, error) {
		require.NotNil(t, existing)
		return catalog.Discipline{}, catalog.ErrNoChange
	}))

	boom := errors.New("boom")
	require.ErrorIs(t, store.UpdateDiscipline(ctx, "IME03", func(*catalog.Discipline) (catalog.Discipline, error) {
		return catalog.Discipline{}, boom
	}), boom)
	require.Error(t, store.UpdateDiscipline(ctx, "IME03", func(*catalog.Discipline) (catalog.Discipline, error) {
		return catalog.Discipline{ID: "other"}, nil
	}))

	d, err := store.GetDisciplineByID(ctx, "IME03")
	require.NoError(t, err)
	assert.Equal(t, "Fisica", d.Name)
}

func TestCatalogStore_ConcurrentUpdatesDoNotLoseLinks(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	seed(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.UpdateDiscipline(ctx, "IME01", func(existing *catalog.Discipline) (catalog.Discipline, error) {
				return catalog.Merge(existing, catalog.Discipline{ID: "IME01", Name: "Calculo", Classes: []catalog.Class{{Number: 1}, {Number: 2}}}), nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = store.UpdateWhatsappGroup(ctx, catalog.WhatsappUpdate{DisciplineID: "IME01", ClassNumber: 2, WhatsappGroup: strPtr("linkB")})
		}()
	}
	wg.Wait()

	d, err := store.GetDisciplineByID(ctx, "IME01")
	require.NoError(t, err)
	c2, _ := d.Class(2)
	require.NotNil(t, c2.WhatsappGroup)
	assert.Equal(t, "linkB", *c2.WhatsappGroup)
}

func TestCatalogStore_GetAllSorted(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	ctx := context.Background()
	for _, id := range []string{"C", "A", "B"} {
		require.NoError(t, store.UpsertDiscipline(ctx, catalog.Discipline{ID: id}))
	}
	all, err := store.GetAllDisciplines(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].ID)
	assert.Equal(t, "C", all[2].ID)

	require.Error(t, store.UpsertDiscipline(ctx, catalog.Discipline{ID: ""}))
}
