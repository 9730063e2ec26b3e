package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// CatalogStore provides an in-memory catalog for development/testing.
type CatalogStore struct {
	mu          sync.RWMutex
	disciplines map[string]catalog.Discipline
}

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{disciplines: make(map[string]catalog.Discipline)}
}

// GetAllDisciplines returns deep copies ordered by ID.
func (s *CatalogStore) GetAllDisciplines(_ context.Context) ([]catalog.Discipline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Discipline, 0, len(s.disciplines))
	for _, d := range s.disciplines {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetDisciplineByID fetches one discipline.
func (s *CatalogStore) GetDisciplineByID(_ context.Context, id string) (catalog.Discipline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disciplines[id]
	if !ok {
		return catalog.Discipline{}, catalog.ErrNotFound
	}
	return d.Clone(), nil
}

// UpsertDiscipline inserts or replaces a discipline.
func (s *CatalogStore) UpsertDiscipline(_ context.Context, d catalog.Discipline) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disciplines[d.ID] = d.Clone()
	return nil
}

// UpdateDiscipline runs fn under the store lock.
func (s *CatalogStore) UpdateDiscipline(_ context.Context, id string, fn catalog.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *catalog.Discipline
	if d, ok := s.disciplines[id]; ok {
		c := d.Clone()
		existing = &c
	}
	next, err := fn(existing)
	if errors.Is(err, catalog.ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	if next.ID != id {
		return fmt.Errorf("update of %s returned discipline %s", id, next.ID)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.disciplines[id] = next.Clone()
	return nil
}

// RemoveDiscipline deletes a discipline and its classes.
func (s *CatalogStore) RemoveDiscipline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disciplines[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(s.disciplines, id)
	return nil
}

// UpdateWhatsappGroup sets or clears the link of one class.
func (s *CatalogStore) UpdateWhatsappGroup(_ context.Context, update catalog.WhatsappUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disciplines[update.DisciplineID]
	if !ok {
		return catalog.ErrNotFound
	}
	d = d.Clone()
	for i := range d.Classes {
		if d.Classes[i].Number != update.ClassNumber {
			continue
		}
		d.Classes[i].WhatsappGroup = nil
		if update.WhatsappGroup != nil {
			link := *update.WhatsappGroup
			d.Classes[i].WhatsappGroup = &link
		}
		s.disciplines[d.ID] = d
		return nil
	}
	return catalog.ErrNotFound
}
