package catalog

import (
	"context"
	"errors"
)

// ErrNotFound signals that the requested discipline, class, or run does not exist.
var ErrNotFound = errors.New("catalog record not found")

// ErrNoChange is returned by an UpdateDiscipline callback to skip the write.
var ErrNoChange = errors.New("no catalog change")

// UpdateFunc receives the stored discipline (nil when absent) and returns the
// record to persist, or ErrNoChange to leave storage untouched.
type UpdateFunc func(existing *Discipline) (Discipline, error)

// Store persists the discipline catalog.
type Store interface {
	// GetAllDisciplines returns every discipline ordered by ID.
	GetAllDisciplines(ctx context.Context) ([]Discipline, error)
	// GetDisciplineByID returns ErrNotFound when id is absent.
	GetDisciplineByID(ctx context.Context, id string) (Discipline, error)
	// UpsertDiscipline inserts or replaces the record keyed by ID.
	UpsertDiscipline(ctx context.Context, d Discipline) error
	// UpdateDiscipline runs fn and writes its result as one atomic step.
	UpdateDiscipline(ctx context.Context, id string, fn UpdateFunc) error
	// RemoveDiscipline deletes the discipline and its classes.
	RemoveDiscipline(ctx context.Context, id string) error
	// UpdateWhatsappGroup sets or clears the curated link of one class.
	UpdateWhatsappGroup(ctx context.Context, update WhatsappUpdate) error
}

// RunStore keeps SyncRun summaries for operators.
type RunStore interface {
	StartRun(ctx context.Context, run SyncRun) error
	CompleteRun(ctx context.Context, run SyncRun) error
	// LatestRun returns ErrNotFound before the first run.
	LatestRun(ctx context.Context) (SyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]SyncRun, error)
}
