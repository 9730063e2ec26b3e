package reconcile

import (
	"fmt"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// PersistenceError is a catalog write that failed after its retry budget.
type PersistenceError struct {
	DisciplineID string
	Attempts     int
	Err          error
}

func (e *PersistenceError) Error() string {
	if e.DisciplineID == "" {
		return fmt.Sprintf("catalog persistence failed: %v", e.Err)
	}
	return fmt.Sprintf("persist discipline %s failed after %d attempts: %v", e.DisciplineID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FailureKind implements catalog.Classifier.
func (e *PersistenceError) FailureKind() catalog.FailureKind { return catalog.FailurePersistence }
