package parser

import (
	"fmt"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// ParseError signals portal schema drift. It is scoped to one discipline, or
// to the listing when DisciplineID is empty.
type ParseError struct {
	DisciplineID string
	Reason       string
	Err          error
}

func (e *ParseError) Error() string {
	scope := "listing"
	if e.DisciplineID != "" {
		scope = "discipline " + e.DisciplineID
	}
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", scope, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", scope, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FailureKind implements catalog.Classifier.
func (e *ParseError) FailureKind() catalog.FailureKind { return catalog.FailureParse }
