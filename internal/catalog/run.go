package catalog

import (
	"context"
	"errors"
	"time"
)

// RunStatus is the lifecycle state of a SyncRun.
type RunStatus string

// Run statuses. Only one run may be active at a time.
const (
	RunActive    RunStatus = "active"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// OutcomeState is the per-discipline result of a run.
type OutcomeState string

// Per-discipline outcomes.
const (
	OutcomeSucceeded OutcomeState = "succeeded"
	OutcomeFailed    OutcomeState = "failed"
	OutcomeSkipped   OutcomeState = "skipped"
)

// FailureKind tags a failed discipline with the failing stage.
type FailureKind string

// Failure kinds reported in run summaries.
const (
	FailureAuth        FailureKind = "auth"
	FailureNetwork     FailureKind = "network"
	FailureNotFound    FailureKind = "not_found"
	FailureParse       FailureKind = "parse"
	FailurePersistence FailureKind = "persistence"
	FailureCanceled    FailureKind = "canceled"
	FailureUnknown     FailureKind = "unknown"
)

// DisciplineOutcome records what happened to one discipline during a run.
type DisciplineOutcome struct {
	DisciplineID string       `json:"discipline_id"`
	State        OutcomeState `json:"state"`
	Kind         FailureKind  `json:"kind,omitempty"`
	Error        string       `json:"error,omitempty"`
	Changed      bool         `json:"changed,omitempty"`
	ArchiveURI   string       `json:"archive_uri,omitempty"`
}

// SyncRun summarises one end-to-end synchronization.
type SyncRun struct {
	ID                  string              `json:"id"`
	StartedAt           time.Time           `json:"started_at"`
	FinishedAt          *time.Time          `json:"finished_at,omitempty"`
	Status              RunStatus           `json:"status"`
	EnumerationComplete bool                `json:"enumeration_complete"`
	Discovered          int                 `json:"discovered"`
	Succeeded           int                 `json:"succeeded"`
	Failed              int                 `json:"failed"`
	Skipped             int                 `json:"skipped"`
	Removed             []string            `json:"removed,omitempty"`
	Outcomes            []DisciplineOutcome `json:"outcomes,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// Duration returns the run wall time, or zero while active.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures returns only the failed outcomes.
func (r SyncRun) Failures() []DisciplineOutcome {
	var out []DisciplineOutcome
	for _, o := range r.Outcomes {
		if o.State == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// Tally recomputes the counters from Outcomes.
func (r *SyncRun) Tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.State {
		case OutcomeSucceeded:
			r.Succeeded++
		case OutcomeFailed:
			r.Failed++
		case OutcomeSkipped:
			r.Skipped++
		}
	}
}

// KindOf maps an error onto a FailureKind through the Classifier interface.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureCanceled
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.FailureKind()
	}
	return FailureUnknown
}

// Classifier is implemented by typed sync errors.
type Classifier interface {
	error
	FailureKind() FailureKind
}
