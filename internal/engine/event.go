package engine

import (
	"time"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// EventCatalogSynced is the event type published after every run.
const EventCatalogSynced = "catalog.synced"

// SyncedEvent notifies downstream consumers that a run finished.
type SyncedEvent struct {
	Type                string            `json:"type"`
	RunID               string            `json:"run_id"`
	Status              catalog.RunStatus `json:"status"`
	StartedAt           time.Time         `json:"started_at"`
	FinishedAt          time.Time         `json:"finished_at"`
	EnumerationComplete bool              `json:"enumeration_complete"`
	Discovered          int               `json:"discovered"`
	Succeeded           int               `json:"succeeded"`
	Failed              int               `json:"failed"`
	Skipped             int               `json:"skipped"`
	Changed             []string          `json:"changed,omitempty"`
	Removed             []string          `json:"removed,omitempty"`
}

func newSyncedEvent(run catalog.SyncRun) SyncedEvent {
	ev := SyncedEvent{
		Type:                EventCatalogSynced,
		RunID:               run.ID,
		Status:              run.Status,
		StartedAt:           run.StartedAt,
		EnumerationComplete: run.EnumerationComplete,
		Discovered:          run.Discovered,
		Succeeded:           run.Succeeded,
		Failed:              run.Failed,
		Skipped:             run.Skipped,
		Removed:             run.Removed,
	}
	if run.FinishedAt != nil {
		ev.FinishedAt = *run.FinishedAt
	}
	for _, o := range run.Outcomes {
		if o.Changed {
			ev.Changed = append(ev.Changed, o.DisciplineID)
		}
	}
	return ev
}
