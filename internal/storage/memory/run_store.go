package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// RunStore keeps SyncRun summaries in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]catalog.SyncRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]catalog.SyncRun)}
}

// StartRun stores a new active run.
func (s *RunStore) StartRun(_ context.Context, run catalog.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// CompleteRun replaces the stored run with its final summary.
func (s *RunStore) CompleteRun(_ context.Context, run catalog.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return catalog.ErrNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// LatestRun returns the most recently started run.
func (s *RunStore) LatestRun(ctx context.Context) (catalog.SyncRun, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return catalog.SyncRun{}, err
	}
	if len(runs) == 0 {
		return catalog.SyncRun{}, catalog.ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]catalog.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.SyncRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(r catalog.SyncRun) catalog.SyncRun {
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	r.Removed = append([]string(nil), r.Removed...)
	r.Outcomes = append([]catalog.DisciplineOutcome(nil), r.Outcomes...)
	return r
}
