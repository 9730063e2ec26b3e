// Package scheduler triggers periodic synchronizations from a cron expression.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/engine"
)

// Triggerer starts a run without waiting for it.
type Triggerer interface {
	Trigger(ctx context.Context) (engine.TriggerResult, error)
}

// Scheduler owns the cron engine. A tick that lands while a run is active is
// dropped; the next tick tries again.
type Scheduler struct {
	cron    *cron.Cron
	trigger Triggerer
	spec    string
	logger  *zap.Logger
	entry   cron.EntryID
}

// New parses spec (standard five-field cron or descriptors such as @every 6h).
func New(spec string, trigger Triggerer, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("scheduler requires a trigger")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		trigger: trigger,
		spec:    spec,
		logger:  logger,
	}
	id, err := s.cron.AddFunc(spec, s.Tick)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sync scheduler started", zap.String("schedule", s.spec), zap.Time("next", s.Next()))
}

// Stop halts the scheduler. Runs already triggered are not waited for; the
// orchestrator owns them.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sync scheduler stopped")
}

// Next reports the next planned tick, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Tick triggers one run.
func (s *Scheduler) Tick() {
	res, err := s.trigger.Trigger(context.Background())
	if err != nil {
		s.logger.Error("scheduled synchronization not started", zap.Error(err))
		return
	}
	switch res.Status {
	case engine.TriggerAlreadyRunning:
		s.logger.Info("scheduled synchronization skipped, run already active")
	default:
		s.logger.Info("scheduled synchronization started", zap.String("run_id", res.RunID))
	}
}
