package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// TriggerStatus is the answer to a trigger request.
type TriggerStatus string

// Trigger statuses.
const (
	TriggerAccepted       TriggerStatus = "accepted"
	TriggerAlreadyRunning TriggerStatus = "already_running"
)

// TriggerResult tells the caller whether a run was started.
type TriggerResult struct {
	Status TriggerStatus `json:"status"`
	RunID  string        `json:"run_id,omitempty"`
}

// Trigger starts a run in the background and returns immediately. A trigger
// that arrives while a run is active is rejected, never queued. The run is
// bound to the orchestrator's base context, not to ctx, so it outlives the
// request that started it.
func (o *Orchestrator) Trigger(ctx context.Context) (TriggerResult, error) {
	release, err := o.deps.Guard.TryStart(ctx)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return TriggerResult{Status: TriggerAlreadyRunning}, nil
		}
		return TriggerResult{}, err
	}

	runID := o.newID()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer release()
		if _, err := o.execute(o.baseCtx, runID); err != nil {
			o.logger.Warn("background synchronization ended with error",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()
	return TriggerResult{Status: TriggerAccepted, RunID: runID}, nil
}
