// Package reconcile merges freshly scraped disciplines into the catalog store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// Outcome is the per-discipline result handed to Reconcile. Exactly one of
// Discipline or Err is set.
type Outcome struct {
	Discipline *catalog.Discipline
	Err        error
}

// Succeeded wraps a parsed discipline.
func Succeeded(d catalog.Discipline) Outcome { return Outcome{Discipline: &d} }

// Failed wraps a fetch or parse failure.
func Failed(err error) Outcome { return Outcome{Err: err} }

// Result reports what a successful reconcile did to storage.
type Result struct {
	Created bool
	Changed bool
}

// Options bounds single-record persistence retries.
type Options struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// Reconciler applies outcomes to a catalog.Store.
type Reconciler struct {
	store  catalog.Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New builds a Reconciler.
func New(store catalog.Store, opts Options, logger *zap.Logger) *Reconciler {
	if opts.Initial <= 0 {
		opts.Initial = 100 * time.Millisecond
	}
	if opts.Max < opts.Initial {
		opts.Max = 2 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, opts: opts, logger: logger, now: time.Now}
}

// Reconcile applies one outcome. A failed outcome never touches storage.
// A successful outcome is merged into the stored record in one atomic
// update; persistence failures are retried and finally reported as a
// *PersistenceError with the stored record unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, id string, outcome Outcome) (Result, error) {
	if outcome.Discipline == nil {
		r.logger.Warn("discipline left untouched after failure",
			zap.String("discipline_id", id),
			zap.String("kind", string(catalog.KindOf(outcome.Err))),
			zap.Error(outcome.Err),
		)
		return Result{}, nil
	}

	incoming := outcome.Discipline.Clone()
	if incoming.ID != id {
		return Result{}, &PersistenceError{DisciplineID: id, Err: fmt.Errorf("outcome carries discipline %q", incoming.ID)}
	}
	if err := incoming.Validate(); err != nil {
		return Result{}, &PersistenceError{DisciplineID: id, Err: err}
	}

	var result Result
	attempts, err := r.retry(ctx, func() error {
		result = Result{}
		return r.store.UpdateDiscipline(ctx, id, func(existing *catalog.Discipline) (catalog.Discipline, error) {
			merged := catalog.Merge(existing, incoming)
			if existing != nil && catalog.Equal(*existing, merged) {
				return catalog.Discipline{}, catalog.ErrNoChange
			}
			merged.UpdatedAt = r.now().UTC()
			result = Result{Created: existing == nil, Changed: true}
			return merged, nil
		})
	})
	if err != nil {
		return Result{}, &PersistenceError{DisciplineID: id, Attempts: attempts, Err: err}
	}

	r.logger.Debug("discipline reconciled",
		zap.String("discipline_id", id),
		zap.Bool("created", result.Created),
		zap.Bool("changed", result.Changed),
		zap.Int("classes", len(incoming.Classes)),
	)
	return result, nil
}

// FinalizeRun removes catalog disciplines that a complete enumeration did not
// report. With complete false nothing is removed. An empty seen set is never
// treated as confirmation that the whole catalog disappeared.
func (r *Reconciler) FinalizeRun(ctx context.Context, complete bool, seen map[string]struct{}) ([]string, error) {
	if !complete {
		r.logger.Info("enumeration incomplete, skipping stale removal")
		return nil, nil
	}
	if len(seen) == 0 {
		r.logger.Warn("enumeration returned no disciplines, skipping stale removal")
		return nil, nil
	}

	var existing []catalog.Discipline
	if _, err := r.retry(ctx, func() error {
		var err error
		existing, err = r.store.GetAllDisciplines(ctx)
		return err
	}); err != nil {
		return nil, &PersistenceError{Err: fmt.Errorf("list catalog: %w", err)}
	}

	var (
		removed []string
		errs    []error
	)
	for _, d := range existing {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		attempts, err := r.retry(ctx, func() error {
			err := r.store.RemoveDiscipline(ctx, d.ID)
			if errors.Is(err, catalog.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			errs = append(errs, &PersistenceError{DisciplineID: d.ID, Attempts: attempts, Err: err})
			continue
		}
		removed = append(removed, d.ID)
		r.logger.Info("stale discipline removed", zap.String("discipline_id", d.ID))
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}

// Apply reconciles a whole snapshot and returns how many records changed.
func (r *Reconciler) Apply(ctx context.Context, snapshot []catalog.Discipline) (int, error) {
	changed := 0
	var errs []error
	for _, d := range snapshot {
		res, err := r.Reconcile(ctx, d.ID, Succeeded(d))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Changed {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (r *Reconciler) retry(ctx context.Context, op func() error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.Initial
	b.MaxInterval = r.opts.Max
	b.RandomizationFactor = 0.5
	b.Multiplier = 2

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.MaxRetries)+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("retrying catalog write", zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	return attempts, err
}
