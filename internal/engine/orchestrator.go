package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/dispatcher"
	"github.com/JakeFAU/discipline-sync/internal/metrics"
	"github.com/JakeFAU/discipline-sync/internal/portal"
	"github.com/JakeFAU/discipline-sync/internal/queue/memory"
	"github.com/JakeFAU/discipline-sync/internal/reconcile"
	"github.com/JakeFAU/discipline-sync/internal/telemetry"
)

// Fetcher retrieves portal pages with an authenticated session.
type Fetcher interface {
	ListDisciplines(ctx context.Context, session *portal.Session) ([]catalog.DisciplineRef, error)
	FetchClassPage(ctx context.Context, session *portal.Session, ref catalog.DisciplineRef) ([]byte, error)
}

// PageParser converts a class page into a typed discipline.
type PageParser interface {
	ParseClassPage(ref catalog.DisciplineRef, raw []byte) (catalog.Discipline, error)
}

// Reconciler writes outcomes into the catalog.
type Reconciler interface {
	Reconcile(ctx context.Context, id string, outcome reconcile.Outcome) (reconcile.Result, error)
	FinalizeRun(ctx context.Context, complete bool, seen map[string]struct{}) ([]string, error)
}

// BlobStore archives raw pages.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	Workers            int
	Topic              string
	ArchiveFailedPages bool
	ArchivePrefix      string
}

// Dependencies are the collaborators of a run. Blobs and Publisher are optional.
type Dependencies struct {
	Authenticator portal.SessionAuthenticator
	Credentials   portal.Credentials
	Fetcher       Fetcher
	Parser        PageParser
	Reconciler    Reconciler
	Runs          catalog.RunStore
	Blobs         BlobStore
	Publisher     Publisher
	Guard         *Guard
}

// Orchestrator runs synchronizations.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New validates deps and builds an Orchestrator. baseCtx bounds background
// runs started by Trigger; cancel it on process shutdown.
func New(baseCtx context.Context, cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Authenticator == nil:
		return nil, errors.New("engine requires an authenticator")
	case deps.Fetcher == nil:
		return nil, errors.New("engine requires a fetcher")
	case deps.Parser == nil:
		return nil, errors.New("engine requires a parser")
	case deps.Reconciler == nil:
		return nil, errors.New("engine requires a reconciler")
	case deps.Runs == nil:
		return nil, errors.New("engine requires a run store")
	}
	if deps.Guard == nil {
		deps.Guard = NewGuard(nil, logger)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "failed-pages"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		now:     time.Now,
		newID:   newRunID,
		baseCtx: baseCtx,
	}, nil
}

// Run executes one blocking synchronization under the guard.
func (o *Orchestrator) Run(ctx context.Context) (*catalog.SyncRun, error) {
	release, err := o.deps.Guard.TryStart(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.execute(ctx, o.newID())
}

// Wait blocks until background runs started by Trigger have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// execute performs the run. The returned error is non-nil only for fatal
// authentication failures and cancellation; discipline-level failures are
// reported through the summary.
func (o *Orchestrator) execute(ctx context.Context, runID string) (*catalog.SyncRun, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "sync.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	logger := o.logger.With(zap.String("run_id", runID))
	run := &catalog.SyncRun{ID: runID, StartedAt: o.now().UTC(), Status: catalog.RunActive}
	if err := o.deps.Runs.StartRun(context.WithoutCancel(ctx), *run); err != nil {
		logger.Warn("record run start failed", zap.Error(err))
	}
	logger.Info("synchronization started", zap.Object("credentials", o.deps.Credentials))

	sessions := portal.NewSessionManager(o.deps.Authenticator, o.deps.Credentials, logger.Named("portal"))
	if err := sessions.Start(ctx); err != nil {
		run.Error = err.Error()
		return o.finish(ctx, logger, run, err)
	}

	var refs []catalog.DisciplineRef
	listErr := sessions.Do(ctx, func(s *portal.Session) error {
		var err error
		refs, err = o.deps.Fetcher.ListDisciplines(ctx, s)
		return err
	})
	run.Discovered = len(refs)
	if listErr != nil {
		if portal.IsAuthError(listErr) || ctx.Err() != nil {
			run.Error = listErr.Error()
			run.Outcomes = skippedOutcomes(refs, catalog.KindOf(listErr))
			return o.finish(ctx, logger, run, fatalOrCanceled(ctx, listErr))
		}
		run.Error = fmt.Sprintf("enumeration incomplete: %v", listErr)
		logger.Warn("discipline enumeration incomplete",
			zap.Int("discovered", len(refs)),
			zap.Error(listErr),
		)
	}
	logger.Info("disciplines enumerated", zap.Int("count", len(refs)), zap.Bool("listing_ok", listErr == nil))

	outcomes := o.processAll(ctx, logger, runID, sessions, refs)
	run.Outcomes = outcomes

	fatal := sessions.Err()
	attempted := true
	for _, oc := range outcomes {
		if oc.State == catalog.OutcomeSkipped {
			attempted = false
			break
		}
	}
	run.EnumerationComplete = listErr == nil && attempted && fatal == nil && ctx.Err() == nil

	if fatal != nil {
		run.Error = fatal.Error()
		return o.finish(ctx, logger, run, fatal)
	}

	if run.EnumerationComplete {
		seen := make(map[string]struct{}, len(refs))
		for _, ref := range refs {
			seen[ref.ID] = struct{}{}
		}
		removed, err := o.deps.Reconciler.FinalizeRun(context.WithoutCancel(ctx), true, seen)
		run.Removed = removed
		metrics.ObserveRemovals(len(removed))
		if err != nil {
			run.Error = fmt.Sprintf("stale removal: %v", err)
			logger.Error("stale removal failed", zap.Error(err))
		}
	}

	var runErr error
	if ctx.Err() != nil {
		runErr = fmt.Errorf("synchronization canceled: %w", ctx.Err())
	}
	return o.finish(ctx, logger, run, runErr)
}

// processAll fans refs out to the worker pool and returns one outcome per ref.
func (o *Orchestrator) processAll(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	sessions *portal.SessionManager,
	refs []catalog.DisciplineRef,
) []catalog.DisciplineOutcome {
	queue := memory.NewQueue[catalog.DisciplineRef](len(refs))
	for _, ref := range refs {
		if err := queue.Enqueue(context.Background(), ref); err != nil {
			logger.Error("enqueue discipline failed", zap.String("discipline_id", ref.ID), zap.Error(err))
		}
	}
	queue.Close()

	var (
		mu       sync.Mutex
		outcomes = make([]catalog.DisciplineOutcome, 0, len(refs))
	)
	record := func(oc catalog.DisciplineOutcome) {
		metrics.ObserveDisciplineOutcome(string(oc.State), string(oc.Kind))
		mu.Lock()
		outcomes = append(outcomes, oc)
		mu.Unlock()
	}

	dispatcher.New[catalog.DisciplineRef](queue, o.cfg.Workers, func(ctx context.Context, ref catalog.DisciplineRef) {
		record(o.process(ctx, logger, runID, sessions, ref))
	}, logger).Run(ctx)

	// Whatever the pool did not dispatch was never attempted.
	kind := catalog.FailureCanceled
	if sessions.Err() != nil {
		kind = catalog.FailureAuth
	}
	for {
		ref, err := queue.Dequeue(context.Background())
		if err != nil {
			break
		}
		record(catalog.DisciplineOutcome{DisciplineID: ref.ID, State: catalog.OutcomeSkipped, Kind: kind})
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].DisciplineID < outcomes[j].DisciplineID })
	return outcomes
}

func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, run *catalog.SyncRun, runErr error) (*catalog.SyncRun, error) {
	finished := o.now().UTC()
	run.FinishedAt = &finished
	run.Tally()
	run.Status = runStatus(ctx, run, runErr)

	persistCtx := context.WithoutCancel(ctx)
	if err := o.deps.Runs.CompleteRun(persistCtx, *run); err != nil {
		logger.Error("record run summary failed", zap.Error(err))
	}
	metrics.ObserveSyncRun(string(run.Status), run.Duration())
	o.publish(persistCtx, logger, *run)

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Duration("duration", run.Duration()),
		zap.Int("discovered", run.Discovered),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
		zap.Strings("removed", run.Removed),
		zap.Bool("enumeration_complete", run.EnumerationComplete),
	}
	for _, f := range run.Failures() {
		logger.Warn("discipline failed",
			zap.String("discipline_id", f.DisciplineID),
			zap.String("kind", string(f.Kind)),
			zap.String("error", f.Error),
		)
	}
	switch run.Status {
	case catalog.RunSucceeded:
		logger.Info("synchronization finished", fields...)
	case catalog.RunFailed:
		logger.Error("synchronization failed", append(fields, zap.String("error", run.Error))...)
	default:
		logger.Warn("synchronization finished with gaps", append(fields, zap.String("error", run.Error))...)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("run.discovered", run.Discovered),
		attribute.Int("run.failed", run.Failed),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	return run, runErr
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, run catalog.SyncRun) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, newSyncedEvent(run))
	if err != nil {
		logger.Warn("publish run event failed", zap.Error(err))
		return
	}
	logger.Debug("run event published", zap.String("message_id", id))
}

func runStatus(ctx context.Context, run *catalog.SyncRun, runErr error) catalog.RunStatus {
	switch {
	case runErr != nil && portal.IsAuthError(runErr):
		return catalog.RunFailed
	case ctx.Err() != nil:
		return catalog.RunCanceled
	case runErr != nil:
		return catalog.RunFailed
	case run.Discovered == 0 && run.Error != "":
		return catalog.RunFailed
	case run.Failed > 0 || run.Skipped > 0 || !run.EnumerationComplete || run.Error != "":
		return catalog.RunPartial
	default:
		return catalog.RunSucceeded
	}
}

func skippedOutcomes(refs []catalog.DisciplineRef, kind catalog.FailureKind) []catalog.DisciplineOutcome {
	out := make([]catalog.DisciplineOutcome, 0, len(refs))
	for _, ref := range refs {
		out = append(out, catalog.DisciplineOutcome{DisciplineID: ref.ID, State: catalog.OutcomeSkipped, Kind: kind})
	}
	return out
}

func fatalOrCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil && !portal.IsAuthError(err) {
		return fmt.Errorf("synchronization canceled: %w", ctx.Err())
	}
	return err
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
