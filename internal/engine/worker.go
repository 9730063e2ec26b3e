package engine

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/metrics"
	"github.com/JakeFAU/discipline-sync/internal/portal"
	"github.com/JakeFAU/discipline-sync/internal/reconcile"
	"github.com/JakeFAU/discipline-sync/internal/telemetry"
)

// process fetches, parses and reconciles one discipline. A failure here
// never affects other disciplines; only a fatal authentication error stops
// the remaining work, through the session manager.
func (o *Orchestrator) process(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	sessions *portal.SessionManager,
	ref catalog.DisciplineRef,
) catalog.DisciplineOutcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := catalog.DisciplineOutcome{DisciplineID: ref.ID}
	if err := ctx.Err(); err != nil {
		outcome.State, outcome.Kind = catalog.OutcomeSkipped, catalog.FailureCanceled
		return outcome
	}
	if err := sessions.Err(); err != nil {
		outcome.State, outcome.Kind = catalog.OutcomeSkipped, catalog.FailureAuth
		return outcome
	}

	ctx, span := telemetry.Tracer().Start(ctx, "sync.discipline")
	defer span.End()
	span.SetAttributes(attribute.String("discipline.id", ref.ID))

	logger = logger.With(zap.String("discipline_id", ref.ID))

	var raw []byte
	err := sessions.Do(ctx, func(s *portal.Session) error {
		var err error
		raw, err = o.deps.Fetcher.FetchClassPage(ctx, s, ref)
		return err
	})
	if err != nil {
		if ctx.Err() != nil && !portal.IsAuthError(err) {
			outcome.State, outcome.Kind = catalog.OutcomeSkipped, catalog.FailureCanceled
			return outcome
		}
		return o.fail(ctx, logger, outcome, err)
	}

	parsed, err := o.deps.Parser.ParseClassPage(ref, raw)
	if err != nil {
		if o.cfg.ArchiveFailedPages {
			outcome.ArchiveURI = o.archive(ctx, logger, runID, ref.ID, raw)
		}
		return o.fail(ctx, logger, outcome, err)
	}

	res, err := o.deps.Reconciler.Reconcile(context.WithoutCancel(ctx), ref.ID, reconcile.Succeeded(parsed))
	if err != nil {
		return o.fail(ctx, logger, outcome, err)
	}
	outcome.State = catalog.OutcomeSucceeded
	outcome.Changed = res.Changed || res.Created
	logger.Debug("discipline synchronized",
		zap.Int("classes", len(parsed.Classes)),
		zap.Bool("created", res.Created),
		zap.Bool("changed", res.Changed),
	)
	return outcome
}

// fail hands the failure to the reconciler, which leaves the stored record
// untouched, and converts it to a failed outcome.
func (o *Orchestrator) fail(
	ctx context.Context,
	logger *zap.Logger,
	outcome catalog.DisciplineOutcome,
	err error,
) catalog.DisciplineOutcome {
	if _, rerr := o.deps.Reconciler.Reconcile(context.WithoutCancel(ctx), outcome.DisciplineID, reconcile.Failed(err)); rerr != nil {
		logger.Warn("record failure failed", zap.Error(rerr))
	}
	outcome.State = catalog.OutcomeFailed
	outcome.Kind = failureKind(err)
	outcome.Error = err.Error()
	logger.Debug("discipline failed", zap.String("kind", string(outcome.Kind)), zap.Error(err))
	return outcome
}

func failureKind(err error) catalog.FailureKind {
	switch {
	case errors.Is(err, portal.ErrNotFound):
		return catalog.FailureNotFound
	case errors.Is(err, portal.ErrSessionExpired):
		return catalog.FailureAuth
	default:
		return catalog.KindOf(err)
	}
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, runID, id string, raw []byte) string {
	if o.deps.Blobs == nil || len(raw) == 0 {
		return ""
	}
	key := o.archivePath(runID, id)
	uri, err := o.deps.Blobs.PutObject(context.WithoutCancel(ctx), key, "text/html; charset=utf-8", bytes.NewReader(raw))
	if err != nil {
		logger.Warn("archive failed page", zap.String("path", key), zap.Error(err))
		return ""
	}
	logger.Info("failed page archived", zap.String("uri", uri))
	return uri
}

func (o *Orchestrator) archivePath(runID, id string) string {
	prefix := strings.Trim(o.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return path.Join(runID, id+".html")
	}
	return path.Join(prefix, runID, id+".html")
}
