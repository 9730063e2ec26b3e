// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/config"
	"github.com/JakeFAU/discipline-sync/internal/engine"
	redislock "github.com/JakeFAU/discipline-sync/internal/lock/redis"
	"github.com/JakeFAU/discipline-sync/internal/parser"
	"github.com/JakeFAU/discipline-sync/internal/portal"
	memorypublisher "github.com/JakeFAU/discipline-sync/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/discipline-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/discipline-sync/internal/reconcile"
	gcsstore "github.com/JakeFAU/discipline-sync/internal/storage/gcs"
	localstore "github.com/JakeFAU/discipline-sync/internal/storage/local"
	memorystore "github.com/JakeFAU/discipline-sync/internal/storage/memory"
	"github.com/JakeFAU/discipline-sync/internal/storage/postgres"
)

// App holds the shared services of one process.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        catalog.Store
	Runs         catalog.RunStore
	Orchestrator *engine.Orchestrator

	closers []func()
}

// New builds every service from cfg. baseCtx bounds background runs and
// should be canceled on shutdown. It fails fast when a configured backend
// cannot be reached.
func New(baseCtx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(baseCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	l := a.Logger
	l.Info("initializing services")

	// 1. Catalog and run stores.
	if cfg.DB.DSN != "" {
		if cfg.DB.Migrate {
			if err := postgres.MigrateUp(cfg.DB.DSN, l.Named("migrate")); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.onClose(pool.Close)
		store, err := postgres.NewCatalogStore(pool)
		if err != nil {
			return err
		}
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			return err
		}
		a.Store, a.Runs = store, runs
		l.Info("using postgres catalog store")
	} else {
		a.Store, a.Runs = memorystore.NewCatalogStore(), memorystore.NewRunStore()
		l.Info("using in-memory catalog store; data is lost on exit")
	}

	// 2. Failed page archive.
	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}

	// 3. Run notifications.
	publisher, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	// 4. Run guard, optionally backed by a shared lock.
	var lock engine.Lock
	if cfg.Lock.RedisAddr != "" {
		client, err := redislock.Connect(ctx, cfg.Lock.RedisAddr)
		if err != nil {
			return err
		}
		a.onClose(func() { closeQuietly(l, "redis", client) })
		rl, err := redislock.New(client, cfg.Lock.Key, cfg.LockTTL(), l.Named("lock"))
		if err != nil {
			return err
		}
		lock = rl
		l.Info("using redis run lock", zap.String("addr", cfg.Lock.RedisAddr), zap.String("key", cfg.Lock.Key))
	}
	guard := engine.NewGuard(lock, l.Named("guard"))

	// 5. Portal client.
	opts := cfg.PortalOptions()
	limiter := portal.NewLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	pages := parser.New(cfg.Portal.Selectors)
	auth, err := portal.NewAuthenticator(opts, limiter, l.Named("auth"))
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}
	fetcher, err := portal.NewFetcher(opts, pages, limiter, l.Named("portal"))
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	// 6. Orchestrator.
	reconciler := reconcile.New(a.Store, reconcile.Options{MaxRetries: cfg.Sync.PersistRetries}, l.Named("reconcile"))
	deps := engine.Dependencies{
		Authenticator: auth,
		Credentials:   cfg.PortalCredentials(),
		Fetcher:       fetcher,
		Parser:        pages,
		Reconciler:    reconciler,
		Runs:          a.Runs,
		Guard:         guard,
	}
	if blobs != nil {
		deps.Blobs = blobs
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	orch, err := engine.New(ctx, engine.Config{
		Workers:            cfg.Sync.Workers,
		Topic:              cfg.PubSub.TopicName,
		ArchiveFailedPages: cfg.Sync.ArchiveFailedPages,
		ArchivePrefix:      cfg.Storage.Prefix,
	}, deps, l.Named("engine"))
	if err != nil {
		return err
	}
	a.Orchestrator = orch

	l.Info("services initialized",
		zap.String("portal", opts.BaseURL),
		zap.Int("workers", cfg.Sync.Workers),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	return nil
}

func (a *App) blobStore(ctx context.Context) (engine.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "local":
		store, err := localstore.New(localstore.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		a.Logger.Info("using local page archive", zap.String("dir", cfg.BaseDir))
		return store, nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func() { closeQuietly(a.Logger, "gcs", client) })
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, err
		}
		if err := store.CheckBucket(ctx); err != nil {
			return nil, err
		}
		a.Logger.Info("using gcs page archive", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	default:
		return memorystore.NewBlobStore(), nil
	}
}

func (a *App) publisher(ctx context.Context) (engine.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		return memorypublisher.New(0), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.onClose(func() { closeQuietly(a.Logger, "pubsub", client) })
	pub, err := pubsubpublisher.New(client, a.Logger.Named("pubsub"))
	if err != nil {
		return nil, err
	}
	a.onClose(pub.Close)
	a.Logger.Info("publishing run events to pubsub",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return pub, nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close waits for background runs, then releases clients in reverse order.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	// Sync fails on terminals; there is nowhere left to report it.
	_ = a.Logger.Sync()
}

type closer interface {
	Close() error
}

func closeQuietly(logger *zap.Logger, name string, c closer) {
	if err := c.Close(); err != nil {
		logger.Warn("close client failed", zap.String("client", name), zap.Error(err))
	}
}
