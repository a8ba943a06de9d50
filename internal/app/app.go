// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the commands.
package app

import (
	"context"
	"net/http"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/ai"
	"github.com/SF-300/vigilant-disco/internal/ankiconnect"
	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/config"
	"github.com/SF-300/vigilant-disco/internal/export"
	idgen "github.com/SF-300/vigilant-disco/internal/id/uuid"
	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/progress/sinks"
	memorypub "github.com/SF-300/vigilant-disco/internal/publisher/memory"
	pubsubpub "github.com/SF-300/vigilant-disco/internal/publisher/pubsub"
	"github.com/SF-300/vigilant-disco/internal/service"
	"github.com/SF-300/vigilant-disco/internal/source"
	"github.com/SF-300/vigilant-disco/internal/stage"
	"github.com/SF-300/vigilant-disco/internal/storage"
	"github.com/SF-300/vigilant-disco/internal/storage/gcs"
	"github.com/SF-300/vigilant-disco/internal/storage/local"
	"github.com/SF-300/vigilant-disco/internal/storage/memory"
	"github.com/SF-300/vigilant-disco/internal/storage/postgres"
	"github.com/SF-300/vigilant-disco/internal/store"
	"github.com/SF-300/vigilant-disco/internal/telemetry"
)

// Options override process-wide defaults, mainly for tests.
type Options struct {
	// Registerer receives the pipeline and progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// HTTPClient is used for the AI endpoint. Defaults to a client with the
	// configured AI timeout.
	HTTPClient *http.Client
}

// App holds the shared, long-lived services built from one Config.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	tracing  *telemetry.Provider
	activity store.ActivityRepository
	recent   *sinks.RecentSink
	hub      *progress.Hub
	pipeline *pipeline.Pipeline
	sources  []pipeline.Source

	closers []func(context.Context) error
}

// New builds every service described by cfg. It fails fast when a backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("initializing application services")
	metrics.Init()

	a.tracing, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, errors.Wrap(err, "init tracing")
	}
	a.closers = append(a.closers, a.tracing.Shutdown)

	var pg *postgres.Store
	if cfg.Activity.Backend == config.BackendPostgres || cfg.Export.Target == export.TargetPostgres {
		pg, err = a.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Activity.Backend == config.BackendPostgres {
		a.activity = pg
	} else {
		a.activity = memory.NewActivityStore()
	}

	a.recent = sinks.NewRecentSink(cfg.Activity.RecentSize)
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, errors.Wrap(err, "register progress metrics")
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		SinkTimeout:    cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         logger.Named("progress"),
	},
		sinks.NewLogSink(logger.Named("activity")),
		promSink,
		sinks.NewStoreSink(a.activity, logger),
		a.recent,
	)
	a.closers = append(a.closers, a.hub.Close)

	svc, err := a.buildService(ctx, pg, opts)
	if err != nil {
		return nil, err
	}

	a.pipeline, err = pipeline.New(svc, a.hub, pipeline.Config{
		Queues:      cfg.Queues,
		MaxInFlight: cfg.Stages.MaxInFlight,
		MaxPending:  cfg.Stages.MaxPending,
		Escalate:    stage.EscalateUnrecoverable,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build pipeline")
	}
	if err := a.pipeline.RegisterMetrics(opts.Registerer); err != nil {
		return nil, err
	}

	if cfg.Sources.WatchDir != "" {
		w, err := source.NewDirWatcher(cfg.Sources.WatchDir, cfg.Sources.WatchSettle, logger)
		if err != nil {
			return nil, err
		}
		a.sources = append(a.sources, w)
	}

	logger.Info("application services initialized",
		zap.Bool("mock", cfg.AI.Mock),
		zap.String("export_target", cfg.Export.Target),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("activity", cfg.Activity.Backend))
	return a, nil
}

func (a *App) openPostgres(ctx context.Context) (*postgres.Store, error) {
	pgCfg := a.cfg.Activity.Postgres
	if a.cfg.Activity.Backend != config.BackendPostgres {
		pgCfg = a.cfg.ExportPostgres()
	}
	pg, err := postgres.New(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		pg.Close()
		return nil
	})
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func (a *App) buildService(ctx context.Context, pg *postgres.Store, opts Options) (cards.Service, error) {
	if a.cfg.AI.Mock {
		a.logger.Warn("using mock card service; nothing is sent to the AI or exported")
		return service.NewMock(), nil
	}
	ids := idgen.New()
	client, err := ai.New(a.cfg.AI.Config, opts.HTTPClient, ids, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "build ai client")
	}
	target, err := a.buildTarget(ctx, pg)
	if err != nil {
		return nil, err
	}
	blobs, err := a.buildArchive(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := service.New(service.Deps{
		Extractor: client,
		Generator: client,
		Target:    target,
		Archiver:  storage.NewArchiver(blobs),
		Tracer:    a.tracing.Tracer(),
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *App) buildTarget(ctx context.Context, pg *postgres.Store) (export.Target, error) {
	cfg := a.cfg.Export
	switch cfg.Target {
	case export.TargetAnkiConnect:
		client := ankiconnect.New(cfg.AnkiConnect, nil)
		return export.NewAnkiTarget(client, export.AnkiOptions{
			Deck:                cfg.Deck,
			Tags:                cfg.Tags,
			EscalateUnreachable: cfg.EscalateUnreachable,
		}, a.logger), nil
	case export.TargetPubSub:
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, errors.Wrap(err, "create pubsub client")
		}
		pub := pubsubpub.New(client.Topic(cfg.PubSub.TopicName))
		a.closers = append(a.closers, func(context.Context) error {
			pub.Stop()
			return client.Close()
		})
		return export.NewPublisherTarget(export.TargetPubSub, pub), nil
	case export.TargetPostgres:
		return export.NewRepositoryTarget(pg, cfg.Deck, nil), nil
	case export.TargetMemory:
		return export.NewPublisherTarget(export.TargetMemory, memorypub.New()), nil
	default:
		return nil, errors.Newf("unsupported export target %q", cfg.Target)
	}
}

func (a *App) buildArchive(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		blobs, err := local.New(cfg.Local)
		if err != nil {
			return nil, err
		}
		return blobs, nil
	case config.BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "create storage client")
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		blobs, err := gcs.New(client, cfg.GCS)
		if err != nil {
			return nil, err
		}
		if err := blobs.CheckBucket(ctx); err != nil {
			return nil, err
		}
		return blobs, nil
	default:
		return nil, errors.Newf("unsupported archive backend %q", cfg.Backend)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pipeline returns the card pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Sources returns the configured background image sources.
func (a *App) Sources() []pipeline.Source { return a.sources }

// Activity returns the activity log repository.
func (a *App) Activity() store.ActivityRepository { return a.activity }

// Recent returns the in-memory tail of progress events.
func (a *App) Recent() *sinks.RecentSink { return a.recent }

// Hub returns the progress hub every operation reports to.
func (a *App) Hub() *progress.Hub { return a.hub }

// Close shuts services down in reverse construction order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
