package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/convolab/lessonaudio/internal/data/db"
	repos "github.com/convolab/lessonaudio/internal/data/repos/jobs"
	"github.com/convolab/lessonaudio/internal/jobs/pipeline/lesson_audio_build"
	"github.com/convolab/lessonaudio/internal/jobs/pipeline/narrow_listening_build"
	"github.com/convolab/lessonaudio/internal/jobs/runtime"
	"github.com/convolab/lessonaudio/internal/jobs/worker"
	"github.com/convolab/lessonaudio/internal/observability"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/platform/redis"
	"github.com/convolab/lessonaudio/internal/services"
)

// App is the worker daemon: job table, progress bus, toolkit and worker pool.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Toolkit  *Toolkit
	Jobs     services.JobService
	Bus      redis.JobEventBus
	Registry *runtime.Registry
	Worker   *worker.Worker

	dbService *db.Service
	cancel    context.CancelFunc
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	dbs, err := db.NewService(log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbs.Migrate(); err != nil {
		_ = dbs.Close()
		return nil, err
	}

	a := &App{Log: log, DB: dbs.DB(), Cfg: cfg, dbService: dbs}

	var pub services.JobEventPublisher
	if cfg.RedisEnabled {
		bus, err := redis.NewJobEventBus(log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis job bus: %w", err)
		}
		a.Bus = bus
		pub = bus
	}
	notify := services.NewJobNotifier(pub, log)
	jobRepo := repos.NewJobRunRepo(a.DB, log)
	a.Jobs = services.NewJobService(a.DB, log, jobRepo, notify)

	a.Toolkit, err = NewToolkit(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = runtime.NewRegistry()
	for _, h := range []runtime.Handler{
		lesson_audio_build.New(log, a.Toolkit.Lessons, a.Toolkit.Voices),
		narrow_listening_build.New(log, a.Toolkit.Narrow, a.Toolkit.Voices),
	} {
		if err := a.Registry.Register(h); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Worker = worker.NewWorker(a.DB, log, jobRepo, a.Registry, notify, worker.OptionsFromEnv())
	return a, nil
}

// Start launches the worker pool and the metrics collectors.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if m := observability.Current(); m != nil {
		m.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		m.StartJobQueueCollector(ctx, a.Log, a.DB)
		if a.Bus != nil {
			m.StartRedisCollector(ctx, a.Log, a.Bus.Client())
		}
	}
	a.Worker.Start(ctx)
}

// Close stops the worker, waits for in-flight jobs and releases clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.Worker.Wait()
	}
	a.Toolkit.Close()
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.dbService != nil {
		_ = a.dbService.Close()
	}
	a.Log.Sync()
}
