package main

import (
	"context"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/convolab/lessonaudio/internal/app"
	"github.com/convolab/lessonaudio/internal/data/db"
	repos "github.com/convolab/lessonaudio/internal/data/repos/jobs"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/platform/redis"
	"github.com/convolab/lessonaudio/internal/services"
)

type commandContext struct {
	verbose     bool
	ttsProvider string

	logOnce sync.Once
	log     *logger.Logger
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// logger is silent unless --verbose is set so progress output stays readable.
func (c *commandContext) logger() *logger.Logger {
	c.logOnce.Do(func() {
		if !c.verbose {
			c.log = logger.NewNop()
			return
		}
		l, err := logger.New("development")
		if err != nil {
			c.log = logger.NewNop()
			return
		}
		c.log = l
	})
	return c.log
}

func (c *commandContext) config() app.Config {
	cfg := app.LoadConfig()
	if p := strings.ToLower(strings.TrimSpace(c.ttsProvider)); p != "" {
		cfg.TTSProvider = p
	}
	return cfg
}

func (c *commandContext) withToolkit(ctx context.Context, cfg app.Config, fn func(*app.Toolkit) error) error {
	tk, err := app.NewToolkit(ctx, c.logger(), cfg)
	if err != nil {
		return err
	}
	defer tk.Close()
	return fn(tk)
}

type jobStore struct {
	db   *gorm.DB
	repo repos.JobRunRepo
	jobs services.JobService
}

// withJobs opens the job database. JobCreated and cancel events reach Redis
// only when REDIS_ADDR is set.
func (c *commandContext) withJobs(fn func(*jobStore) error) error {
	log := c.logger()
	dbs, err := db.NewService(log)
	if err != nil {
		return err
	}
	defer dbs.Close()
	if err := dbs.Migrate(); err != nil {
		return err
	}

	var pub services.JobEventPublisher
	if c.config().RedisEnabled {
		bus, err := redis.NewJobEventBus(log)
		if err != nil {
			return err
		}
		defer bus.Close()
		pub = bus
	}
	repo := repos.NewJobRunRepo(dbs.DB(), log)
	return fn(&jobStore{
		db:   dbs.DB(),
		repo: repo,
		jobs: services.NewJobService(dbs.DB(), log, repo, services.NewJobNotifier(pub, log)),
	})
}
