package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/dialog"
	"github.com/acme/followup-call-service/internal/enrich"
	"github.com/acme/followup-call-service/internal/infra/db"
	"github.com/acme/followup-call-service/internal/infra/redis"
	"github.com/acme/followup-call-service/internal/queue"
	"github.com/acme/followup-call-service/internal/registry"
	"github.com/acme/followup-call-service/internal/repository"
	pgrepo "github.com/acme/followup-call-service/internal/repository/postgres"
	scyllarepo "github.com/acme/followup-call-service/internal/repository/scylla"
	"github.com/acme/followup-call-service/internal/scoring"
	callsvc "github.com/acme/followup-call-service/internal/service/call"
	"github.com/acme/followup-call-service/internal/service/concurrency"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka
	Manager  *ami.Client

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		registry     *registry.Registry
		dialogMgr    *dialog.Manager
		callService  *callsvc.Service
		publisher    *queue.ResultPublisher
		limiter      *concurrency.Limiter
	}
}

type repositories struct {
	Results     repository.ResultRepository
	Transcripts repository.TranscriptStore
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
		Manager:  ami.NewClient(cfg.Manager, lg),
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		c.components.repositories = &repositories{
			Results:     pgrepo.NewResultRepository(c.Postgres.DB()),
			Transcripts: scyllarepo.NewTranscriptStore(c.Scylla.Session()),
		}

		c.components.registry = registry.New(c.Config.Dialog.HistorySize)
		c.components.publisher = queue.NewResultPublisher(c.Kafka, c.Config.Kafka.ResultTopic)
		c.components.limiter = concurrency.NewLimiter(
			c.Redis.Inner(),
			c.Config.Throttle.PerHospital,
			c.Config.Throttle.SlotTTL,
		)

		c.components.dialogMgr = dialog.NewManager(
			c.Config.Dialog,
			c.Config.Manager,
			c.Manager,
			c.components.registry,
			scoring.NewEngine(),
			enrich.NewScorer(c.Config.Scoring),
			enrich.NewTranscriber(c.Config.Transcribe),
			c.components.publisher,
			c.Logger,
		)

		c.components.callService = callsvc.NewService(
			c.Manager,
			c.components.registry,
			c.components.dialogMgr,
			c.components.limiter,
			c.Config.Manager,
			c.Config.Dialog,
			c.Logger,
		)
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Registry exposes the active-call registry.
func (c *Container) Registry() *registry.Registry {
	c.initComponents()
	return c.components.registry
}

// Dialog exposes the dialog manager.
func (c *Container) Dialog() *dialog.Manager {
	c.initComponents()
	return c.components.dialogMgr
}

// CallService exposes the call coordination service.
func (c *Container) CallService() *callsvc.Service {
	c.initComponents()
	return c.components.callService
}

// ResultPublisher exposes the Kafka result publisher.
func (c *Container) ResultPublisher() *queue.ResultPublisher {
	c.initComponents()
	return c.components.publisher
}

// ConnectManager establishes the telephony manager session. An unavailable
// manager is not fatal: the service keeps running in degraded mode and new
// originations are rejected until a later successful connect.
func (c *Container) ConnectManager(ctx context.Context) error {
	return c.Manager.Connect(ctx)
}

// Close releases all held resources.
func (c *Container) Close() error {
	var errs []error
	if c.Manager != nil {
		c.Manager.Close()
	}
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("result publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
