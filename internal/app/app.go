// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/store"
)

// App is a fully wired licensing engine backed by the configured database.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Services *services.Services
}

// New connects to the database (and Redis when enabled), runs migrations when
// migrate is set and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrate bool) (*App, error) {
	db, err := database.Initialize(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := database.RunMigrations(db, logger); err != nil {
			database.Close(db, logger)
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a := &App{Config: cfg, Logger: logger, DB: db}

	var locker store.Locker = store.NewMutexLocker()
	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = store.NewRedisLocker(a.Redis)
		logger.WithField("addr", cfg.Redis.Addr()).Info("Using redis feature locks")
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	retrying := store.NewRetryingStore(
		store.NewGormStore(db, locker, cfg.License.LockTTL),
		cfg.License.StoreRetryAttempts,
		store.BackoffConfig{
			Initial:    cfg.License.StoreRetryInitial,
			Multiplier: 2,
			Jitter:     0.2,
			Max:        cfg.License.StoreRetryMax,
		},
		logger,
	)
	retrying.OnRetry = a.Metrics.RecordStoreRetry

	storage, err := services.NewStorageService(&cfg.AWS)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize export storage: %w", err)
	}

	a.Services = services.New(services.Deps{
		Store:   retrying,
		DB:      db,
		Storage: storage,
		Metrics: a.Metrics,
		Logger:  logger,
		Config:  cfg,
	})
	if cfg.License.LastCheckAsync {
		a.Services.LastCheck.Start()
	}

	return a, nil
}

// Close drains background work and releases connections.
func (a *App) Close() {
	if a.Services != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Services.LastCheck.Stop(ctx); err != nil {
			a.Logger.WithError(err).Warn("last_check writer did not drain")
		}
		cancel()
		a.Services.Notification.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing redis client")
		}
	}
	database.Close(a.DB, a.Logger)
}
