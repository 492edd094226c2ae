// agents-worker — воркер очереди доменных событий клиники.
//
// Воркер:
//   - Применяет миграции схемы очереди
//   - Ставит события периодических триггеров (через idempotency-locks)
//   - Захватывает события по одному (FOR UPDATE SKIP LOCKED)
//   - Раздаёт их доменным агентам и реализует retry с exponential backoff
//
// Воркеры масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinova/dental-agents/internal/agents"
	"github.com/clinova/dental-agents/internal/config"
	"github.com/clinova/dental-agents/internal/dispatch"
	"github.com/clinova/dental-agents/internal/notify"
	"github.com/clinova/dental-agents/internal/repo"
	"github.com/clinova/dental-agents/internal/telemetry"
	"github.com/clinova/dental-agents/internal/worker"
	"github.com/clinova/dental-agents/migrations"
)

const httpShutdownTimeout = 5 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting agents-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = telemetry.WithWorkerID(logger, cfg.WorkerID)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Схема очереди
	if err := migrations.Apply(ctx, pool, logger); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	// Репозитории
	eventRepo := repo.NewEventRepo(pool, cfg.WorkerID, cfg.LockTTL, cfg.MaxAttempts)
	lockRepo := repo.NewLockRepo(pool, cfg.WorkerID)
	runRepo := repo.NewRunRepo(pool)
	timelineRepo := repo.NewTimelineRepo()

	// Агенты и маршрутизация
	notifier := notify.New()
	router := dispatch.NewRouter(logger)
	agents.RegisterRoutes(router,
		agents.NewAppointmentAgent(timelineRepo, notifier, logger),
		agents.NewInventoryAgent(notifier, logger),
		agents.NewRevenueAgent(notifier, logger),
		agents.NewCaseTrackingAgent(timelineRepo, notifier, logger),
	)

	// Периодические триггеры: встроенные или из YAML-файла
	triggers := worker.DefaultTriggers()
	var loader *config.TriggerLoader
	if cfg.TriggersFile != "" {
		loader, err = config.NewTriggerLoader(cfg.TriggersFile)
		if err != nil {
			logger.Error("failed to load triggers file", "path", cfg.TriggersFile, "error", err)
			os.Exit(1)
		}
		triggers, err = worker.FromSpecs(loader.Triggers())
		if err != nil {
			logger.Error("invalid triggers file", "path", cfg.TriggersFile, "error", err)
			os.Exit(1)
		}
		logger.Info("triggers loaded", "path", cfg.TriggersFile, "count", len(triggers))
	}

	// Воркер
	w := worker.New(worker.Config{
		DB:           pool,
		Events:       eventRepo,
		Locks:        lockRepo,
		Runs:         runRepo,
		Router:       router,
		Triggers:     triggers,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	// Hot reload триггеров
	if loader != nil {
		loader.OnChange(func(specs []config.TriggerSpec) {
			reloaded, err := worker.FromSpecs(specs)
			if err != nil {
				logger.Error("triggers reload rejected", "error", err)
				return
			}
			w.SetTriggers(reloaded)
		})
		stopWatch, err := loader.Watch()
		if err != nil {
			logger.Warn("triggers watch disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	w.Start(ctx)

	// HTTP: метрики и health
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(rw, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("agents-worker stopped")
}
