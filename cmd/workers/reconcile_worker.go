package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/config"
	"carbon-scribe/project-portal/registry-backend/internal/database"
	"carbon-scribe/project-portal/registry-backend/internal/monitoring"
	"carbon-scribe/project-portal/registry-backend/internal/scheduler"
	"carbon-scribe/project-portal/registry-backend/internal/store"
	"carbon-scribe/project-portal/registry-backend/internal/workflow"
	"carbon-scribe/project-portal/registry-backend/pkg/logger"
)

const reconcileJob = "ledger-reconcile"

// ReconcileWorker periodically compares submissions with the credit ledger.
type ReconcileWorker struct {
	scheduler  *scheduler.Manager
	reconciler *workflow.Reconciler
	logger     *zap.Logger
	config     config.WorkersConfig
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(st store.Store, metrics *monitoring.MetricsService, logger *zap.Logger, cfg config.WorkersConfig) *ReconcileWorker {
	return &ReconcileWorker{
		scheduler: scheduler.NewManager(logger, scheduler.Config{
			JobTimeout: cfg.JobTimeout,
			Location:   time.UTC,
		}),
		reconciler: workflow.NewReconciler(st, logger, metrics),
		logger:     logger,
		config:     cfg,
	}
}

// Start schedules the job, runs it once and blocks until ctx is done.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	err := w.scheduler.AddJob(reconcileJob, w.config.ReconcileSchedule, func(ctx context.Context) error {
		findings, err := w.reconciler.Run(ctx)
		if err != nil {
			return err
		}
		w.logger.Info("Reconciliation finished", zap.Int("findings", len(findings)))
		return nil
	})
	if err != nil {
		return err
	}

	w.logger.Info("Starting reconcile worker", zap.String("schedule", w.config.ReconcileSchedule))
	if err := w.scheduler.Start(); err != nil {
		return err
	}
	if err := w.scheduler.RunNow(reconcileJob); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Stop waits for a running pass to finish.
func (w *ReconcileWorker) Stop(ctx context.Context) error {
	return w.scheduler.Stop(ctx)
}

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg)
	if err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer log.Sync()

	if cfg.Storage.Driver != config.StorageDriverPostgres {
		log.Fatal("Reconcile worker requires the postgres store", zap.String("driver", cfg.Storage.Driver))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("Connected to database")

	metrics := monitoring.NewMetricsService()
	metricsSrv := &http.Server{Addr: cfg.Workers.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	worker := NewReconcileWorker(store.NewPostgresStore(db), metrics, log, cfg.Workers)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutdown signal received")
		cancel()
	}()

	if err := worker.Start(ctx); err != nil {
		log.Error("Worker error", zap.Error(err))
	}

	stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := worker.Stop(stopCtx); err != nil {
		log.Warn("Reconcile pass did not finish before shutdown", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(stopCtx)

	log.Info("Reconcile worker stopped")
}
