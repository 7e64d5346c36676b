package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"prospector/internal/config"
	"prospector/internal/domain"
	"prospector/internal/events"
	"prospector/internal/handler"
	"prospector/internal/logger"
	"prospector/internal/port"
	"prospector/internal/repository/postgres"
	"prospector/internal/router"
	"prospector/internal/service"
)

// @title Prospector API
// @version 1.0
// @description Document extraction pipeline with a human review gate.
// @BasePath /api/v1
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logr := logger.New(cfg.Log)

	schema, ok := domain.SchemaByVersion(cfg.Pipeline.SchemaVersion)
	if !ok {
		return fmt.Errorf("unknown field schema version: %s", cfg.Pipeline.SchemaVersion)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Initialize adapters
	storage, err := newStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	recognizer, err := newRecognizer(cfg, storage, logr)
	if err != nil {
		return fmt.Errorf("failed to initialize recognizer: %w", err)
	}
	structurer, err := newStructurer(cfg, logr)
	if err != nil {
		return fmt.Errorf("failed to initialize structurer: %w", err)
	}

	jobQueue, queueCheck, closeQueue, err := newQueue(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize job queue: %w", err)
	}
	defer closeQueue()

	publisher, err := events.New(&cfg.Events, logr)
	if err != nil {
		return fmt.Errorf("failed to initialize event sinks: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logr.WithError(err).Warn("server: closing event sinks")
		}
	}()

	// Initialize repositories and services
	jobRepo := postgres.NewJobRepo(db)
	extractionSvc := service.NewExtractionService(jobRepo, jobQueue, publisher, service.ExtractionServiceConfig{
		Schema:         schema,
		ResubmitPolicy: domain.ResubmitPolicy(cfg.Pipeline.ResubmitPolicy),
	}, logr)
	reviewGate := service.NewReviewGate(jobRepo, publisher, logr)
	worker := service.NewExtractionWorker(jobQueue, jobRepo, recognizer, structurer, publisher, service.WorkerConfig{
		Concurrency: cfg.Pipeline.Concurrency,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff: service.BackoffPolicy{
			Base:   cfg.Pipeline.BackoffBase,
			Max:    cfg.Pipeline.BackoffMax,
			Jitter: cfg.Pipeline.BackoffJitter,
		},
		RecognitionTimeout: cfg.Pipeline.RecognitionTimeout,
		StructuringTimeout: cfg.Pipeline.StructuringTimeout,
	}, logr)

	recovered, err := extractionSvc.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight jobs: %w", err)
	}
	logr.WithField("jobs", recovered).Info("server: re-enqueued in-flight jobs")

	// Initialize handlers
	checks := map[string]port.Pinger{"database": postgres.NewPinger(db)}
	if queueCheck != nil {
		checks["queue"] = queueCheck
	}
	extractionH := handler.NewExtractionHandler(extractionSvc, reviewGate, schema)
	healthH := handler.NewHealthHandler(checks)

	// Setup router
	r := router.Setup(logr, cfg.Server.CORSOrigins, extractionH, healthH)
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		worker.Start(workerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logr.WithField("addr", cfg.Server.Port).Info("server: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logr.Info("server: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			workers.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.WithError(err).Warn("server: HTTP shutdown incomplete")
	}

	// Stop consuming, let in-flight jobs finish their current stage, then drain.
	cancelWorkers()
	if err := jobQueue.Close(); err != nil {
		logr.WithError(err).Warn("server: closing job queue")
	}
	waitWithTimeout(shutdownCtx, &workers, logr)
	logr.Info("server: stopped")
	return nil
}

func waitWithTimeout(ctx context.Context, wg *sync.WaitGroup, log logrus.FieldLogger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("server: workers did not drain before the shutdown timeout")
	}
}
