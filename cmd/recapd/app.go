package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/recapd/recapd/internal/config"
	"github.com/recapd/recapd/internal/ingest"
	"github.com/recapd/recapd/internal/platform/postgres"
	"github.com/recapd/recapd/internal/store"
	"github.com/recapd/recapd/internal/task"
)

// application holds the daemon's wired dependencies.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore    task.Store
	eventStore   store.EventStore
	meetingStore store.MeetingStore

	registry   *task.Registry
	ingestor   *ingest.Ingestor
	workerPool *task.WorkerPool
	reaper     *task.Reaper
	scanner    *ingest.Scanner
}

// newApplication wires every component from configuration: database,
// stores, executors, ingestion, worker pool, and reaper.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := openDatabase(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, err
	}

	if err := postgres.RunMigrations(db, logger); err != nil {
		closeDatabase(db, logger)
		return nil, err
	}

	app := &application{
		config:       cfg,
		logger:       logger,
		db:           db,
		taskStore:    postgres.NewTaskStore(db),
		eventStore:   postgres.NewEventStore(db),
		meetingStore: postgres.NewMeetingStore(db),
		registry:     task.NewRegistry(),
	}

	registerExecutors(app.registry, pipelineExecutors(logger), logger)

	txRunner := func(ctx context.Context, fn store.TxFn) error {
		return store.RunInTransaction(ctx, db, fn)
	}

	app.ingestor = ingest.NewIngestor(
		txRunner,
		app.eventStore,
		app.meetingStore,
		app.taskStore,
		newEventFilter(logger),
		0,
		logger,
	)

	app.workerPool = task.NewWorkerPool(app.taskStore, app.registry, task.WorkerPoolConfig{
		WorkerCount:       cfg.Worker.Count,
		PollInterval:      cfg.Worker.PollInterval,
		TaskTimeout:       cfg.Worker.TaskTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, logger)

	app.reaper = task.NewReaper(app.taskStore, task.ReaperConfig{
		Interval:       cfg.Reaper.Interval,
		StaleThreshold: cfg.Reaper.StaleThreshold,
	}, logger)

	if source := newEventSource(logger); source != nil {
		app.scanner = ingest.NewScanner(ingest.ScannerConfig{
			Interval:        cfg.Scanner.Interval,
			InitialLookback: cfg.Scanner.InitialLookback,
			SafetyMargin:    cfg.Scanner.SafetyMargin,
		}, source, app.ingestor, app.eventStore, logger)
	}

	return app, nil
}

// run starts the background components and the HTTP server, then blocks
// until the context is cancelled. Shutdown order matters: the server
// stops accepting first, then the pool drains in-flight tasks, then the
// reaper and scanner stop.
func (app *application) run(ctx context.Context) error {
	app.reaper.Start()
	app.workerPool.Start()

	var wg sync.WaitGroup
	if app.scanner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.scanner.Start(ctx)
		}()
	} else {
		app.logger.Warn("no event source configured, reconciliation scanner disabled")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.setupRouter(),
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	case err := <-serverErr:
		app.logger.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
	}

	app.workerPool.Stop()
	app.reaper.Stop()
	wg.Wait()

	app.logger.Info("shutdown complete")
	return nil
}

// cleanup releases resources held by the application.
func (app *application) cleanup() {
	closeDatabase(app.db, app.logger)
}
