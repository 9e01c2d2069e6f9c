// Package main runs a realtime session: a WebSocket bar feed through
// the engine, committing finalized output to storage, with a
// Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barlab/internal/commitlog"
	"barlab/internal/confighash"
	"barlab/internal/domain"
	"barlab/internal/engine"
	"barlab/internal/feed/ws"
	"barlab/internal/observability"
	"barlab/internal/runcfg"
	"barlab/internal/script"
	"barlab/internal/sink"
	"barlab/internal/storage"
	chstore "barlab/internal/storage/clickhouse"
	"barlab/internal/storage/memory"
	"barlab/internal/storage/migrations"
	pgstore "barlab/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Run configuration YAML (required)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[stream] ", log.LstdFlags)

	// Validate required flags
	if *configPath == "" {
		logger.Fatal("--config is required")
	}
	cfg, err := runcfg.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Feed.Source != "ws" {
		logger.Fatal("stream needs feed.source: ws in the run configuration")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	graph, err := script.BuildGraph(cfg.Run.Graph, cfg.Run.Params)
	if err != nil {
		logger.Fatalf("build graph %q: %v (known: %v)", cfg.Run.Graph, err, script.GraphIDs())
	}

	bars, series, runs, cleanup, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("barlab")
	startMetricsServer(ctx, *metricsAddr, metrics, logger)

	barFeed, err := ws.New(ctx, cfg.Feed.WSURL, cfg.Run.Symbol, cfg.Run.Timeframe, bars, nil)
	if err != nil {
		logger.Fatalf("connect feed: %v", err)
	}
	barFeed.SetReconnectHook(metrics.FeedReconnects.Inc)
	defer barFeed.Close()

	rc := cfg.RunConfig()
	runKey := confighash.Key(rc)

	runner := engine.NewRunner(engine.RunnerOptions{
		Graph:   graph,
		Cache:   commitlog.NewCache(64),
		Sink:    sink.NewStore(series, runKey),
		Metrics: metrics,
		Logger:  logger,
	})

	started := time.Now()
	session, err := runner.Open(ctx, rc, barFeed)
	if err != nil {
		logger.Fatalf("open session: %v", err)
	}
	handle := session.Handle()
	logger.Printf("Session %s open: %d historical points committed", handle.Short, handle.Log.CommittedPoints())

	driveErr := session.Drive(ctx, barFeed)
	session.Close()
	finished := time.Now()

	if driveErr != nil && !errors.Is(driveErr, context.Canceled) {
		logger.Fatalf("session failed: %v", driveErr)
	}

	record := &domain.RunRecord{
		RunID:           handle.ID.String(),
		RunKey:          handle.Key,
		Symbol:          rc.Symbol,
		Timeframe:       rc.Timeframe,
		GraphID:         rc.GraphID,
		Restarts:        handle.Restarts,
		CommittedPoints: handle.Log.CommittedPoints(),
		StartedMs:       started.UnixMilli(),
		FinishedMs:      finished.UnixMilli(),
	}
	if err := runs.Insert(context.Background(), record); err != nil {
		logger.Printf("record run: %v", err)
	}

	logger.Printf("Session %s closed: %d points committed, %d restarts",
		handle.Short, record.CommittedPoints, record.Restarts)
}

// openStores builds storage for the configured backend. Run records
// live in postgres or memory; clickhouse holds bars and series only.
func openStores(ctx context.Context, cfg *runcfg.Config, logger *log.Logger) (storage.BarStore, storage.SeriesStore, storage.RunStore, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.NewBarStore(), memory.NewSeriesStore(), memory.NewRunStore(), func() {}, nil

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Printf("Connected to postgres")
		return pgstore.NewBarStore(pool), pgstore.NewSeriesStore(pool), pgstore.NewRunStore(pool), pool.Close, nil

	case "clickhouse":
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		logger.Printf("Connected to clickhouse")
		return chstore.NewBarStore(conn), chstore.NewSeriesStore(conn), memory.NewRunStore(),
			func() { _ = conn.Close() }, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("unsupported backend %q", cfg.Storage.Backend)
}

// startMetricsServer serves /metrics until ctx is cancelled.
func startMetricsServer(ctx context.Context, addr string, metrics *observability.Metrics, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Printf("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
