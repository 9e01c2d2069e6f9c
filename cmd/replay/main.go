// Package main runs a full historical replay: bars from a store or
// fixture through the engine, with optional export, report, and replay
// verification.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"barlab/internal/confighash"
	"barlab/internal/domain"
	"barlab/internal/engine"
	"barlab/internal/export"
	"barlab/internal/feed"
	"barlab/internal/reporting"
	"barlab/internal/runcfg"
	"barlab/internal/script"
	"barlab/internal/sink"
	"barlab/internal/storage"
	chstore "barlab/internal/storage/clickhouse"
	"barlab/internal/storage/memory"
	"barlab/internal/storage/migrations"
	pgstore "barlab/internal/storage/postgres"
	"barlab/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Run configuration YAML (required)")
	useFixtures := flag.Bool("use-fixtures", false, "Seed an in-memory bar store with synthetic bars")
	fixtureBars := flag.Int("fixture-bars", 500, "Number of synthetic bars when using fixtures")
	outputDir := flag.String("output-dir", "", "Directory for report files; empty prints to stdout")
	verify := flag.Bool("verify", false, "Recompute the run and diff it against stored series rows")
	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	// Validate required flags
	if *configPath == "" {
		logger.Fatal("--config is required")
	}
	cfg, err := runcfg.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
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

	stores, cleanup, err := openStores(ctx, cfg, *useFixtures, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}
	defer cleanup()

	if *useFixtures {
		if err := seedFixtureBars(ctx, stores.bars, cfg.Run.Symbol, cfg.Run.Timeframe, *fixtureBars); err != nil {
			logger.Fatalf("seed fixture bars: %v", err)
		}
		logger.Printf("Seeded %d synthetic bars for %s/%s", *fixtureBars, cfg.Run.Symbol, cfg.Run.Timeframe)
	}

	rc := cfg.RunConfig()
	runKey := confighash.Key(rc)
	barFeed := feed.NewStore(stores.bars, cfg.Run.Symbol, cfg.Run.Timeframe)

	runner := engine.NewRunner(engine.RunnerOptions{
		Graph:  graph,
		Sink:   sink.NewStore(stores.series, runKey),
		Logger: logger,
	})

	started := time.Now()
	handle, err := runner.Run(ctx, rc, barFeed)
	if err != nil {
		logger.Fatalf("run failed: %v", err)
	}
	finished := time.Now()

	record := &domain.RunRecord{
		RunID:           handle.ID.String(),
		RunKey:          handle.Key,
		Symbol:          rc.Symbol,
		Timeframe:       rc.Timeframe,
		GraphID:         rc.GraphID,
		Attached:        handle.Attached,
		Restarts:        handle.Restarts,
		CommittedPoints: handle.Log.CommittedPoints(),
		StartedMs:       started.UnixMilli(),
		FinishedMs:      finished.UnixMilli(),
	}
	if err := stores.runs.Insert(ctx, record); err != nil {
		logger.Fatalf("record run: %v", err)
	}

	if cfg.Export.Format != "" {
		if err := exportSeries(ctx, stores.series, runKey, cfg.Export); err != nil {
			logger.Fatalf("export: %v", err)
		}
		logger.Printf("Exported committed series to %s", cfg.Export.Path)
	}

	if *verify {
		verifier := verification.NewReplayVerifier(graph, stores.series, logger)
		res, err := verifier.Verify(ctx, rc, barFeed)
		if err != nil {
			logger.Fatalf("verify: %v", err)
		}
		if !res.Match {
			logger.Fatalf("verification found %d divergences", len(res.Divergences))
		}
	}

	if err := writeReport(ctx, stores, runKey, *outputDir); err != nil {
		logger.Fatalf("report: %v", err)
	}

	// Output summary
	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Run ID:            %s\n", record.RunID)
	fmt.Printf("Run Key:           %s\n", handle.Short)
	fmt.Printf("Mode:              %s\n", runMode(handle.Attached))
	fmt.Printf("Committed Points:  %d\n", record.CommittedPoints)
	fmt.Printf("Replay Restarts:   %d\n", record.Restarts)
	fmt.Printf("Duration:          %v\n", finished.Sub(started))
}

// allStores groups the backend-selected storage implementations.
type allStores struct {
	bars   storage.BarStore
	series storage.SeriesStore
	runs   storage.RunStore
}

// openStores builds the storage set for the configured backend. Run
// records live in postgres or memory; clickhouse holds bars and
// series only.
func openStores(ctx context.Context, cfg *runcfg.Config, useFixtures bool, logger *log.Logger) (*allStores, func(), error) {
	backend := cfg.Storage.Backend
	if useFixtures {
		backend = "memory"
	}

	switch backend {
	case "memory":
		return &allStores{
			bars:   memory.NewBarStore(),
			series: memory.NewSeriesStore(),
			runs:   memory.NewRunStore(),
		}, func() {}, nil

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Printf("Connected to postgres")
		return &allStores{
			bars:   pgstore.NewBarStore(pool),
			series: pgstore.NewSeriesStore(pool),
			runs:   pgstore.NewRunStore(pool),
		}, pool.Close, nil

	case "clickhouse":
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		logger.Printf("Connected to clickhouse")
		return &allStores{
			bars:   chstore.NewBarStore(conn),
			series: chstore.NewSeriesStore(conn),
			runs:   memory.NewRunStore(),
		}, func() { _ = conn.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported backend %q", backend)
}

// seedFixtureBars fills an empty bar store with a deterministic
// synthetic walk so fixture replays are reproducible.
func seedFixtureBars(ctx context.Context, bars storage.BarStore, symbol, timeframe string, n int) error {
	existing, err := bars.GetAll(ctx, symbol, timeframe)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	points := make([]*domain.TimePoint, 0, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	price := 100.0
	for i := 0; i < n; i++ {
		drift := 2 * math.Sin(float64(i)/12)
		open := price
		price = 100 + float64(i)*0.05 + drift
		high := math.Max(open, price) + 0.5
		low := math.Min(open, price) - 0.5
		points = append(points, &domain.TimePoint{
			Index:       int64(i),
			IsFinalized: true,
			Bar: domain.Bar{
				Symbol:      symbol,
				TimestampMs: base + int64(i)*60_000,
				Open:        open,
				High:        high,
				Low:         low,
				Close:       price,
				Volume:      1000 + 50*math.Abs(drift),
			},
		})
	}
	return bars.InsertBulk(ctx, symbol, timeframe, points)
}

// exportSeries saves the persisted committed rows. The commit log only
// retains each expression's capacity-bounded tail, so the store is the
// full record.
func exportSeries(ctx context.Context, series storage.SeriesStore, runKey string, cfg runcfg.Export) error {
	saver := export.NewSaver(cfg.Format)
	if saver == nil {
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	rows, err := series.GetByRunKey(ctx, runKey)
	if err != nil {
		return err
	}
	return saver.Save(rows, cfg.Path)
}

// writeReport renders the run report to output-dir, or stdout when no
// directory was given.
func writeReport(ctx context.Context, stores *allStores, runKey, outputDir string) error {
	gen := reporting.NewGenerator(stores.runs, stores.series)
	report, err := gen.Generate(ctx, runKey)
	if err != nil {
		return err
	}

	markdown := reporting.RenderMarkdown(report)
	if outputDir == "" {
		fmt.Print(markdown)
		return nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outputDir, "run_report.md"), []byte(markdown), 0o644); err != nil {
		return err
	}
	stats := reporting.RenderCSV(report.ExprStats)
	return os.WriteFile(filepath.Join(outputDir, "expr_stats.csv"), []byte(stats), 0o644)
}

func runMode(attached bool) string {
	if attached {
		return "attached"
	}
	return "computed"
}
