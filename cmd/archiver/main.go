package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/config"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/database"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/telemetry"
)

// Command-line flags
var (
	mode      = flag.String("mode", "prune", "Operation mode: prune, stats")
	days      = flag.Int("days", 90, "Retain decision events for this many days")
	batchSize = flag.Int("batch", 1000, "Batch size for deletion")
	batchRate = flag.Float64("rate", 10, "Maximum delete batches per second")
	dryRun    = flag.Bool("dry-run", false, "Report what would be pruned without deleting")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		logger.Error("failed to setup zap logger", "error", err)
		os.Exit(1)
	}

	pool, err := database.NewConnectionPool(&cfg.Database, zapLogger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	events := repository.NewEventRepository(pool.GetDB())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "prune":
		err = runPrune(ctx, events, logger)
	case "stats":
		err = runStats(ctx, events)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}

	if err != nil {
		logger.Error("operation failed", "error", err)
		os.Exit(1)
	}

	logger.Info("operation completed")
}

// runPrune deletes decision events past the retention window in batches so
// the table never locks up under one giant delete.
func runPrune(ctx context.Context, events repository.EventRepository, logger *slog.Logger) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -*days)

	logger.Info("starting prune",
		"cutoff", cutoff.Format(time.RFC3339),
		"batch_size", *batchSize,
		"batch_rate", *batchRate,
		"dry_run", *dryRun)

	if *dryRun {
		candidates, err := countOlderThan(ctx, events, cutoff)
		if err != nil {
			return err
		}
		logger.Info("dry run, nothing deleted", "events_past_retention", candidates)
		return nil
	}

	// Pace the batches so the prune never monopolizes the events table
	// while the API is serving live decisions against it.
	limiter := rate.NewLimiter(rate.Limit(*batchRate), 1)

	startTime := time.Now()
	var total int64
	for {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("prune interrupted", "events_pruned", total)
			return err
		}

		deleted, err := events.DeleteOlderThan(ctx, cutoff, *batchSize)
		if err != nil {
			return fmt.Errorf("prune failed after %d events: %w", total, err)
		}
		if deleted == 0 {
			break
		}

		total += deleted
		logger.Debug("pruned batch", "deleted", deleted, "total", total)
	}

	duration := time.Since(startTime)
	eventsPerSecond := float64(total) / duration.Seconds()

	logger.Info("prune completed",
		"events_pruned", total,
		"duration", duration,
		"events_per_second", fmt.Sprintf("%.2f", eventsPerSecond))

	return nil
}

// runStats displays decision counts inside and outside the retention window.
func runStats(ctx context.Context, events repository.EventRepository) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -*days)

	all, err := events.CountByOutcome(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	recent, err := events.CountByOutcome(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to count recent events: %w", err)
	}

	var totalAll, totalRecent int64
	for _, count := range all {
		totalAll += count
	}
	for _, count := range recent {
		totalRecent += count
	}

	fmt.Printf("\n=== Decision Audit Statistics ===\n")
	fmt.Printf("Total Events: %d\n", totalAll)
	fmt.Printf("Within %d-day Retention: %d\n", *days, totalRecent)
	fmt.Printf("Past Retention: %d\n", totalAll-totalRecent)

	fmt.Printf("\nEvents by Outcome:\n")
	for outcome, count := range all {
		fmt.Printf("  %s: %d events\n", outcome, count)
	}

	return nil
}

func countOlderThan(ctx context.Context, events repository.EventRepository, cutoff time.Time) (int64, error) {
	all, err := events.CountByOutcome(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	recent, err := events.CountByOutcome(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent events: %w", err)
	}

	var candidates int64
	for _, count := range all {
		candidates += count
	}
	for _, count := range recent {
		candidates -= count
	}
	return candidates, nil
}
