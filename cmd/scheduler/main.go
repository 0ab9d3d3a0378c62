// Command scheduler runs the match scheduler: a lock-guarded periodic worker
// that pairs compatible candidates, commits them to Postgres, expires stale
// queue entries, and sends notification mail.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/g-match/matcher/internal/cache"
	"github.com/g-match/matcher/internal/config"
	"github.com/g-match/matcher/internal/notify"
	"github.com/g-match/matcher/internal/scheduler"
	"github.com/g-match/matcher/internal/storage"
	"github.com/g-match/matcher/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Match scheduler for the roommate matching queue",
	}
	rootCmd.AddCommand(newRunCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scheduler version %s\n", version)
		},
	}
}

func newRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the match scheduler worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Attempt a single cycle and exit")
	return cmd
}

func run(once bool) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("scheduler starting",
		"version", version,
		"interval", cfg.SchedulerInterval,
		"threshold", cfg.MatchThreshold,
	)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-scheduler", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	c, err := cache.New(cfg.RedisURL, cfg.MgetBatch, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	notifier := notify.New(notify.Config{
		Enabled:     cfg.EmailEnabled,
		SMTPHost:    cfg.SMTPHost,
		SMTPPort:    cfg.SMTPPort,
		SMTPUser:    cfg.SMTPUser,
		SMTPPass:    cfg.SMTPPassword,
		From:        cfg.SMTPFrom,
		FrontendURL: cfg.FrontendURL,
		QueueSize:   cfg.NotifyQueueSize,
		Workers:     cfg.NotifyWorkers,
	}, logger)
	notifier.Start(ctx)

	sched := scheduler.New(c, db, notifier, logger, scheduler.Options{
		Interval:       cfg.SchedulerInterval,
		Threshold:      cfg.MatchThreshold,
		PriorityBypass: cfg.PriorityBypass,
		BypassEnabled:  cfg.PriorityBypassEnabled,
		ExpireAfter:    cfg.ExpireAfter,
		LockExpire:     cfg.LockExpire,
		CallTimeout:    cfg.CallTimeout,
	})

	if once {
		sched.RunOnce(ctx)
	} else if err := sched.Run(ctx); err != nil {
		return err
	}

	// Flush queued mail before exiting.
	logger.Info("scheduler shutting down")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	notifier.Drain(drainCtx)
	drainCancel()

	logger.Info("scheduler stopped")
	return nil
}
