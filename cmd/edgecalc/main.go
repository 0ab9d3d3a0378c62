// Command edgecalc runs the compatibility edge calculator: a single-instance
// worker that polls the matching queue and maintains pairwise edges in Redis.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/g-match/matcher/internal/cache"
	"github.com/g-match/matcher/internal/config"
	"github.com/g-match/matcher/internal/edgecalc"
	"github.com/g-match/matcher/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgecalc",
		Short: "Compatibility edge calculator for the matching queue",
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
			fmt.Printf("edgecalc version %s\n", version)
		},
	}
}

func newRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the edge calculator worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Perform a single pass and exit")
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

	logger.Info("edgecalc starting", "version", version, "poll_interval", cfg.EdgePollInterval)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-edgecalc", version, cfg.OTELInsecure)
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

	calc := edgecalc.New(c, logger, cfg.EdgePollInterval, cfg.CallTimeout)

	if once {
		return calc.RunOnce(ctx)
	}
	if err := calc.Run(ctx); err != nil {
		return err
	}

	logger.Info("edgecalc stopped")
	return nil
}
