package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/application"
	"github.com/relaygate/relaygate/internal/infrastructure/config"
	"github.com/relaygate/relaygate/internal/infrastructure/logger"
)

const (
	appName    = "relaygate"
	appVersion = "0.1.0"
)

// Exit codes follow the sysexits convention: 64 for configuration errors,
// 70 for internal failures.
const (
	exitConfig  = 64
	exitRuntime = 70
)

func main() {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Self-hosted LLM gateway",
		Long:          "relaygate accepts canonical messages requests and dispatches them to local or cloud model providers with routing, retries, fallback, and memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStart,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the gateway server",
		RunE:  runStart,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntime)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(exitConfig)
	}
	defer log.Sync()

	log.Info("Starting relaygate",
		zap.String("version", appVersion),
		zap.String("provider", cfg.Routing.Provider),
		zap.String("mode", cfg.Routing.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.New(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		os.Exit(exitRuntime)
	}

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(exitRuntime)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
		os.Exit(exitRuntime)
	}

	log.Info("Goodbye")
	return nil
}
