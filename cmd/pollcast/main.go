package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pollcast/internal/app"
	"pollcast/internal/config"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

func main() {
	configPath, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath); err != nil {
		log.Fatal(err)
	}
}

// parseFlags returns the config file path. The -config flag wins over
// POLLCAST_CONFIG_FILE.
func parseFlags(fs *flag.FlagSet, args []string) (string, error) {
	configPath := fs.String("config", os.Getenv("POLLCAST_CONFIG_FILE"), "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *configPath, nil
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// run serves until ctx is cancelled, then shuts down
func run(ctx context.Context, configPath string) error {
	// Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()

	// Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
