// Package main runs the sync engine as a local daemon. The UI talks to it
// over REST and WebSocket on localhost.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stockline/salesync/internal/app"
	"github.com/stockline/salesync/internal/config"
	"github.com/stockline/salesync/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "salesync: %v\n", err)
		os.Exit(1)
	}
}

// run starts the daemon and blocks until ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("salesync", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to the YAML configuration file")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "SaleSync v%s\n", Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.InitWithFormat(stdout, logging.ParseLevel(cfg.Log.Level), logging.Format(cfg.Log.Format))

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to start sync engine", err, nil)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error("Failed to close sync engine", err, nil)
		}
	}()
	a.Start(ctx)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server starting", map[string]interface{}{
			"addr":    cfg.HTTP.Addr,
			"version": Version,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			logging.Error("HTTP server failed", err, nil)
			return err
		}
	}

	logging.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server forced to shutdown", err, nil)
		return err
	}
	logging.Info("Server exited properly", nil)
	return nil
}
