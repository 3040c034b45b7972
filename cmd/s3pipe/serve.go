package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bleepstore/s3pipe/internal/journal"
	"github.com/bleepstore/s3pipe/internal/metrics"
	"github.com/bleepstore/s3pipe/internal/server"
)

type serveOptions struct {
	host            string
	port            int
	shutdownTimeout int
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingest server",
		Long:  "Run the HTTP ingest server. Every PUT /streams/{bucket}/{key} streams its request body into one object.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "override listening host (default: from config or 0.0.0.0)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "override listening port (default: from config or 9300)")
	cmd.Flags().IntVar(&opts.shutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	return cmd
}

func runServe(opts *serveOptions) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = opts.shutdownTimeout
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	// SQLite WAL recovers on open; transfers left active by a crash stay
	// visible in the journal.
	j, err := journal.Open(context.Background(), cfg.Journal)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	srv, err := server.New(cfg, server.WithJournal(j), server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("s3pipe listening", "addr", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight transfers time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
		logger.Info("Server stopped")
		return nil

	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
