package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adfharrison1/go-odm/pkg/config"
	"github.com/adfharrison1/go-odm/pkg/logger"
	"github.com/adfharrison1/go-odm/pkg/odm"
	"github.com/adfharrison1/go-odm/pkg/server"
	"github.com/adfharrison1/go-odm/pkg/storage"
	"github.com/adfharrison1/go-odm/pkg/telemetry"
)

type serveFlags struct {
	port      string
	store     string
	keyPrefix string
	breaker   bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Settings come from the environment (and .env when
present); flags override them.

Without ODM_SNAPSHOT_FILE the memory backend keeps nothing across restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = f.port
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = f.store
			}
			if cmd.Flags().Changed("key-prefix") {
				cfg.KeyPrefix = f.keyPrefix
			}
			if cmd.Flags().Changed("breaker") {
				cfg.Breaker = f.breaker
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&f.port, "port", "p", "8080", "Server port")
	cmd.Flags().StringVar(&f.store, "store", config.StoreMemory, "Backend: memory|pebble|sqlite|redis|mongo")
	cmd.Flags().StringVar(&f.keyPrefix, "key-prefix", "", "Prefix for every key written")
	cmd.Flags().BoolVar(&f.breaker, "breaker", false, "Wrap the backend in a circuit breaker")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	tracing := cfg.TraceEndpoint != ""
	if tracing {
		shutdown, err := telemetry.InitTracer(ctx, "go-odm", cfg.TraceEndpoint, cfg.TraceSampleRatio, log)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	kv, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return err
	}

	client, err := odm.Connect(ctx, kv,
		odm.WithKeyPrefix(cfg.KeyPrefix),
		odm.WithOpTimeout(cfg.OpTimeout),
		odm.WithCASRetries(cfg.CASRetries),
		odm.WithCompressThreshold(cfg.CompressThreshold),
		odm.WithLogger(log),
	)
	if err != nil {
		kv.Close()
		return err
	}
	// Disconnect closes the store, which writes the final snapshot
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Error("disconnect failed", "error", err)
		}
	}()

	srv, err := server.NewServer(client, log,
		server.WithRateLimit(cfg.RateLimitReqs, time.Duration(cfg.RateLimitWindow)*time.Second),
		server.WithTracing(tracing),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting go-odm server", "port", cfg.Port, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-quit:
	}
	log.Info("shutting down server")

	// Give outstanding requests a deadline for completion
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return err
	}

	log.Info("server exited")
	return nil
}
