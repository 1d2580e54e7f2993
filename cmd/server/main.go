package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akarpov/crmsync/internal/config"
	"github.com/akarpov/crmsync/internal/server/cluster"
	"github.com/akarpov/crmsync/internal/server/handlers"
	"github.com/akarpov/crmsync/internal/server/middleware"
	"github.com/akarpov/crmsync/internal/server/storage/sqlite"
	"github.com/akarpov/crmsync/internal/validation"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting server",
		"version", Version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	gate := validation.NewDefaultGate()

	store, err := sqlite.New(ctx, cfg.DBPath, gate)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	clusterManager := cluster.NewManager(cfg.NodeAddr)

	jwtConfig := handlers.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		TokenTTL: cfg.TokenTTL,
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(logger, cfg, jwtConfig, store, clusterManager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown по SIGINT/SIGTERM
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
		cancel()
	}()

	logger.Info("server listening", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newRouter(
	logger *slog.Logger,
	cfg *config.Config,
	jwtConfig handlers.JWTConfig,
	store *sqlite.Storage,
	clusterManager *cluster.Manager,
) http.Handler {
	healthHandler := handlers.NewHealthHandler(logger, Version)
	bulkHandler := handlers.NewBulkHandler(logger, store)
	changesHandler := handlers.NewChangesHandler(logger, store)
	clusterHandler := handlers.NewClusterHandler(logger, clusterManager)

	auth := middleware.AuthMiddleware(logger, jwtConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", healthHandler.Health)
	mux.Handle("/api/v1/bulk", auth(http.HandlerFunc(bulkHandler.HandleBulk)))
	mux.Handle("/api/v1/changes", auth(http.HandlerFunc(changesHandler.HandleChanges)))
	mux.Handle("/api/v1/cluster/enable", auth(http.HandlerFunc(clusterHandler.HandleEnable)))
	mux.Handle("/api/v1/cluster/nodes", auth(http.HandlerFunc(clusterHandler.HandleAddNode)))
	mux.Handle("/api/v1/cluster/finish", auth(http.HandlerFunc(clusterHandler.HandleFinish)))
	mux.Handle("/api/v1/cluster/membership", auth(http.HandlerFunc(clusterHandler.HandleMembership)))
	mux.Handle("/api/v1/cluster/collections", auth(http.HandlerFunc(clusterHandler.HandleEnsureCollection)))

	// Внешние middleware срабатывают первыми
	var handler http.Handler = mux
	handler = middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateWindow, logger)(handler)
	handler = middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)

	return handler
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel,
	}))
}

func printVersion() {
	fmt.Printf("crmsync server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
