package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docstore/internal/app"
	"docstore/internal/auth"
	"docstore/internal/config"
	"docstore/internal/couch"
	"docstore/internal/handler"
	"docstore/internal/middleware"
	"docstore/internal/replication"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logger, logCloser, err := config.NewLogger(cfg, "server")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"database", cfg.DatabaseName,
		"backend", cfg.StorageBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	// Scheduled replication
	schedulerDone := make(chan struct{})
	if cfg.ReplicationConfig != "" {
		jobs, err := config.LoadReplicationConfig(cfg.ReplicationConfig)
		if err != nil {
			log.Fatalf("Failed to load replication config: %v", err)
		}
		scheduler := replication.NewScheduler(store.Store, store.Name, jobs.Jobs,
			func(job config.ReplicationJob) (replication.Remote, error) {
				return couch.NewJobClient(job, logger)
			},
			replication.Options{
				BatchSize:        cfg.ReplicationBatchSize,
				FetchConcurrency: cfg.ReplicationFetchConcurrency,
			},
			logger,
		)
		go func() {
			defer close(schedulerDone)
			_ = scheduler.Run(ctx)
		}()
		logger.Info("replication scheduler started", "jobs", len(jobs.Jobs))
	} else {
		close(schedulerDone)
	}

	mux := http.NewServeMux()
	handler.NewDatabaseHandler(cfg.DatabaseName, store.Store, logger).Register(mux)

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Logging → Auth → Routes
	var h http.Handler = mux
	if cfg.JWKSURL != "" {
		verifier, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer verifier.Close()
		h = middleware.Auth(verifier, logger, "/health")(h)
	} else {
		logger.Warn("bearer authentication disabled, AUTH_JWKS_URL is not set")
	}
	h = middleware.RequestLog(logger)(h)
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOriginList(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "If-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // attachment downloads
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
		stop()
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	<-schedulerDone
	logger.Info("server stopped")
}
