package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docstore/internal/app"
	"docstore/internal/config"
	"docstore/internal/couch"
	modelsRepl "docstore/internal/domain/models/replication"
	"docstore/internal/replication"

	"github.com/joho/godotenv"
)

func main() {
	remoteURL := flag.String("remote", "", "URL of the remote database, e.g. http://localhost:5984/notes")
	direction := flag.String("direction", "pull", "pull or push")
	token := flag.String("token", "", "bearer token for the remote")
	batch := flag.Int("batch", 0, "changes per checkpointed batch (default REPLICATION_BATCH_SIZE)")
	rps := flag.Float64("rps", 0, "max requests per second to the remote, 0 for unlimited")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	job := config.ReplicationJob{
		Name:              "cli",
		Remote:            *remoteURL,
		Direction:         *direction,
		Interval:          config.ReplicationMinBackoff,
		Token:             *token,
		BatchSize:         *batch,
		RequestsPerSecond: *rps,
	}
	if err := job.Validate(); err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	logger, logCloser, err := config.NewLogger(cfg, "replicate")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	ctx := context.Background()
	store, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	remote, err := couch.NewJobClient(job, logger)
	if err != nil {
		log.Fatalf("Failed to create remote client: %v", err)
	}

	opts := replication.Options{
		BatchSize:        cfg.ReplicationBatchSize,
		FetchConcurrency: cfg.ReplicationFetchConcurrency,
	}
	if job.BatchSize > 0 {
		opts.BatchSize = job.BatchSize
	}
	r := replication.New(store.Store, store.Name, remote, modelsRepl.Direction(job.Direction), opts, logger)

	// first signal stops between documents; the checkpoint stays at the last full batch
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Warn("cancelling replication")
		r.Cancel()
	}()

	result, err := r.Run(ctx)
	if err != nil {
		logger.Error("replication failed", "replication_id", r.ID(), "error", err)
		store.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("Failed to print result: %v", err)
	}
}
