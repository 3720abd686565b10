// Package app assembles a document store from configuration: storage
// backend, blob directory, write queue and service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"docstore/internal/attachments"
	"docstore/internal/config"
	"docstore/internal/domain/repositories"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
	"docstore/internal/queue"
	"docstore/internal/repository/leveldb"
	"docstore/internal/repository/postgres"
	postgresDocstore "docstore/internal/repository/postgres/docstore"
	serviceDocstore "docstore/internal/service/docstore"
)

// App owns an open document store and the resources behind it.
type App struct {
	Name  string
	Store *serviceDocstore.Store

	queue   *queue.Queue
	closers []func() error
}

// Open builds the store selected by cfg.StorageBackend. Postgres tables are
// created when missing.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	var (
		repos   docstoreRepo.Repositories
		txm     repositories.TransactionManager
		closers []func() error
	)

	switch cfg.StorageBackend {
	case config.BackendLevelDB:
		db, err := leveldb.Open(filepath.Join(cfg.DataDir, "db"), logger)
		if err != nil {
			return nil, err
		}
		repos, txm = db.Repositories(), db.TransactionManager()
		closers = append(closers, db.Close)

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.Migrate(ctx, pool, tables); err != nil {
			pool.Close()
			return nil, err
		}
		repos = postgresDocstore.NewRepositories(&postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger})
		txm = postgres.NewTransactionManager(pool, logger)
		closers = append(closers, func() error { pool.Close(); return nil })
		logger.Info("connected to postgres", "table_prefix", cfg.TablePrefix)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	a, err := assemble(cfg.DatabaseName, filepath.Join(cfg.DataDir, "attachments"), repos, txm, logger)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	return a, nil
}

// OpenMemory builds a store on in-memory leveldb with blobs under dir.
func OpenMemory(name, dir string, logger *slog.Logger, opts ...serviceDocstore.Option) (*App, error) {
	db, err := leveldb.OpenMemory(logger)
	if err != nil {
		return nil, err
	}
	a, err := assemble(name, dir, db.Repositories(), db.TransactionManager(), logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return a, nil
}

func assemble(name, blobDir string, repos docstoreRepo.Repositories, txm repositories.TransactionManager, logger *slog.Logger, opts ...serviceDocstore.Option) (*App, error) {
	blobs, err := attachments.NewStore(blobDir, repos.Attachments, logger)
	if err != nil {
		return nil, err
	}
	q := queue.New(name, txm, logger)
	return &App{
		Name:  name,
		Store: serviceDocstore.NewDocumentStore(repos, blobs, q, logger, opts...),
		queue: q,
	}, nil
}

// Close drains the write queue, then releases storage.
func (a *App) Close() error {
	a.queue.Close()
	return closeAll(a.closers)
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
