package leveldb

import (
	"fmt"
	"log/slog"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"docstore/internal/domain/repositories"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
)

// DB is an embedded document store backend on top of goleveldb.
type DB struct {
	db     *goleveldb.DB
	logger *slog.Logger
}

// Open opens (or creates) a database directory. A corrupted manifest is
// recovered once before giving up.
func Open(path string, logger *slog.Logger) (*DB, error) {
	options := &opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	}

	db, err := goleveldb.OpenFile(path, options)
	if errors.IsCorrupted(err) {
		logger.Warn("leveldb corrupted, recovering", "path", path, "error", err)
		db, err = goleveldb.RecoverFile(path, options)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}

	return &DB{db: db, logger: logger}, nil
}

// OpenMemory returns a database backed by memory, for tests and scratch stores.
func OpenMemory(logger *slog.Logger) (*DB, error) {
	db, err := goleveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// Close releases the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Repositories returns the repository set backed by this database.
func (d *DB) Repositories() docstoreRepo.Repositories {
	return docstoreRepo.Repositories{
		Documents:   NewDocumentRepository(d),
		Revisions:   NewRevisionRepository(d),
		Attachments: NewAttachmentRepository(d),
		Locals:      NewLocalDocumentRepository(d),
	}
}

// TransactionManager returns a manager running units of work in a leveldb transaction.
func (d *DB) TransactionManager() repositories.TransactionManager {
	return &TransactionManager{db: d.db}
}
