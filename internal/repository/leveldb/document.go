package leveldb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb/util"

	"docstore/internal/domain"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
)

// DocumentRepository implements docstoreRepo.DocumentRepository
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB) docstoreRepo.DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) GetNumericID(ctx context.Context, docID string) (int64, error) {
	value, err := getExecutor(ctx, r.db.db).Get(makeKey(prefixDocID, []byte(docID)), nil)
	if err != nil {
		return 0, notFound(err, "document", docID)
	}
	return decodeInt(value)
}

func (r *DocumentRepository) Create(ctx context.Context, docID string) (int64, error) {
	ex := getExecutor(ctx, r.db.db)

	exists, err := ex.Has(makeKey(prefixDocID, []byte(docID)), nil)
	if err != nil {
		return 0, fmt.Errorf("check document: %w", err)
	}
	if exists {
		return 0, &domain.ConflictError{Resource: "document", ID: docID, Message: "already exists"}
	}

	id, err := nextCounter(ex, keyLastDocID)
	if err != nil {
		return 0, fmt.Errorf("allocate document id: %w", err)
	}
	if err := ex.Put(makeKey(prefixDocID, []byte(docID)), encodeInt(id), nil); err != nil {
		return 0, fmt.Errorf("create document: %w", err)
	}
	if err := ex.Put(makeKey(prefixDocNumeric, encodeInt(id)), []byte(docID), nil); err != nil {
		return 0, fmt.Errorf("create document: %w", err)
	}
	return id, nil
}

func (r *DocumentRepository) GetDocID(ctx context.Context, numericID int64) (string, error) {
	value, err := getExecutor(ctx, r.db.db).Get(makeKey(prefixDocNumeric, encodeInt(numericID)), nil)
	if err != nil {
		return "", notFound(err, "document", strconv.FormatInt(numericID, 10))
	}
	return string(value), nil
}

func (r *DocumentRepository) ListIDs(ctx context.Context) ([]string, error) {
	iter := getExecutor(ctx, r.db.db).NewIterator(util.BytesPrefix(prefixDocID), nil)
	defer iter.Release()

	var ids []string
	for iter.Next() {
		ids = append(ids, string(iter.Key()[len(prefixDocID):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return ids, nil
}
