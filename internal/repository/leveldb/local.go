package leveldb

import (
	"context"
	"encoding/json"
	"fmt"

	"docstore/internal/domain"
	"docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
)

// LocalDocumentRepository implements docstoreRepo.LocalDocumentRepository
type LocalDocumentRepository struct {
	db *DB
}

// NewLocalDocumentRepository creates a new local document repository
func NewLocalDocumentRepository(db *DB) docstoreRepo.LocalDocumentRepository {
	return &LocalDocumentRepository{db: db}
}

func (r *LocalDocumentRepository) Get(ctx context.Context, docID string) (*docstore.LocalDocument, error) {
	value, err := getExecutor(ctx, r.db.db).Get(makeKey(prefixLocal, []byte(docID)), nil)
	if err != nil {
		return nil, notFound(err, "local document", docID)
	}
	var doc docstore.LocalDocument
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, fmt.Errorf("decode local document: %w", err)
	}
	return &doc, nil
}

func (r *LocalDocumentRepository) Put(ctx context.Context, doc *docstore.LocalDocument) error {
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode local document: %w", err)
	}
	return getExecutor(ctx, r.db.db).Put(makeKey(prefixLocal, []byte(doc.DocID)), value, nil)
}

func (r *LocalDocumentRepository) Delete(ctx context.Context, docID string) error {
	ex := getExecutor(ctx, r.db.db)
	key := makeKey(prefixLocal, []byte(docID))
	exists, err := ex.Has(key, nil)
	if err != nil {
		return fmt.Errorf("check local document: %w", err)
	}
	if !exists {
		return &domain.NotFoundError{Resource: "local document", ID: docID}
	}
	return ex.Delete(key, nil)
}
