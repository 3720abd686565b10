package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
	"docstore/internal/repository/postgres"
)

// PostgresLocalDocumentRepository implements the LocalDocumentRepository interface
type PostgresLocalDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewLocalDocumentRepository creates a new local document repository
func NewLocalDocumentRepository(config *postgres.RepositoryConfig) docstoreRepo.LocalDocumentRepository {
	return &PostgresLocalDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func (r *PostgresLocalDocumentRepository) Get(ctx context.Context, docID string) (*models.LocalDocument, error) {
	query := fmt.Sprintf(`SELECT docid, revid, json FROM %s WHERE docid = $1`, r.tables.LocalDocuments)

	var doc models.LocalDocument
	var body []byte
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, docID).Scan(&doc.DocID, &doc.RevID, &body)
	if err != nil {
		return nil, postgres.TranslateError(err, "local document", docID)
	}
	doc.Body = json.RawMessage(body)
	return &doc, nil
}

func (r *PostgresLocalDocumentRepository) Put(ctx context.Context, doc *models.LocalDocument) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (docid, revid, json) VALUES ($1, $2, $3)
		ON CONFLICT (docid) DO UPDATE SET revid = EXCLUDED.revid, json = EXCLUDED.json
	`, r.tables.LocalDocuments)

	if _, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, doc.DocID, doc.RevID, []byte(doc.Body)); err != nil {
		return fmt.Errorf("put local document: %w", err)
	}
	return nil
}

func (r *PostgresLocalDocumentRepository) Delete(ctx context.Context, docID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE docid = $1`, r.tables.LocalDocuments)

	tag, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, docID)
	if err != nil {
		return fmt.Errorf("delete local document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "local document", ID: docID}
	}
	return nil
}
