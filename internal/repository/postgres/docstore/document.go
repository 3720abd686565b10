package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	docstoreRepo "docstore/internal/domain/repositories/docstore"
	"docstore/internal/repository/postgres"
)

// PostgresDocumentRepository implements the DocumentRepository interface
type PostgresDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(config *postgres.RepositoryConfig) docstoreRepo.DocumentRepository {
	return &PostgresDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// NewRepositories builds the full postgres repository set.
func NewRepositories(config *postgres.RepositoryConfig) docstoreRepo.Repositories {
	return docstoreRepo.Repositories{
		Documents:   NewDocumentRepository(config),
		Revisions:   NewRevisionRepository(config),
		Attachments: NewAttachmentRepository(config),
		Locals:      NewLocalDocumentRepository(config),
	}
}

func (r *PostgresDocumentRepository) GetNumericID(ctx context.Context, docID string) (int64, error) {
	query := fmt.Sprintf(`SELECT doc_id FROM %s WHERE docid = $1`, r.tables.Documents)

	var id int64
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, docID).Scan(&id)
	if err != nil {
		return 0, postgres.TranslateError(err, "document", docID)
	}
	return id, nil
}

func (r *PostgresDocumentRepository) Create(ctx context.Context, docID string) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO %s (docid) VALUES ($1) RETURNING doc_id`, r.tables.Documents)

	var id int64
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, docID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create document: %w", postgres.TranslateError(err, "document", docID))
	}
	return id, nil
}

func (r *PostgresDocumentRepository) GetDocID(ctx context.Context, numericID int64) (string, error) {
	query := fmt.Sprintf(`SELECT docid FROM %s WHERE doc_id = $1`, r.tables.Documents)

	var docID string
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, numericID).Scan(&docID)
	if err != nil {
		return "", postgres.TranslateError(err, "document", strconv.FormatInt(numericID, 10))
	}
	return docID, nil
}

func (r *PostgresDocumentRepository) ListIDs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT docid FROM %s ORDER BY docid`, r.tables.Documents)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
