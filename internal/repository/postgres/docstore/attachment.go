package docstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
	"docstore/internal/repository/postgres"
)

// PostgresAttachmentRepository implements the AttachmentRepository interface
type PostgresAttachmentRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(config *postgres.RepositoryConfig) docstoreRepo.AttachmentRepository {
	return &PostgresAttachmentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const attachmentColumns = `sequence, filename, key, type, encoding, length, encoded_length, revpos`

func scanAttachment(row pgx.Row) (*models.Attachment, error) {
	var att models.Attachment
	var encoding int
	err := row.Scan(&att.Sequence, &att.Name, &att.Digest, &att.ContentType, &encoding,
		&att.Length, &att.EncodedLength, &att.RevPos)
	if err != nil {
		return nil, err
	}
	att.Encoding = models.Encoding(encoding)
	return &att, nil
}

func (r *PostgresAttachmentRepository) Insert(ctx context.Context, att *models.Attachment) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence, filename) DO UPDATE SET
			key = EXCLUDED.key, type = EXCLUDED.type, encoding = EXCLUDED.encoding,
			length = EXCLUDED.length, encoded_length = EXCLUDED.encoded_length, revpos = EXCLUDED.revpos
	`, r.tables.Attachments, attachmentColumns)

	_, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query,
		att.Sequence,
		att.Name,
		att.Digest,
		att.ContentType,
		int(att.Encoding),
		att.Length,
		att.EncodedLength,
		att.RevPos,
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (r *PostgresAttachmentRepository) Copy(ctx context.Context, from, to int64, name string) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		SELECT $2::bigint, filename, key, type, encoding, length, encoded_length, revpos
		FROM %[1]s WHERE sequence = $1 AND filename = $3
		ON CONFLICT (sequence, filename) DO NOTHING
	`, r.tables.Attachments, attachmentColumns)

	tag, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, from, to, name)
	if err != nil {
		return fmt.Errorf("copy attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, from, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresAttachmentRepository) ListBySequence(ctx context.Context, sequence int64) ([]models.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE sequence = $1 ORDER BY filename`, attachmentColumns, r.tables.Attachments)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, sequence)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		atts = append(atts, *att)
	}
	return atts, rows.Err()
}

func (r *PostgresAttachmentRepository) Get(ctx context.Context, sequence int64, name string) (*models.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE sequence = $1 AND filename = $2`, attachmentColumns, r.tables.Attachments)

	att, err := scanAttachment(postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, sequence, name))
	if err != nil {
		return nil, postgres.TranslateError(err, "attachment", name)
	}
	return att, nil
}

func (r *PostgresAttachmentRepository) ListKeys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT key FROM %s`, r.tables.Attachments)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list attachment keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan attachment key: %w", err)
		}
		keys = append(keys, hex.EncodeToString(key))
	}
	return keys, rows.Err()
}

func (r *PostgresAttachmentRepository) DeleteForClearedRevisions(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE sequence IN (SELECT sequence FROM %s WHERE json IS NULL)
	`, r.tables.Attachments, r.tables.Revisions)

	tag, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete compacted attachments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresAttachmentRepository) GetFilename(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`SELECT filename FROM %s WHERE key = $1`, r.tables.AttachmentKeys)

	var filename string
	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, key).Scan(&filename)
	if err != nil {
		return "", postgres.TranslateError(err, "attachment key", key)
	}
	return filename, nil
}

// InsertFilename uses ON CONFLICT DO NOTHING rather than relying on a unique
// violation, which would abort the surrounding transaction.
func (r *PostgresAttachmentRepository) InsertFilename(ctx context.Context, key, filename string) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, filename) VALUES ($1, $2) ON CONFLICT DO NOTHING`, r.tables.AttachmentKeys)

	tag, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, key, filename)
	if err != nil {
		return fmt.Errorf("insert attachment filename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConflictError{Resource: "attachment filename", ID: filename, Message: "already taken"}
	}
	return nil
}

func (r *PostgresAttachmentRepository) ListFilenames(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT key, filename FROM %s`, r.tables.AttachmentKeys)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list attachment filenames: %w", err)
	}
	defer rows.Close()

	filenames := make(map[string]string)
	for rows.Next() {
		var key, filename string
		if err := rows.Scan(&key, &filename); err != nil {
			return nil, fmt.Errorf("scan attachment filename: %w", err)
		}
		filenames[key] = filename
	}
	return filenames, rows.Err()
}

func (r *PostgresAttachmentRepository) DeleteFilename(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, r.tables.AttachmentKeys)

	if _, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete attachment filename: %w", err)
	}
	return nil
}
