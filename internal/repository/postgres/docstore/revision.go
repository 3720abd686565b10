package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
	"docstore/internal/repository/postgres"
)

// PostgresRevisionRepository implements the RevisionRepository interface
type PostgresRevisionRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewRevisionRepository creates a new revision repository
func NewRevisionRepository(config *postgres.RepositoryConfig) docstoreRepo.RevisionRepository {
	return &PostgresRevisionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func (r *PostgresRevisionRepository) columns() string {
	return fmt.Sprintf(`r.sequence, r.doc_id, d.docid, r.revid, r.parent, r.current, r.deleted, r.available, r.json
		FROM %s r JOIN %s d ON d.doc_id = r.doc_id`, r.tables.Revisions, r.tables.Documents)
}

func scanRevision(row pgx.Row) (*models.Revision, error) {
	var (
		rev    models.Revision
		parent *int64
		body   []byte
	)
	err := row.Scan(&rev.Sequence, &rev.DocNumericID, &rev.DocID, &rev.RevID, &parent,
		&rev.Current, &rev.Deleted, &rev.Available, &body)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		rev.Parent = *parent
	}
	if body != nil {
		rev.Body = json.RawMessage(body)
	}
	return &rev, nil
}

// insertQuery numbers the new row from the counters table. The counter
// update takes a row lock held until commit and rolls back with the write.
func (r *PostgresRevisionRepository) insertQuery() string {
	return fmt.Sprintf(`
		WITH next AS (
			UPDATE %s SET value = value + 1 WHERE name = '%s' RETURNING value
		)
		INSERT INTO %s (sequence, doc_id, parent, current, deleted, available, revid, json)
		SELECT next.value, $1, $2, $3, $4, $5, $6, $7 FROM next
		RETURNING sequence
	`, r.tables.Counters, postgres.SequenceCounter, r.tables.Revisions)
}

func (r *PostgresRevisionRepository) Insert(ctx context.Context, rev *models.Revision) error {
	query := r.insertQuery()

	var parent *int64
	if rev.Parent != 0 {
		parent = &rev.Parent
	}

	err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query,
		rev.DocNumericID,
		parent,
		rev.Current,
		rev.Deleted,
		rev.Available,
		rev.RevID,
		[]byte(rev.Body),
	).Scan(&rev.Sequence)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (r *PostgresRevisionRepository) ListByDocument(ctx context.Context, docNumericID int64) ([]models.Revision, error) {
	query := fmt.Sprintf(`SELECT %s WHERE r.doc_id = $1 ORDER BY r.sequence ASC`, r.columns())

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, docNumericID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revs []models.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revs = append(revs, *rev)
	}
	return revs, rows.Err()
}

func (r *PostgresRevisionRepository) GetByRevID(ctx context.Context, docNumericID int64, revID string) (*models.Revision, error) {
	query := fmt.Sprintf(`SELECT %s WHERE r.doc_id = $1 AND r.revid = $2 ORDER BY r.sequence ASC LIMIT 1`, r.columns())

	rev, err := scanRevision(postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, docNumericID, revID))
	if err != nil {
		return nil, postgres.TranslateError(err, "revision", revID)
	}
	return rev, nil
}

func (r *PostgresRevisionRepository) GetBySequence(ctx context.Context, sequence int64) (*models.Revision, error) {
	query := fmt.Sprintf(`SELECT %s WHERE r.sequence = $1`, r.columns())

	rev, err := scanRevision(postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query, sequence))
	if err != nil {
		return nil, postgres.TranslateError(err, "revision", strconv.FormatInt(sequence, 10))
	}
	return rev, nil
}

func (r *PostgresRevisionRepository) SetCurrent(ctx context.Context, sequence int64, current bool) error {
	query := fmt.Sprintf(`UPDATE %s SET current = $2 WHERE sequence = $1`, r.tables.Revisions)

	tag, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query, sequence, current)
	if err != nil {
		return fmt.Errorf("set current: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "revision", ID: strconv.FormatInt(sequence, 10)}
	}
	return nil
}

func (r *PostgresRevisionRepository) ChangedDocuments(ctx context.Context, since int64, limit int) ([]models.DocumentChange, error) {
	window := fmt.Sprintf(`SELECT doc_id, sequence FROM %s WHERE sequence > $1 ORDER BY sequence`, r.tables.Revisions)
	args := []any{since}
	if limit > 0 {
		window += ` LIMIT $2`
		args = append(args, limit)
	}
	query := fmt.Sprintf(`SELECT doc_id, max(sequence) AS seq FROM (%s) w GROUP BY doc_id ORDER BY seq`, window)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("changed documents: %w", err)
	}
	defer rows.Close()

	var changes []models.DocumentChange
	for rows.Next() {
		var c models.DocumentChange
		if err := rows.Scan(&c.DocNumericID, &c.Sequence); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *PostgresRevisionRepository) LastSequence(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(max(sequence), 0) FROM %s`, r.tables.Revisions)

	var seq int64
	if err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

func (r *PostgresRevisionRepository) ExistingRevIDs(ctx context.Context, docNumericID int64, revIDs []string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT revid FROM %s WHERE doc_id = $1 AND revid = ANY($2)`, r.tables.Revisions)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query, docNumericID, revIDs)
	if err != nil {
		return nil, fmt.Errorf("existing revisions: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revision id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// keep the caller's order
	var existing []string
	for _, id := range revIDs {
		if found[id] {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

func (r *PostgresRevisionRepository) ClearNonLeafBodies(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s SET json = NULL
		WHERE current = FALSE
		  AND json IS NOT NULL
		  AND sequence IN (SELECT parent FROM %[1]s WHERE parent IS NOT NULL)
	`, r.tables.Revisions)

	tag, err := postgres.GetExecutor(ctx, r.pool).Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("clear bodies: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRevisionRepository) CountCurrent(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE current = TRUE AND deleted = FALSE`, r.tables.Revisions)

	var n int
	if err := postgres.GetExecutor(ctx, r.pool).QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (r *PostgresRevisionRepository) ListDocumentsWithConflicts(ctx context.Context) ([]int64, error) {
	query := fmt.Sprintf(`
		SELECT doc_id FROM %[1]s r
		WHERE deleted = FALSE
		  AND NOT EXISTS (SELECT 1 FROM %[1]s c WHERE c.parent = r.sequence)
		GROUP BY doc_id
		HAVING count(*) > 1
		ORDER BY doc_id
	`, r.tables.Revisions)

	rows, err := postgres.GetExecutor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("conflicted documents: %w", err)
	}
	defer rows.Close()

	var docs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		docs = append(docs, id)
	}
	return docs, rows.Err()
}
