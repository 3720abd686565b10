package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceCounter names the counters row that numbers revisions. Sequences
// are drawn from it inside the writing transaction, so an aborted write
// leaves no gap in the changes feed.
const SequenceCounter = "sequence"

// SchemaStatements returns the DDL for the document store tables. Revision
// ids are not unique per document; lookups resolve duplicates to the
// lowest sequence.
func SchemaStatements(t *TableNames) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			doc_id BIGSERIAL PRIMARY KEY,
			docid TEXT NOT NULL UNIQUE
		)`, t.Documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			sequence BIGINT PRIMARY KEY,
			doc_id BIGINT NOT NULL REFERENCES %s(doc_id) ON DELETE CASCADE,
			parent BIGINT REFERENCES %s(sequence) ON DELETE SET NULL,
			current BOOLEAN NOT NULL DEFAULT FALSE,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			available BOOLEAN NOT NULL DEFAULT TRUE,
			revid TEXT NOT NULL,
			json BYTEA
		)`, t.Revisions, t.Documents, t.Revisions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_seq_idx ON %s (doc_id, sequence)`, t.Revisions, t.Revisions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_parent_idx ON %s (parent)`, t.Revisions, t.Revisions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_current_idx ON %s (doc_id) WHERE current`, t.Revisions, t.Revisions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			sequence BIGINT NOT NULL REFERENCES %s(sequence) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			key BYTEA NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			encoding INTEGER NOT NULL DEFAULT 0,
			length BIGINT NOT NULL DEFAULT 0,
			encoded_length BIGINT NOT NULL DEFAULT 0,
			revpos INTEGER NOT NULL DEFAULT 0,
			UNIQUE (sequence, filename)
		)`, t.Attachments, t.Revisions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE
		)`, t.AttachmentKeys),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			docid TEXT PRIMARY KEY,
			revid TEXT NOT NULL,
			json BYTEA
		)`, t.LocalDocuments),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`, t.Counters),
		fmt.Sprintf(`INSERT INTO %s (name, value)
			SELECT '%s', COALESCE(max(sequence), 0) FROM %s
			ON CONFLICT (name) DO NOTHING`, t.Counters, SequenceCounter, t.Revisions),
	}
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	for _, stmt := range SchemaStatements(tables) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// DropAll removes every document store table. Used by tests and dev resets.
func DropAll(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	all := tables.All()
	for i := len(all) - 1; i >= 0; i-- {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", all[i])); err != nil {
			return fmt.Errorf("drop %s: %w", all[i], err)
		}
	}
	return nil
}
