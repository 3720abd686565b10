package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"docstore/internal/domain"
)

func TestNewTableNames(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   TableNames
	}{
		{
			name:   "no prefix",
			prefix: "",
			want: TableNames{
				Documents:      "docs",
				Revisions:      "revs",
				Attachments:    "attachments",
				AttachmentKeys: "attachments_key_filename",
				LocalDocuments: "localdocs",
				Counters:       "counters",
			},
		},
		{
			name:   "environment prefix",
			prefix: "dev_",
			want: TableNames{
				Documents:      "dev_docs",
				Revisions:      "dev_revs",
				Attachments:    "dev_attachments",
				AttachmentKeys: "dev_attachments_key_filename",
				LocalDocuments: "dev_localdocs",
				Counters:       "dev_counters",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewTableNames(tt.prefix)
			if *got != tt.want {
				t.Errorf("NewTableNames(%q) = %+v, want %+v", tt.prefix, *got, tt.want)
			}
		})
	}
}

func TestSchemaStatements(t *testing.T) {
	tables := NewTableNames("test_")
	stmts := SchemaStatements(tables)

	joined := strings.Join(stmts, "\n")
	for _, table := range tables.All() {
		if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}

	// duplicate revision ids must stay representable
	for _, stmt := range stmts {
		if strings.Contains(stmt, "test_revs (") && strings.Contains(stmt, "UNIQUE") {
			t.Errorf("revision table must not constrain revision ids: %s", stmt)
		}
	}

	// sequences come from the counters row, not a serial column
	if strings.Contains(joined, "sequence BIGSERIAL") {
		t.Error("revision sequences must not use a serial column")
	}
	if !strings.Contains(joined, "INSERT INTO test_counters (name, value)") ||
		!strings.Contains(joined, "'"+SequenceCounter+"', COALESCE(max(sequence), 0) FROM test_revs") {
		t.Error("schema must seed the sequence counter from existing revisions")
	}

	if !strings.Contains(joined, "filename TEXT NOT NULL UNIQUE") {
		t.Error("attachment filename table must enforce unique filenames")
	}
}

func TestTranslateError(t *testing.T) {
	if TranslateError(nil, "document", "x") != nil {
		t.Error("nil error should stay nil")
	}

	err := TranslateError(fmt.Errorf("query: %w", pgx.ErrNoRows), "document", "x")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("no rows should map to ErrNotFound, got %v", err)
	}

	err = TranslateError(&pgconn.PgError{Code: "23505"}, "document", "x")
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("unique violation should map to ErrConflict, got %v", err)
	}

	other := errors.New("connection reset")
	if TranslateError(other, "document", "x") != other {
		t.Error("unrelated errors should pass through")
	}
}
