package docstore

import (
	"context"

	"docstore/internal/domain/models/docstore"
)

// AttachmentRepository stores attachment rows and the digest-to-filename
// table used to name blobs on disk.
type AttachmentRepository interface {
	// Insert adds or replaces the (sequence, name) row
	Insert(ctx context.Context, att *docstore.Attachment) error

	// Copy duplicates the row (from, name) onto sequence to. Returns
	// domain.ErrNotFound when the source row does not exist.
	Copy(ctx context.Context, from, to int64, name string) error

	// ListBySequence returns the rows of one revision ordered by name
	ListBySequence(ctx context.Context, sequence int64) ([]docstore.Attachment, error)

	// Get returns a single row, or domain.ErrNotFound
	Get(ctx context.Context, sequence int64, name string) (*docstore.Attachment, error)

	// ListKeys returns the distinct hex digests referenced by any row
	ListKeys(ctx context.Context) ([]string, error)

	// DeleteForClearedRevisions removes rows of revisions whose body was cleared
	DeleteForClearedRevisions(ctx context.Context) (int64, error)

	// GetFilename returns the blob filename for a hex digest, or domain.ErrNotFound
	GetFilename(ctx context.Context, key string) (string, error)

	// InsertFilename claims filename for key. Returns domain.ErrConflict if
	// either the key or the filename is already taken.
	InsertFilename(ctx context.Context, key, filename string) error

	// ListFilenames returns the whole key -> filename table
	ListFilenames(ctx context.Context) (map[string]string, error)

	// DeleteFilename forgets the filename of key
	DeleteFilename(ctx context.Context, key string) error
}
