package docstore

import (
	"context"

	"docstore/internal/domain/models/docstore"
)

// RevisionRepository is the durable revision table. Rows are keyed by
// sequence and point at their parent's sequence, forming one forest per
// document. It holds no policy: current-flag rules live in the service.
type RevisionRepository interface {
	// Insert stores rev and sets rev.Sequence to a new, strictly increasing value
	Insert(ctx context.Context, rev *docstore.Revision) error

	// ListByDocument returns all rows of a document ordered by sequence ascending
	ListByDocument(ctx context.Context, docNumericID int64) ([]docstore.Revision, error)

	// GetByRevID returns the row with the lowest sequence among rows sharing revID
	GetByRevID(ctx context.Context, docNumericID int64, revID string) (*docstore.Revision, error)

	// GetBySequence returns a single row
	GetBySequence(ctx context.Context, sequence int64) (*docstore.Revision, error)

	// SetCurrent flips the current flag of one row
	SetCurrent(ctx context.Context, sequence int64, current bool) error

	// ChangedDocuments returns documents with rows after since, scanning at
	// most limit rows, each with the highest sequence seen in that window
	ChangedDocuments(ctx context.Context, since int64, limit int) ([]docstore.DocumentChange, error)

	// LastSequence returns the highest assigned sequence, 0 when empty
	LastSequence(ctx context.Context) (int64, error)

	// ExistingRevIDs returns the subset of revIDs stored for the document
	ExistingRevIDs(ctx context.Context, docNumericID int64, revIDs []string) ([]string, error)

	// ClearNonLeafBodies nulls the body of every revision that is neither
	// current nor a leaf and returns how many rows changed
	ClearNonLeafBodies(ctx context.Context) (int64, error)

	// CountCurrent counts documents whose current revision is not deleted
	CountCurrent(ctx context.Context) (int, error)

	// ListDocumentsWithConflicts returns numeric ids of documents with more
	// than one non-deleted leaf
	ListDocumentsWithConflicts(ctx context.Context) ([]int64, error)
}
