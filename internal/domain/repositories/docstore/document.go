package docstore

import "context"

// DocumentRepository maps user-visible document ids to internal numeric ids.
type DocumentRepository interface {
	// GetNumericID returns the internal id, or domain.ErrNotFound
	GetNumericID(ctx context.Context, docID string) (int64, error)

	// Create registers a new document id and returns its numeric id
	Create(ctx context.Context, docID string) (int64, error)

	// GetDocID is the reverse mapping of GetNumericID
	GetDocID(ctx context.Context, numericID int64) (string, error)

	// ListIDs returns every document id in ascending order
	ListIDs(ctx context.Context) ([]string, error)
}
