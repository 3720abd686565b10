package docstore

import (
	"context"

	"docstore/internal/domain/models/docstore"
)

// LocalDocumentRepository stores _local/ documents. They have no history
// and are never replicated.
type LocalDocumentRepository interface {
	Get(ctx context.Context, docID string) (*docstore.LocalDocument, error)
	Put(ctx context.Context, doc *docstore.LocalDocument) error
	Delete(ctx context.Context, docID string) error
}

// Repositories groups the storage a document store needs. Each backend
// returns one of these.
type Repositories struct {
	Documents   DocumentRepository
	Revisions   RevisionRepository
	Attachments AttachmentRepository
	Locals      LocalDocumentRepository
}
