package docstore

import (
	"context"
	"encoding/json"
	"io"

	"docstore/internal/domain/models/docstore"
)

// DocumentStore is the multi-version document store. Writes are serialized
// through a single queue; reads run concurrently against storage.
type DocumentStore interface {
	// Create writes a new document, or resurrects a deleted one at gen+1
	Create(ctx context.Context, req *CreateRequest) (*MutationResult, error)

	// Update writes a child of the current revision; BaseRevID must be current
	Update(ctx context.Context, req *UpdateRequest) (*MutationResult, error)

	// Delete tombstones a non-deleted leaf
	Delete(ctx context.Context, docID, baseRevID string) (*MutationResult, error)

	// ForceInsert grafts remotely supplied histories, keeping their revision ids
	ForceInsert(ctx context.Context, items []ForceInsertItem) ([]ForceInsertResult, error)

	// ResolveConflicts hands the non-deleted leaves to resolver and commits its choice
	ResolveConflicts(ctx context.Context, docID string, resolver ConflictResolver) (*ResolveResult, error)

	// Get returns a revision with its attachments. An empty revID means current.
	Get(ctx context.Context, docID, revID string) (*docstore.Revision, error)

	// Revisions returns every row of the document's tree ordered by sequence
	Revisions(ctx context.Context, docID string) ([]docstore.Revision, error)

	// RevisionHistory returns the revision and its ancestor ids, root first
	RevisionHistory(ctx context.Context, docID, revID string) (*docstore.Revision, []string, error)

	// OpenAttachment streams the blob of an attachment on a revision
	OpenAttachment(ctx context.Context, docID, revID, name string) (*docstore.Attachment, io.ReadCloser, error)

	// PrepareAttachment stages bytes so a later write does no I/O on the reader
	PrepareAttachment(ctx context.Context, name string, att *docstore.UnsavedAttachment, r io.Reader) (*docstore.PreparedAttachment, error)

	// DiscardAttachment removes a prepared attachment that will not be committed
	DiscardAttachment(p *docstore.PreparedAttachment)

	// Changes lists documents changed after since, at most limit sequences
	Changes(ctx context.Context, since int64, limit int) (*docstore.Changes, error)

	// RevsDiff reports which offered revisions are missing locally
	RevsDiff(ctx context.Context, revs map[string][]string) (map[string]docstore.RevsDiffEntry, error)

	ConflictedDocumentIDs(ctx context.Context) ([]string, error)
	DocumentIDs(ctx context.Context) ([]string, error)
	DocumentCount(ctx context.Context) (int, error)
	LastSequence(ctx context.Context) (int64, error)

	// Compact drops bodies of superseded revisions and purges orphan blobs
	Compact(ctx context.Context) error

	GetLocal(ctx context.Context, docID string) (*docstore.LocalDocument, error)
	PutLocal(ctx context.Context, docID string, body json.RawMessage) (*docstore.LocalDocument, error)
	DeleteLocal(ctx context.Context, docID string) error
}

// CreateRequest describes a new document. An empty DocID is generated.
type CreateRequest struct {
	DocID       string
	Body        json.RawMessage
	Attachments map[string]docstore.AttachmentInput
}

// UpdateRequest describes a child of BaseRevID. Attachments holds new or
// replaced entries; parent attachments not named here or in
// RemoveAttachments are copied forward.
type UpdateRequest struct {
	DocID             string
	BaseRevID         string
	Body              json.RawMessage
	Attachments       map[string]docstore.AttachmentInput
	RemoveAttachments []string
}

// MutationResult is the stored revision plus the change it represents.
type MutationResult struct {
	Revision *docstore.Revision
	Event    docstore.DocumentEvent
}

// ForceInsertItem is one remote revision with its ancestry. History is
// ascending and ends with Revision.RevID. Stub attachments are resolved
// against the grafted ancestry; unsaved ones are staged before the write.
type ForceInsertItem struct {
	Revision    docstore.Revision
	History     []string
	Attachments map[string]docstore.AttachmentInput
}

// ForceInsertResult reports whether anything was written. Inserted is
// false when the whole history was already present.
type ForceInsertResult struct {
	DocID    string
	RevID    string
	Sequence int64
	Inserted bool
	Event    *docstore.DocumentEvent
}
