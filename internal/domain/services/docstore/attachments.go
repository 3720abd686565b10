package docstore

import (
	"context"
	"io"

	"docstore/internal/domain/models/docstore"
)

// AttachmentStore is the content-addressed blob store. The revision engine
// only handles digests, lengths and references through it, never bytes.
type AttachmentStore interface {
	// Prepare streams r to temporary storage, computing digest and lengths
	Prepare(ctx context.Context, name string, att *docstore.UnsavedAttachment, r io.Reader) (*docstore.PreparedAttachment, error)

	// Commit moves a prepared blob into place and records it on sequence
	Commit(ctx context.Context, p *docstore.PreparedAttachment, sequence int64, revpos int) (*docstore.Attachment, error)

	// CopyForward records the attachment row (from, name) on sequence to
	CopyForward(ctx context.Context, from, to int64, name string) error

	// Reference records an already stored blob under name on sequence
	Reference(ctx context.Context, att *docstore.Attachment, sequence int64, name string) (*docstore.Attachment, error)

	// ListForSequence returns the attachment rows of one revision
	ListForSequence(ctx context.Context, sequence int64) ([]docstore.Attachment, error)

	// Open streams a stored blob
	Open(ctx context.Context, att *docstore.Attachment) (io.ReadCloser, error)

	// Discard drops an uncommitted prepared blob
	Discard(p *docstore.PreparedAttachment)

	// PurgeOrphans deletes blobs no attachment row references
	PurgeOrphans(ctx context.Context) error
}
