package docstore

import (
	"context"
	"encoding/json"

	"docstore/internal/domain/models/docstore"
)

// ConflictResolver picks a winner among conflicting leaves. Returning a nil
// Resolution leaves the conflict in place.
type ConflictResolver func(ctx context.Context, docID string, leaves []docstore.Revision) (*Resolution, error)

// Resolution names the leaf to keep. A non-nil Body, new Attachments or
// RemoveAttachments graft a child revision on top of the kept leaf.
type Resolution struct {
	RevID             string
	Body              json.RawMessage
	Attachments       map[string]docstore.AttachmentInput
	RemoveAttachments []string
}

// Modified reports whether the resolution changes content.
func (r *Resolution) Modified() bool {
	return r.Body != nil || len(r.Attachments) > 0 || len(r.RemoveAttachments) > 0
}

// ResolveResult is returned by ResolveConflicts.
type ResolveResult struct {
	Resolved bool
	Winner   *docstore.Revision
	Events   []docstore.DocumentEvent
}
