package replication

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	"docstore/internal/domain/models/replication"
	docstoreSvc "docstore/internal/domain/services/docstore"
)

// ExportRevision loads a revision with its history and attachments.
// Attachments whose revpos is not newer than the highest generation of
// attsSince found in the history are sent as stubs; the rest carry data.
func ExportRevision(ctx context.Context, store docstoreSvc.DocumentStore, docID, revID string, attsSince []string) (*replication.RemoteRevision, error) {
	rev, history, err := store.RevisionHistory(ctx, docID, revID)
	if err != nil {
		return nil, err
	}

	known := 0
	inHistory := make(map[string]bool, len(history))
	for _, id := range history {
		inHistory[id] = true
	}
	for _, id := range attsSince {
		if inHistory[id] {
			known = max(known, models.Generation(id))
		}
	}

	rr := &replication.RemoteRevision{
		DocID:   rev.DocID,
		RevID:   rev.RevID,
		Deleted: rev.Deleted,
		Body:    rev.Body,
		History: history,
	}
	if len(rr.Body) == 0 {
		rr.Body = models.EmptyBody
	}
	if len(rev.Attachments) == 0 {
		return rr, nil
	}

	rr.Attachments = make(map[string]replication.RemoteAttachment, len(rev.Attachments))
	for i := range rev.Attachments {
		att := &rev.Attachments[i]
		ra := replication.RemoteAttachment{
			ContentType: att.ContentType,
			Digest:      att.DigestString(),
			Length:      att.Length,
			RevPos:      att.RevPos,
		}
		if att.Encoding != models.EncodingPlain {
			ra.Encoding = att.Encoding.String()
		}
		if att.RevPos <= known {
			ra.Stub = true
		} else {
			_, rc, err := store.OpenAttachment(ctx, docID, rev.RevID, att.Name)
			if err != nil {
				return nil, err
			}
			ra.Data, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, &domain.AttachmentError{Name: att.Name, Op: "read", Err: err}
			}
		}
		rr.Attachments[att.Name] = ra
	}
	return rr, nil
}

// ImportRevision turns a peer revision into a ForceInsertItem, staging
// inline attachment data in store so the write itself does no blob I/O.
// On error nothing stays staged.
func ImportRevision(ctx context.Context, store docstoreSvc.DocumentStore, rr *replication.RemoteRevision) (*docstoreSvc.ForceInsertItem, error) {
	item := &docstoreSvc.ForceInsertItem{
		Revision: models.Revision{
			DocID:   rr.DocID,
			RevID:   rr.RevID,
			Deleted: rr.Deleted,
			Body:    rr.Body,
		},
		History: rr.History,
	}
	if len(item.History) == 0 {
		item.History = []string{rr.RevID}
	}
	if len(rr.Attachments) == 0 {
		return item, nil
	}

	item.Attachments = make(map[string]models.AttachmentInput, len(rr.Attachments))
	for name, ra := range rr.Attachments {
		input, err := importAttachment(ctx, store, name, &ra)
		if err != nil {
			DiscardItem(store, item)
			return nil, err
		}
		item.Attachments[name] = input
	}
	return item, nil
}

func importAttachment(ctx context.Context, store docstoreSvc.DocumentStore, name string, ra *replication.RemoteAttachment) (models.AttachmentInput, error) {
	var digest []byte
	if ra.Digest != "" {
		d, err := models.ParseDigest(ra.Digest)
		if err != nil {
			return nil, domain.NewValidationError("_attachments", "%s: %v", name, err)
		}
		digest = d
	}
	if ra.Stub {
		return &models.StubAttachment{Digest: digest, RevPos: ra.RevPos}, nil
	}

	encoding, err := models.ParseEncoding(ra.Encoding)
	if err != nil {
		return nil, domain.NewValidationError("_attachments", "%s: %v", name, err)
	}
	prepared, err := store.PrepareAttachment(ctx, name, &models.UnsavedAttachment{
		ContentType: ra.ContentType,
		Encoding:    encoding,
		Length:      ra.Length,
	}, bytes.NewReader(ra.Data))
	if err != nil {
		return nil, err
	}
	if digest != nil && !bytes.Equal(digest, prepared.Digest) {
		store.DiscardAttachment(prepared)
		return nil, &domain.AttachmentError{
			Name: name,
			Op:   "verify digest",
			Err:  fmt.Errorf("expected %s, got %s", ra.Digest, models.FormatDigest(prepared.Digest)),
		}
	}
	prepared.RevPos = ra.RevPos
	return prepared, nil
}

// DiscardItem drops staged blobs of item. Blobs already committed have
// been moved and are left alone.
func DiscardItem(store docstoreSvc.DocumentStore, item *docstoreSvc.ForceInsertItem) {
	for _, input := range item.Attachments {
		if p, ok := input.(*models.PreparedAttachment); ok {
			store.DiscardAttachment(p)
		}
	}
}
