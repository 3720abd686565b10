package docstore

import (
	"context"
	"errors"
	"fmt"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
	"docstore/internal/queue"
)

// ForceInsert grafts remote revisions together with their ancestry,
// keeping the remote revision ids. Every item is validated before any is
// written; each item then commits in its own transaction. On failure the
// results of the items already committed are returned with the error.
func (s *Store) ForceInsert(ctx context.Context, items []docstoreSvc.ForceInsertItem) ([]docstoreSvc.ForceInsertResult, error) {
	bodies := make([][]byte, len(items))
	for i := range items {
		body, err := validateForceInsertItem(&items[i])
		if err != nil {
			return nil, err
		}
		bodies[i] = body
	}

	results := make([]docstoreSvc.ForceInsertResult, 0, len(items))
	for i := range items {
		item := &items[i]
		if err := ctx.Err(); err != nil {
			return results, err
		}

		staged, err := s.stageAttachments(ctx, item.Attachments)
		if err != nil {
			return results, err
		}
		result, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (*docstoreSvc.ForceInsertResult, error) {
			return s.forceInsert(txCtx, item, bodies[i], staged.inputs)
		})
		if err != nil {
			s.discard(staged)
			return results, fmt.Errorf("force insert %s %s: %w", item.Revision.DocID, item.Revision.RevID, err)
		}
		results = append(results, *result)

		if result.Inserted {
			s.logger.Debug("revision force inserted",
				"doc_id", result.DocID,
				"rev", result.RevID,
				"seq", result.Sequence,
				"history", len(item.History),
			)
		}
	}
	return results, nil
}

func validateForceInsertItem(item *docstoreSvc.ForceInsertItem) ([]byte, error) {
	rev := &item.Revision
	if err := validateDocID(rev.DocID); err != nil {
		return nil, err
	}
	if err := validateRevID("_rev", rev.RevID); err != nil {
		return nil, err
	}
	if err := validateHistory(rev.RevID, item.History); err != nil {
		return nil, err
	}
	if err := validateAttachmentNames(item.Attachments); err != nil {
		return nil, err
	}
	return normalizeBody(rev.Body)
}

func (s *Store) forceInsert(ctx context.Context, item *docstoreSvc.ForceInsertItem, body []byte, inputs map[string]models.AttachmentInput) (*docstoreSvc.ForceInsertResult, error) {
	docID := item.Revision.DocID

	numericID, err := s.repos.Documents.GetNumericID(ctx, docID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.forceInsertNew(ctx, item, body, inputs)
	}
	if err != nil {
		return nil, err
	}

	tree, err := s.loadTree(ctx, docID, numericID)
	if err != nil {
		return nil, err
	}
	previous, err := s.current(tree)
	if err != nil {
		return nil, err
	}
	previousRevID := previous.RevID

	history := item.History
	var parent *models.Revision
	i := 0
	if root := tree.Lookup(history[0]); root != nil {
		parent = root
		for i = 1; i < len(history); i++ {
			child := tree.LookupChild(parent.Sequence, history[i])
			if child == nil {
				break
			}
			parent = child
		}
	}
	if i == len(history) {
		return &docstoreSvc.ForceInsertResult{
			DocID:    docID,
			RevID:    parent.RevID,
			Sequence: parent.Sequence,
			Inserted: false,
		}, nil
	}

	parentSeq := int64(0)
	if parent != nil {
		parentSeq = parent.Sequence
	}
	for ; i < len(history)-1; i++ {
		stub, err := s.insertStub(ctx, docID, numericID, history[i], parentSeq)
		if err != nil {
			return nil, err
		}
		if err := tree.Add(*stub); err != nil {
			return nil, err
		}
		parentSeq = stub.Sequence
	}

	leaf := &models.Revision{
		DocID:        docID,
		DocNumericID: numericID,
		RevID:        item.Revision.RevID,
		Parent:       parentSeq,
		Current:      false,
		Deleted:      item.Revision.Deleted,
		Available:    true,
		Body:         body,
	}
	if err := s.repos.Revisions.Insert(ctx, leaf); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	if err := tree.Add(*leaf); err != nil {
		return nil, err
	}
	atts, err := s.commitAttachments(ctx, tree, leaf, inputs)
	if err != nil {
		return nil, err
	}

	winner, err := s.selectWinner(ctx, tree)
	if err != nil {
		return nil, err
	}
	leaf.Current = winner.Sequence == leaf.Sequence
	leaf.Attachments = atts

	kind := models.EventUpdated
	if leaf.Deleted {
		kind = models.EventDeleted
	}
	event := eventFor(kind, leaf, previousRevID)
	return &docstoreSvc.ForceInsertResult{
		DocID:    docID,
		RevID:    leaf.RevID,
		Sequence: leaf.Sequence,
		Inserted: true,
		Event:    &event,
	}, nil
}

// forceInsertNew creates the document with the whole history as one
// branch: stubs for the ancestors, then the current leaf.
func (s *Store) forceInsertNew(ctx context.Context, item *docstoreSvc.ForceInsertItem, body []byte, inputs map[string]models.AttachmentInput) (*docstoreSvc.ForceInsertResult, error) {
	docID := item.Revision.DocID
	for name, input := range inputs {
		if _, ok := input.(*models.StubAttachment); ok {
			return nil, &domain.AttachmentError{
				Name: name,
				Op:   "inherit stub",
				Err:  &domain.NotFoundError{Resource: "document", ID: docID},
			}
		}
	}

	numericID, err := s.repos.Documents.Create(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}

	parentSeq := int64(0)
	for _, revID := range item.History[:len(item.History)-1] {
		stub, err := s.insertStub(ctx, docID, numericID, revID, parentSeq)
		if err != nil {
			return nil, err
		}
		parentSeq = stub.Sequence
	}

	leaf := &models.Revision{
		DocID:        docID,
		DocNumericID: numericID,
		RevID:        item.Revision.RevID,
		Parent:       parentSeq,
		Current:      true,
		Deleted:      item.Revision.Deleted,
		Available:    true,
		Body:         body,
	}
	if err := s.repos.Revisions.Insert(ctx, leaf); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	atts, err := s.commitAttachments(ctx, nil, leaf, inputs)
	if err != nil {
		return nil, err
	}
	leaf.Attachments = atts

	kind := models.EventCreated
	if leaf.Deleted {
		kind = models.EventDeleted
	}
	event := eventFor(kind, leaf, "")
	return &docstoreSvc.ForceInsertResult{
		DocID:    docID,
		RevID:    leaf.RevID,
		Sequence: leaf.Sequence,
		Inserted: true,
		Event:    &event,
	}, nil
}

// insertStub stores an ancestor known only by id: empty body, not available.
func (s *Store) insertStub(ctx context.Context, docID string, numericID int64, revID string, parentSeq int64) (*models.Revision, error) {
	stub := &models.Revision{
		DocID:        docID,
		DocNumericID: numericID,
		RevID:        revID,
		Parent:       parentSeq,
		Available:    false,
		Body:         models.EmptyBody,
	}
	if err := s.repos.Revisions.Insert(ctx, stub); err != nil {
		return nil, fmt.Errorf("insert stub %s: %w", revID, err)
	}
	return stub, nil
}
