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

// Create writes the first revision of a document. If the document exists
// and its current revision is a tombstone, the new revision is rooted on
// that tombstone instead.
func (s *Store) Create(ctx context.Context, req *docstoreSvc.CreateRequest) (*docstoreSvc.MutationResult, error) {
	docID := req.DocID
	if docID == "" {
		docID = s.newHash()
	}
	if err := validateDocID(docID); err != nil {
		return nil, err
	}
	body, err := normalizeBody(req.Body)
	if err != nil {
		return nil, err
	}
	if err := validateAttachmentNames(req.Attachments); err != nil {
		return nil, err
	}

	staged, err := s.stageAttachments(ctx, req.Attachments)
	if err != nil {
		return nil, err
	}

	result, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (*docstoreSvc.MutationResult, error) {
		return s.create(txCtx, docID, body, staged.inputs)
	})
	if err != nil {
		s.discard(staged)
		return nil, fmt.Errorf("create %s: %w", docID, err)
	}

	s.logger.Debug("document created",
		"doc_id", docID,
		"rev", result.Revision.RevID,
		"seq", result.Revision.Sequence,
	)
	return result, nil
}

func (s *Store) create(ctx context.Context, docID string, body []byte, inputs map[string]models.AttachmentInput) (*docstoreSvc.MutationResult, error) {
	numericID, err := s.repos.Documents.GetNumericID(ctx, docID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		numericID, err = s.repos.Documents.Create(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("register document: %w", err)
		}
	case err != nil:
		return nil, err
	}

	var parent *models.Revision
	revs, err := s.repos.Revisions.ListByDocument(ctx, numericID)
	if err != nil {
		return nil, err
	}
	var tree *RevisionTree
	if len(revs) > 0 {
		tree, err = NewRevisionTree(docID, numericID, revs)
		if err != nil {
			return nil, err
		}
		current, err := s.current(tree)
		if err != nil {
			return nil, err
		}
		if !current.Deleted {
			return nil, &domain.ConflictError{Resource: "document", ID: docID, Message: "document already exists"}
		}
		parent = current
	}

	rev := &models.Revision{
		DocID:        docID,
		DocNumericID: numericID,
		RevID:        models.FormatRevID(1, s.newHash()),
		Current:      true,
		Available:    true,
		Body:         body,
	}
	previous := ""
	if parent != nil {
		if err := s.repos.Revisions.SetCurrent(ctx, parent.Sequence, false); err != nil {
			return nil, err
		}
		rev.RevID = models.FormatRevID(parent.Generation()+1, s.newHash())
		rev.Parent = parent.Sequence
		previous = parent.RevID
	}

	if err := s.repos.Revisions.Insert(ctx, rev); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	atts, err := s.commitAttachments(ctx, tree, rev, inputs)
	if err != nil {
		return nil, err
	}
	rev.Attachments = atts

	return &docstoreSvc.MutationResult{
		Revision: rev,
		Event:    eventFor(models.EventCreated, rev, previous),
	}, nil
}

// Update writes a child of the current revision. Attachments of the parent
// are carried forward unless replaced or removed.
func (s *Store) Update(ctx context.Context, req *docstoreSvc.UpdateRequest) (*docstoreSvc.MutationResult, error) {
	if err := validateDocID(req.DocID); err != nil {
		return nil, err
	}
	if err := validateRevID("_rev", req.BaseRevID); err != nil {
		return nil, err
	}
	body, err := normalizeBody(req.Body)
	if err != nil {
		return nil, err
	}
	if err := validateAttachmentNames(req.Attachments); err != nil {
		return nil, err
	}

	staged, err := s.stageAttachments(ctx, req.Attachments)
	if err != nil {
		return nil, err
	}

	result, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (*docstoreSvc.MutationResult, error) {
		tree, err := s.Tree(txCtx, req.DocID)
		if err != nil {
			return nil, err
		}
		return s.update(txCtx, tree, req.BaseRevID, body, staged.inputs, req.RemoveAttachments)
	})
	if err != nil {
		s.discard(staged)
		return nil, fmt.Errorf("update %s: %w", req.DocID, err)
	}

	s.logger.Debug("document updated",
		"doc_id", req.DocID,
		"rev", result.Revision.RevID,
		"previous_rev", req.BaseRevID,
		"seq", result.Revision.Sequence,
	)
	return result, nil
}

// update appends a current child to the current revision baseRevID.
func (s *Store) update(ctx context.Context, tree *RevisionTree, baseRevID string, body []byte, inputs map[string]models.AttachmentInput, remove []string) (*docstoreSvc.MutationResult, error) {
	current, err := s.current(tree)
	if err != nil {
		return nil, err
	}
	base := tree.Lookup(baseRevID)
	if base == nil || base.Sequence != current.Sequence {
		return nil, &domain.ConflictError{
			Resource: "document",
			ID:       tree.DocID(),
			Message:  fmt.Sprintf("revision %s is not current, current is %s", baseRevID, current.RevID),
		}
	}
	if current.Deleted {
		return nil, &domain.NotFoundError{Resource: "document", ID: tree.DocID()}
	}

	if err := s.repos.Revisions.SetCurrent(ctx, base.Sequence, false); err != nil {
		return nil, err
	}
	tree.setCurrent(base.Sequence, false)

	rev := &models.Revision{
		DocID:        tree.DocID(),
		DocNumericID: tree.DocNumericID(),
		RevID:        models.FormatRevID(base.Generation()+1, s.newHash()),
		Parent:       base.Sequence,
		Current:      true,
		Available:    true,
		Body:         body,
	}
	if err := s.repos.Revisions.Insert(ctx, rev); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	if err := tree.Add(*rev); err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(inputs)+len(remove))
	for name := range inputs {
		skip[name] = true
	}
	for _, name := range remove {
		skip[name] = true
	}
	if err := s.copyForward(ctx, base.Sequence, rev, skip); err != nil {
		return nil, err
	}
	atts, err := s.commitAttachments(ctx, tree, rev, inputs)
	if err != nil {
		return nil, err
	}
	rev.Attachments = atts

	return &docstoreSvc.MutationResult{
		Revision: rev,
		Event:    eventFor(models.EventUpdated, rev, base.RevID),
	}, nil
}

// Delete appends a tombstone to the leaf baseRevID. The tombstone inherits
// the leaf's current flag; deleting the current leaf hands the flag to the
// next winner.
func (s *Store) Delete(ctx context.Context, docID, baseRevID string) (*docstoreSvc.MutationResult, error) {
	if err := validateDocID(docID); err != nil {
		return nil, err
	}
	if err := validateRevID("rev", baseRevID); err != nil {
		return nil, err
	}

	result, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (*docstoreSvc.MutationResult, error) {
		tree, err := s.Tree(txCtx, docID)
		if err != nil {
			return nil, err
		}
		return s.delete(txCtx, tree, baseRevID)
	})
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", docID, err)
	}

	s.logger.Debug("document deleted",
		"doc_id", docID,
		"rev", result.Revision.RevID,
		"previous_rev", baseRevID,
		"current", result.Revision.Current,
	)
	return result, nil
}

func (s *Store) delete(ctx context.Context, tree *RevisionTree, baseRevID string) (*docstoreSvc.MutationResult, error) {
	base := tree.Lookup(baseRevID)
	if base == nil {
		return nil, &domain.NotFoundError{Resource: "revision", ID: tree.DocID() + "@" + baseRevID}
	}
	if !tree.IsLeaf(base.Sequence) {
		return nil, &domain.ConflictError{
			Resource: "document",
			ID:       tree.DocID(),
			Message:  fmt.Sprintf("revision %s is not a leaf", baseRevID),
		}
	}
	if base.Deleted {
		return nil, &domain.NotFoundError{Resource: "document", ID: tree.DocID()}
	}

	wasCurrent := base.Current
	if wasCurrent {
		if err := s.repos.Revisions.SetCurrent(ctx, base.Sequence, false); err != nil {
			return nil, err
		}
		tree.setCurrent(base.Sequence, false)
	}

	tombstone := &models.Revision{
		DocID:        tree.DocID(),
		DocNumericID: tree.DocNumericID(),
		RevID:        models.FormatRevID(base.Generation()+1, s.newHash()),
		Parent:       base.Sequence,
		Current:      wasCurrent,
		Deleted:      true,
		Available:    false,
		Body:         models.EmptyBody,
	}
	if err := s.repos.Revisions.Insert(ctx, tombstone); err != nil {
		return nil, fmt.Errorf("insert tombstone: %w", err)
	}
	if err := tree.Add(*tombstone); err != nil {
		return nil, err
	}

	if wasCurrent {
		if _, err := s.selectWinner(ctx, tree); err != nil {
			return nil, err
		}
		tombstone.Current = tree.BySequence(tombstone.Sequence).Current
	}

	return &docstoreSvc.MutationResult{
		Revision: tombstone,
		Event:    eventFor(models.EventDeleted, tombstone, base.RevID),
	}, nil
}
