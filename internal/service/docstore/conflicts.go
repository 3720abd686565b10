package docstore

import (
	"context"
	"fmt"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
	"docstore/internal/queue"
)

// ResolveConflicts hands the non-deleted leaves of docID to resolver. The
// resolver runs outside the write queue; its choice is applied in one
// transaction that tombstones every other non-deleted leaf and makes the
// chosen one current. A modified resolution is written as a child of the
// chosen leaf.
func (s *Store) ResolveConflicts(ctx context.Context, docID string, resolver docstoreSvc.ConflictResolver) (*docstoreSvc.ResolveResult, error) {
	if err := validateDocID(docID); err != nil {
		return nil, err
	}

	tree, err := s.Tree(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !tree.HasConflicts() {
		return &docstoreSvc.ResolveResult{}, nil
	}

	leaves := tree.Leaves(true)
	candidates := make([]models.Revision, 0, len(leaves))
	for _, leaf := range leaves {
		rev, err := s.withAttachments(ctx, leaf)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, *rev)
	}

	resolution, err := resolver(ctx, docID, candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve conflicts of %s: %w", docID, err)
	}
	if resolution == nil {
		return &docstoreSvc.ResolveResult{}, nil
	}

	chosen := tree.Lookup(resolution.RevID)
	if chosen == nil || chosen.Deleted || !tree.IsLeaf(chosen.Sequence) {
		return nil, domain.NewValidationError("rev", "%s is not a conflicting leaf of %s", resolution.RevID, docID)
	}

	var body []byte
	var staged *stagedAttachments
	if resolution.Modified() {
		if resolution.Body != nil {
			if body, err = normalizeBody(resolution.Body); err != nil {
				return nil, err
			}
		}
		if err := validateAttachmentNames(resolution.Attachments); err != nil {
			return nil, err
		}
		if staged, err = s.stageAttachments(ctx, resolution.Attachments); err != nil {
			return nil, err
		}
	}

	result, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (*docstoreSvc.ResolveResult, error) {
		return s.resolve(txCtx, docID, resolution, body, staged)
	})
	if err != nil {
		s.discard(staged)
		return nil, fmt.Errorf("resolve conflicts of %s: %w", docID, err)
	}

	s.logger.Info("conflicts resolved",
		"doc_id", docID,
		"winner", result.Winner.RevID,
		"leaves", len(candidates),
	)
	return result, nil
}

// resolve applies a resolution against a freshly loaded tree; the chosen
// leaf must still be a non-deleted leaf.
func (s *Store) resolve(ctx context.Context, docID string, resolution *docstoreSvc.Resolution, body []byte, staged *stagedAttachments) (*docstoreSvc.ResolveResult, error) {
	tree, err := s.Tree(ctx, docID)
	if err != nil {
		return nil, err
	}
	chosen := tree.Lookup(resolution.RevID)
	if chosen == nil || chosen.Deleted || !tree.IsLeaf(chosen.Sequence) {
		return nil, &domain.ConflictError{
			Resource: "document",
			ID:       docID,
			Message:  fmt.Sprintf("revision %s is no longer a live leaf", resolution.RevID),
		}
	}
	chosenSeq := chosen.Sequence

	var events []models.DocumentEvent
	for _, leaf := range tree.Leaves(true) {
		if leaf.Sequence == chosenSeq {
			continue
		}
		if leaf.Current {
			if err := s.repos.Revisions.SetCurrent(ctx, leaf.Sequence, false); err != nil {
				return nil, err
			}
			tree.setCurrent(leaf.Sequence, false)
		}
		tombstone := &models.Revision{
			DocID:        docID,
			DocNumericID: tree.DocNumericID(),
			RevID:        models.FormatRevID(leaf.Generation()+1, s.newHash()),
			Parent:       leaf.Sequence,
			Deleted:      true,
			Body:         models.EmptyBody,
		}
		if err := s.repos.Revisions.Insert(ctx, tombstone); err != nil {
			return nil, fmt.Errorf("insert tombstone: %w", err)
		}
		if err := tree.Add(*tombstone); err != nil {
			return nil, err
		}
		events = append(events, eventFor(models.EventDeleted, tombstone, leaf.RevID))
	}

	// Tombstoned branches still hold leaves; clear any stale flag on them.
	for _, rev := range tree.Revisions() {
		if rev.Current && rev.Sequence != chosenSeq {
			if err := s.repos.Revisions.SetCurrent(ctx, rev.Sequence, false); err != nil {
				return nil, err
			}
			tree.setCurrent(rev.Sequence, false)
		}
	}
	if !tree.BySequence(chosenSeq).Current {
		if err := s.repos.Revisions.SetCurrent(ctx, chosenSeq, true); err != nil {
			return nil, err
		}
		tree.setCurrent(chosenSeq, true)
	}

	winner := tree.BySequence(chosenSeq)
	if resolution.Modified() {
		if body == nil {
			parent, err := s.repos.Revisions.GetBySequence(ctx, chosenSeq)
			if err != nil {
				return nil, err
			}
			body = parent.Body
		}
		var inputs map[string]models.AttachmentInput
		if staged != nil {
			inputs = staged.inputs
		}
		mutation, err := s.update(ctx, tree, winner.RevID, body, inputs, resolution.RemoveAttachments)
		if err != nil {
			return nil, err
		}
		events = append(events, mutation.Event)
		return &docstoreSvc.ResolveResult{Resolved: true, Winner: mutation.Revision, Events: events}, nil
	}

	out, err := s.withAttachments(ctx, winner)
	if err != nil {
		return nil, err
	}
	return &docstoreSvc.ResolveResult{Resolved: true, Winner: out, Events: events}, nil
}
