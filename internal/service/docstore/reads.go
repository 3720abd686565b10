package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"docstore/internal/config"
	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
)

// Get returns a revision with its attachments. An empty revID selects the
// current revision, which must not be a tombstone.
func (s *Store) Get(ctx context.Context, docID, revID string) (*models.Revision, error) {
	if revID != "" {
		return s.getRevision(ctx, docID, revID)
	}
	tree, err := s.Tree(ctx, docID)
	if err != nil {
		return nil, err
	}
	rev, err := s.revisionOf(tree, revID)
	if err != nil {
		return nil, err
	}
	return s.withAttachments(ctx, rev)
}

// getRevision reads one named revision without loading the tree.
func (s *Store) getRevision(ctx context.Context, docID, revID string) (*models.Revision, error) {
	numericID, err := s.repos.Documents.GetNumericID(ctx, docID)
	if err != nil {
		return nil, err
	}
	rev, err := s.repos.Revisions.GetByRevID(ctx, numericID, revID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Resource: "revision", ID: docID + "@" + revID}
		}
		return nil, fmt.Errorf("get revision %s of %s: %w", revID, docID, err)
	}
	rev.DocID = docID
	return s.withAttachments(ctx, rev)
}

func (s *Store) revisionOf(tree *RevisionTree, revID string) (*models.Revision, error) {
	if revID != "" {
		rev := tree.Lookup(revID)
		if rev == nil {
			return nil, &domain.NotFoundError{Resource: "revision", ID: tree.DocID() + "@" + revID}
		}
		return rev, nil
	}
	current, err := s.current(tree)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		return nil, &domain.NotFoundError{Resource: "document", ID: tree.DocID()}
	}
	return current, nil
}

func (s *Store) Revisions(ctx context.Context, docID string) ([]models.Revision, error) {
	tree, err := s.Tree(ctx, docID)
	if err != nil {
		return nil, err
	}
	return tree.Revisions(), nil
}

// RevisionHistory returns the revision and the ids of its ancestors, root
// first, ending with the revision itself.
func (s *Store) RevisionHistory(ctx context.Context, docID, revID string) (*models.Revision, []string, error) {
	tree, err := s.Tree(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	rev, err := s.revisionOf(tree, revID)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.withAttachments(ctx, rev)
	if err != nil {
		return nil, nil, err
	}
	return out, tree.History(rev.Sequence), nil
}

func (s *Store) OpenAttachment(ctx context.Context, docID, revID, name string) (*models.Attachment, io.ReadCloser, error) {
	rev, err := s.Get(ctx, docID, revID)
	if err != nil {
		return nil, nil, err
	}
	att := rev.Attachment(name)
	if att == nil {
		return nil, nil, &domain.NotFoundError{Resource: "attachment", ID: docID + "/" + name}
	}
	rc, err := s.attachments.Open(ctx, att)
	if err != nil {
		return nil, nil, err
	}
	return att, rc, nil
}

// Changes returns one row per document changed after since, looking at no
// more than limit sequences.
func (s *Store) Changes(ctx context.Context, since int64, limit int) (*models.Changes, error) {
	if limit <= 0 {
		limit = config.DefaultChangesLimit
	}
	changed, err := s.repos.Revisions.ChangedDocuments(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("changed documents: %w", err)
	}

	out := &models.Changes{Results: make([]models.Change, 0, len(changed)), LastSequence: since}
	for _, ch := range changed {
		docID, err := s.repos.Documents.GetDocID(ctx, ch.DocNumericID)
		if err != nil {
			return nil, err
		}
		tree, err := s.loadTree(ctx, docID, ch.DocNumericID)
		if err != nil {
			return nil, err
		}
		current, err := s.current(tree)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, models.Change{
			Sequence: ch.Sequence,
			DocID:    docID,
			Deleted:  current.Deleted,
			Revs:     tree.LeafRevIDs(),
		})
		if ch.Sequence > out.LastSequence {
			out.LastSequence = ch.Sequence
		}
	}
	sort.Slice(out.Results, func(i, j int) bool {
		return out.Results[i].Sequence < out.Results[j].Sequence
	})
	return out, nil
}

// RevsDiff reports, per document, the offered revisions not stored here
// and the local leaves that could be their ancestors.
func (s *Store) RevsDiff(ctx context.Context, revs map[string][]string) (map[string]models.RevsDiffEntry, error) {
	out := make(map[string]models.RevsDiffEntry)
	for docID, revIDs := range revs {
		offered := dedupe(revIDs)
		if len(offered) == 0 {
			continue
		}

		numericID, err := s.repos.Documents.GetNumericID(ctx, docID)
		if errors.Is(err, domain.ErrNotFound) {
			out[docID] = models.RevsDiffEntry{Missing: offered}
			continue
		}
		if err != nil {
			return nil, err
		}

		present := make(map[string]bool, len(offered))
		for start := 0; start < len(offered); start += config.RevsDiffChunkSize {
			end := min(start+config.RevsDiffChunkSize, len(offered))
			existing, err := s.repos.Revisions.ExistingRevIDs(ctx, numericID, offered[start:end])
			if err != nil {
				return nil, fmt.Errorf("revs diff %s: %w", docID, err)
			}
			for _, id := range existing {
				present[id] = true
			}
		}

		var missing []string
		maxGen := 0
		for _, id := range offered {
			if present[id] {
				continue
			}
			missing = append(missing, id)
			maxGen = max(maxGen, models.Generation(id))
		}
		if len(missing) == 0 {
			continue
		}

		entry := models.RevsDiffEntry{Missing: missing}
		tree, err := s.loadTree(ctx, docID, numericID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if tree != nil {
			for _, leaf := range tree.Leaves(false) {
				if leaf.Generation() < maxGen {
					entry.PossibleAncestors = append(entry.PossibleAncestors, leaf.RevID)
				}
			}
		}
		out[docID] = entry
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ConflictedDocumentIDs lists documents with more than one non-deleted leaf.
func (s *Store) ConflictedDocumentIDs(ctx context.Context) ([]string, error) {
	numericIDs, err := s.repos.Revisions.ListDocumentsWithConflicts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(numericIDs))
	for _, n := range numericIDs {
		docID, err := s.repos.Documents.GetDocID(ctx, n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, docID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) DocumentIDs(ctx context.Context) ([]string, error) {
	return s.repos.Documents.ListIDs(ctx)
}

// DocumentCount counts documents whose current revision is not deleted.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	return s.repos.Revisions.CountCurrent(ctx)
}

func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	return s.repos.Revisions.LastSequence(ctx)
}
