package docstore

import (
	"context"
	"fmt"
	"strings"

	models "docstore/internal/domain/models/docstore"
)

// compareRevisions orders revisions by generation, then by the byte-wise
// comparison of the full revision id.
func compareRevisions(a, b *models.Revision) int {
	ga, gb := a.Generation(), b.Generation()
	switch {
	case ga < gb:
		return -1
	case ga > gb:
		return 1
	}
	return strings.Compare(a.RevID, b.RevID)
}

// PickWinner returns the leaf that should be current: the highest ranked
// non-deleted leaf, or the highest ranked tombstone when every leaf is
// deleted. The result does not depend on the order of leaves.
func PickWinner(leaves []*models.Revision) *models.Revision {
	var winner *models.Revision
	for _, leaf := range leaves {
		if leaf.Deleted {
			continue
		}
		if winner == nil || compareRevisions(leaf, winner) > 0 {
			winner = leaf
		}
	}
	if winner != nil {
		return winner
	}
	for _, leaf := range leaves {
		if winner == nil || compareRevisions(leaf, winner) > 0 {
			winner = leaf
		}
	}
	return winner
}

// selectWinner moves the current flag to the winning leaf, in storage and
// in tree. Any other revision still flagged current is cleared, so the
// tree ends with exactly one current revision.
func (s *Store) selectWinner(ctx context.Context, tree *RevisionTree) (*models.Revision, error) {
	winner := PickWinner(tree.Leaves(false))
	if winner == nil {
		return nil, nil
	}

	for _, rev := range tree.Revisions() {
		if !rev.Current || rev.Sequence == winner.Sequence {
			continue
		}
		if err := s.repos.Revisions.SetCurrent(ctx, rev.Sequence, false); err != nil {
			return nil, fmt.Errorf("clear current on %s: %w", rev.RevID, err)
		}
		tree.setCurrent(rev.Sequence, false)
	}

	if !winner.Current {
		if err := s.repos.Revisions.SetCurrent(ctx, winner.Sequence, true); err != nil {
			return nil, fmt.Errorf("set current on %s: %w", winner.RevID, err)
		}
		tree.setCurrent(winner.Sequence, true)
	}
	return winner, nil
}
