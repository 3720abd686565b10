package docstore

import (
	"errors"
	"reflect"
	"testing"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
)

func rev(seq, parent int64, revID string, current, deleted bool) models.Revision {
	return models.Revision{
		DocID:     "doc",
		RevID:     revID,
		Sequence:  seq,
		Parent:    parent,
		Current:   current,
		Deleted:   deleted,
		Available: !deleted,
	}
}

// 1-a ── 2-b ── 3-c (deleted)
//
//	└─ 2-d (current)
//
// 1-e (second root)
func sampleTree(t *testing.T) *RevisionTree {
	t.Helper()
	tree, err := NewRevisionTree("doc", 7, []models.Revision{
		rev(1, 0, "1-a", false, false),
		rev(2, 1, "2-b", false, false),
		rev(3, 1, "2-d", true, false),
		rev(4, 2, "3-c", false, true),
		rev(5, 0, "1-e", false, false),
	})
	if err != nil {
		t.Fatalf("NewRevisionTree: %v", err)
	}
	return tree
}

func revIDs(revs []*models.Revision) []string {
	ids := make([]string, len(revs))
	for i, r := range revs {
		ids[i] = r.RevID
	}
	return ids
}

func TestRevisionTree_Queries(t *testing.T) {
	tree := sampleTree(t)

	if tree.DocNumericID() != 7 || tree.Len() != 5 {
		t.Fatalf("unexpected tree: numeric id %d, len %d", tree.DocNumericID(), tree.Len())
	}
	if got := tree.Lookup("2-d"); got == nil || got.Sequence != 3 {
		t.Errorf("Lookup(2-d) = %v", got)
	}
	if got := tree.Lookup("9-z"); got != nil {
		t.Errorf("Lookup of unknown id should be nil, got %v", got)
	}
	if got := tree.LookupChild(1, "2-b"); got == nil || got.Sequence != 2 {
		t.Errorf("LookupChild(1, 2-b) = %v", got)
	}
	if got := tree.LookupChild(5, "2-b"); got != nil {
		t.Errorf("2-b is not a child of 1-e, got %v", got)
	}

	if got := revIDs(tree.Leaves(false)); !reflect.DeepEqual(got, []string{"2-d", "3-c", "1-e"}) {
		t.Errorf("Leaves(false) = %v", got)
	}
	if got := revIDs(tree.Leaves(true)); !reflect.DeepEqual(got, []string{"2-d", "1-e"}) {
		t.Errorf("Leaves(true) = %v", got)
	}
	if !tree.HasConflicts() {
		t.Error("expected conflicts between 2-d and 1-e")
	}
	if tree.IsLeaf(1) || !tree.IsLeaf(4) {
		t.Error("IsLeaf reports wrong values")
	}

	if got := revIDs(tree.PathToRoot(4)); !reflect.DeepEqual(got, []string{"3-c", "2-b", "1-a"}) {
		t.Errorf("PathToRoot(4) = %v", got)
	}
	if got := tree.History(4); !reflect.DeepEqual(got, []string{"1-a", "2-b", "3-c"}) {
		t.Errorf("History(4) = %v", got)
	}
	if got := tree.PathToRoot(99); got != nil {
		t.Errorf("PathToRoot of unknown sequence = %v", got)
	}

	current, err := tree.Current()
	if err != nil || current.RevID != "2-d" {
		t.Fatalf("Current() = %v, %v", current, err)
	}
	if got := tree.LeafRevIDs(); !reflect.DeepEqual(got, []string{"2-d", "3-c", "1-e"}) {
		t.Errorf("LeafRevIDs() = %v", got)
	}
}

func TestRevisionTree_DuplicateRevIDPicksLowestSequence(t *testing.T) {
	tree, err := NewRevisionTree("doc", 1, []models.Revision{
		rev(10, 0, "1-a", false, false),
		rev(11, 10, "2-b", true, false),
		rev(12, 0, "1-a", false, false),
	})
	if err != nil {
		t.Fatalf("NewRevisionTree: %v", err)
	}
	if got := tree.Lookup("1-a"); got.Sequence != 10 {
		t.Errorf("Lookup picked sequence %d, want 10", got.Sequence)
	}
}

func TestRevisionTree_Invariants(t *testing.T) {
	tests := []struct {
		name string
		revs []models.Revision
	}{
		{
			name: "unknown parent",
			revs: []models.Revision{rev(2, 1, "2-a", true, false)},
		},
		{
			name: "duplicate sequence",
			revs: []models.Revision{rev(1, 0, "1-a", true, false), rev(1, 0, "1-b", false, false)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRevisionTree("doc", 1, tt.revs)
			if !errors.Is(err, domain.ErrInvariant) {
				t.Fatalf("expected invariant error, got %v", err)
			}
		})
	}
}

func TestRevisionTree_Current(t *testing.T) {
	tests := []struct {
		name    string
		revs    []models.Revision
		wantErr bool
	}{
		{
			name:    "none current",
			revs:    []models.Revision{rev(1, 0, "1-a", false, false)},
			wantErr: true,
		},
		{
			name:    "two current",
			revs:    []models.Revision{rev(1, 0, "1-a", true, false), rev(2, 0, "1-b", true, false)},
			wantErr: true,
		},
		{
			name: "single current tombstone",
			revs: []models.Revision{rev(1, 0, "1-a", false, false), rev(2, 1, "2-a", true, true)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := NewRevisionTree("doc", 1, tt.revs)
			if err != nil {
				t.Fatalf("NewRevisionTree: %v", err)
			}
			_, err = tree.Current()
			if tt.wantErr && !errors.Is(err, domain.ErrInvariant) {
				t.Fatalf("expected invariant error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
