package docstore

import (
	"fmt"
	"sort"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
)

// RevisionTree is the revision forest of one document, rebuilt from storage
// for each operation. Nodes live in a slice in sequence order; links are
// indexes into it.
type RevisionTree struct {
	docID        string
	docNumericID int64
	nodes        []*treeNode
	bySequence   map[int64]int
	roots        []int
}

type treeNode struct {
	rev      models.Revision
	parent   int // -1 for roots
	children []int
}

// NewRevisionTree builds a tree from rows ordered by sequence. Every
// non-root row's parent must appear before it.
func NewRevisionTree(docID string, docNumericID int64, revs []models.Revision) (*RevisionTree, error) {
	t := &RevisionTree{
		docID:        docID,
		docNumericID: docNumericID,
		bySequence:   make(map[int64]int, len(revs)),
	}
	for i := range revs {
		if err := t.Add(revs[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add appends a stored revision. Its sequence must be new and its parent,
// if any, already present.
func (t *RevisionTree) Add(rev models.Revision) error {
	if _, dup := t.bySequence[rev.Sequence]; dup {
		return &domain.InvariantError{DocID: t.docID, Message: fmt.Sprintf("sequence %d added twice", rev.Sequence)}
	}

	node := &treeNode{rev: rev, parent: -1}
	idx := len(t.nodes)

	if rev.Parent != 0 {
		parentIdx, ok := t.bySequence[rev.Parent]
		if !ok {
			return &domain.InvariantError{
				DocID:   t.docID,
				Message: fmt.Sprintf("revision %s (seq %d) references unknown parent %d", rev.RevID, rev.Sequence, rev.Parent),
			}
		}
		node.parent = parentIdx
		t.nodes = append(t.nodes, node)
		t.nodes[parentIdx].children = append(t.nodes[parentIdx].children, idx)
	} else {
		t.nodes = append(t.nodes, node)
		t.roots = append(t.roots, idx)
	}

	t.bySequence[rev.Sequence] = idx
	return nil
}

func (t *RevisionTree) DocID() string       { return t.docID }
func (t *RevisionTree) DocNumericID() int64 { return t.docNumericID }
func (t *RevisionTree) Len() int            { return len(t.nodes) }

// Lookup returns the revision with revID. When the id appears more than
// once the lowest sequence wins.
func (t *RevisionTree) Lookup(revID string) *models.Revision {
	for _, n := range t.nodes {
		if n.rev.RevID == revID {
			return &n.rev
		}
	}
	return nil
}

// LookupChild returns the direct child of parentSeq with revID, or nil.
func (t *RevisionTree) LookupChild(parentSeq int64, revID string) *models.Revision {
	idx, ok := t.bySequence[parentSeq]
	if !ok {
		return nil
	}
	for _, c := range t.nodes[idx].children {
		if t.nodes[c].rev.RevID == revID {
			return &t.nodes[c].rev
		}
	}
	return nil
}

// BySequence returns the revision stored at seq, or nil.
func (t *RevisionTree) BySequence(seq int64) *models.Revision {
	idx, ok := t.bySequence[seq]
	if !ok {
		return nil
	}
	return &t.nodes[idx].rev
}

// IsLeaf reports whether seq has no children.
func (t *RevisionTree) IsLeaf(seq int64) bool {
	idx, ok := t.bySequence[seq]
	return ok && len(t.nodes[idx].children) == 0
}

// Leaves returns the revisions without children in sequence order,
// optionally skipping tombstones.
func (t *RevisionTree) Leaves(excludeDeleted bool) []*models.Revision {
	var leaves []*models.Revision
	for _, n := range t.nodes {
		if len(n.children) > 0 {
			continue
		}
		if excludeDeleted && n.rev.Deleted {
			continue
		}
		leaves = append(leaves, &n.rev)
	}
	return leaves
}

// HasConflicts reports whether more than one non-deleted leaf exists.
func (t *RevisionTree) HasConflicts() bool {
	return len(t.Leaves(true)) > 1
}

// PathToRoot returns the chain from seq up to its root, seq first.
func (t *RevisionTree) PathToRoot(seq int64) []*models.Revision {
	idx, ok := t.bySequence[seq]
	if !ok {
		return nil
	}
	var path []*models.Revision
	for idx >= 0 {
		path = append(path, &t.nodes[idx].rev)
		idx = t.nodes[idx].parent
	}
	return path
}

// History returns the revision ids from the root down to seq.
func (t *RevisionTree) History(seq int64) []string {
	path := t.PathToRoot(seq)
	ids := make([]string, len(path))
	for i, rev := range path {
		ids[len(path)-1-i] = rev.RevID
	}
	return ids
}

// Current returns the revision flagged current. Zero or several flagged
// revisions mean the tree is corrupt.
func (t *RevisionTree) Current() (*models.Revision, error) {
	var current *models.Revision
	for _, n := range t.nodes {
		if !n.rev.Current {
			continue
		}
		if current != nil {
			return nil, &domain.InvariantError{
				DocID:   t.docID,
				Message: fmt.Sprintf("revisions %s and %s are both current", current.RevID, n.rev.RevID),
			}
		}
		current = &n.rev
	}
	if current == nil {
		return nil, &domain.InvariantError{DocID: t.docID, Message: "no current revision"}
	}
	return current, nil
}

// Revisions returns copies of all rows in sequence order.
func (t *RevisionTree) Revisions() []models.Revision {
	revs := make([]models.Revision, len(t.nodes))
	for i, n := range t.nodes {
		revs[i] = n.rev
	}
	return revs
}

// LeafRevIDs returns the leaf revision ids with the current one first and
// the rest ordered like winner selection would rank them.
func (t *RevisionTree) LeafRevIDs() []string {
	leaves := t.Leaves(false)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].Current != leaves[j].Current {
			return leaves[i].Current
		}
		return compareRevisions(leaves[i], leaves[j]) > 0
	})
	ids := make([]string, len(leaves))
	for i, leaf := range leaves {
		ids[i] = leaf.RevID
	}
	return ids
}

func (t *RevisionTree) setCurrent(seq int64, current bool) {
	if idx, ok := t.bySequence[seq]; ok {
		t.nodes[idx].rev.Current = current
	}
}
