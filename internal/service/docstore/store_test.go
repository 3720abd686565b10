package docstore

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"docstore/internal/attachments"
	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
	"docstore/internal/queue"
	"docstore/internal/repository/leveldb"
)

// countingAttachments records how often blobs are committed.
type countingAttachments struct {
	docstoreSvc.AttachmentStore
	commits atomic.Int32
}

func (c *countingAttachments) Commit(ctx context.Context, p *models.PreparedAttachment, sequence int64, revpos int) (*models.Attachment, error) {
	c.commits.Add(1)
	return c.AttachmentStore.Commit(ctx, p, sequence, revpos)
}

type testStore struct {
	*Store
	blobs *countingAttachments
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := leveldb.OpenMemory(logger)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	repos := db.Repositories()

	blobStore, err := attachments.NewStore(t.TempDir(), repos.Attachments, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	blobs := &countingAttachments{AttachmentStore: blobStore}

	q := queue.New("test", db.TransactionManager(), logger)
	t.Cleanup(func() {
		q.Close()
		_ = db.Close()
	})

	var n atomic.Int64
	store := NewDocumentStore(repos, blobs, q, logger, WithHashSource(func() string {
		return fmt.Sprintf("%032x", n.Add(1))
	}))
	return &testStore{Store: store, blobs: blobs}
}

func (s *testStore) mustCreate(t *testing.T, docID, body string) *models.Revision {
	t.Helper()
	res, err := s.Create(context.Background(), &docstoreSvc.CreateRequest{DocID: docID, Body: json.RawMessage(body)})
	if err != nil {
		t.Fatalf("Create(%s): %v", docID, err)
	}
	return res.Revision
}

func (s *testStore) mustUpdate(t *testing.T, docID, base, body string) *models.Revision {
	t.Helper()
	res, err := s.Update(context.Background(), &docstoreSvc.UpdateRequest{DocID: docID, BaseRevID: base, Body: json.RawMessage(body)})
	if err != nil {
		t.Fatalf("Update(%s, %s): %v", docID, base, err)
	}
	return res.Revision
}

func (s *testStore) mustForceInsert(t *testing.T, docID string, deleted bool, body string, history ...string) docstoreSvc.ForceInsertResult {
	t.Helper()
	res, err := s.ForceInsert(context.Background(), []docstoreSvc.ForceInsertItem{forceItem(docID, deleted, body, history...)})
	if err != nil {
		t.Fatalf("ForceInsert(%s, %v): %v", docID, history, err)
	}
	return res[0]
}

func forceItem(docID string, deleted bool, body string, history ...string) docstoreSvc.ForceInsertItem {
	return docstoreSvc.ForceInsertItem{
		Revision: models.Revision{
			DocID:   docID,
			RevID:   history[len(history)-1],
			Deleted: deleted,
			Body:    json.RawMessage(body),
		},
		History: history,
	}
}

func (s *testStore) currentRevID(t *testing.T, docID string) string {
	t.Helper()
	tree, err := s.Tree(context.Background(), docID)
	if err != nil {
		t.Fatalf("Tree(%s): %v", docID, err)
	}
	current, err := tree.Current()
	if err != nil {
		t.Fatalf("Current(%s): %v", docID, err)
	}
	return current.RevID
}

// assertSingleWinner checks that exactly one revision is current and that it
// is a non-deleted leaf whenever one exists.
func (s *testStore) assertSingleWinner(t *testing.T, docID string) {
	t.Helper()
	tree, err := s.Tree(context.Background(), docID)
	if err != nil {
		t.Fatalf("Tree(%s): %v", docID, err)
	}
	var current []models.Revision
	for _, r := range tree.Revisions() {
		if r.Current {
			current = append(current, r)
		}
	}
	if len(current) != 1 {
		t.Fatalf("%s: %d current revisions", docID, len(current))
	}
	if !tree.IsLeaf(current[0].Sequence) {
		t.Fatalf("%s: current revision %s is not a leaf", docID, current[0].RevID)
	}
	if len(tree.Leaves(true)) > 0 && current[0].Deleted {
		t.Fatalf("%s: current revision %s is deleted while live leaves exist", docID, current[0].RevID)
	}
	for _, r := range tree.Revisions() {
		if r.Parent == 0 {
			continue
		}
		parent := tree.BySequence(r.Parent)
		if r.Generation() != parent.Generation()+1 {
			t.Fatalf("%s: %s follows %s", docID, r.RevID, parent.RevID)
		}
	}
}

func TestStore_CreateUpdateDeleteThenForceInsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1 := s.mustCreate(t, "foo", `{"a":1}`)
	if r1.Generation() != 1 || !r1.Current {
		t.Fatalf("create returned %+v", r1)
	}

	r2 := s.mustUpdate(t, "foo", r1.RevID, `{"a":2}`)
	if r2.Generation() != 2 {
		t.Fatalf("update generation = %d", r2.Generation())
	}
	old, err := s.Get(ctx, "foo", r1.RevID)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if old.Current {
		t.Error("first revision should no longer be current")
	}

	del, err := s.Delete(ctx, "foo", r2.RevID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	r3 := del.Revision
	if r3.Generation() != 3 || !r3.Deleted || !r3.Current {
		t.Fatalf("tombstone = %+v", r3)
	}
	if del.Event.Kind != models.EventDeleted || del.Event.PreviousRevID != r2.RevID {
		t.Errorf("event = %+v", del.Event)
	}
	if _, err := s.Get(ctx, "foo", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get of deleted document: %v", err)
	}

	res := s.mustForceInsert(t, "foo", false, `{"a":3}`, r1.RevID, "2-w")
	if !res.Inserted || res.Event == nil {
		t.Fatalf("force insert result = %+v", res)
	}
	if got := s.currentRevID(t, "foo"); got != "2-w" {
		t.Fatalf("current = %s, want 2-w", got)
	}
	current, err := s.Get(ctx, "foo", "")
	if err != nil {
		t.Fatalf("Get current: %v", err)
	}
	if string(current.Body) != `{"a":3}` {
		t.Errorf("current body = %s", current.Body)
	}
	s.assertSingleWinner(t, "foo")
}

func TestStore_ConcurrentUpdatesPickGreaterRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.mustForceInsert(t, "doc", false, `{"v":1}`, "1-x")
	s.mustForceInsert(t, "doc", false, `{"v":"b"}`, "1-x", "2-b")
	s.mustForceInsert(t, "doc", false, `{"v":"a"}`, "1-x", "2-a")

	tree, err := s.Tree(ctx, "doc")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if !tree.HasConflicts() {
		t.Fatal("expected conflict")
	}
	if got := s.currentRevID(t, "doc"); got != "2-b" {
		t.Fatalf("current = %s, want 2-b", got)
	}
	ids, err := s.ConflictedDocumentIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "doc" {
		t.Errorf("ConflictedDocumentIDs = %v, %v", ids, err)
	}
	s.assertSingleWinner(t, "doc")
}

func TestStore_CreateErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.mustCreate(t, "taken", `{}`)

	tests := []struct {
		name string
		req  *docstoreSvc.CreateRequest
		want error
	}{
		{"existing live document", &docstoreSvc.CreateRequest{DocID: "taken", Body: json.RawMessage(`{}`)}, domain.ErrConflict},
		{"reserved body field", &docstoreSvc.CreateRequest{DocID: "x", Body: json.RawMessage(`{"_id":"x"}`)}, domain.ErrValidation},
		{"body not an object", &docstoreSvc.CreateRequest{DocID: "x", Body: json.RawMessage(`[1,2]`)}, domain.ErrValidation},
		{"reserved id", &docstoreSvc.CreateRequest{DocID: "_users", Body: json.RawMessage(`{}`)}, domain.ErrValidation},
		{"local id", &docstoreSvc.CreateRequest{DocID: "_local/x", Body: json.RawMessage(`{}`)}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Create error = %v, want %v", err, tt.want)
			}
		})
	}

	design, err := s.Create(ctx, &docstoreSvc.CreateRequest{DocID: "_design/views", Body: json.RawMessage(`{"views":{}}`)})
	if err != nil {
		t.Fatalf("design documents should be accepted: %v", err)
	}
	if design.Event.Kind != models.EventCreated {
		t.Errorf("event = %+v", design.Event)
	}

	generated, err := s.Create(ctx, &docstoreSvc.CreateRequest{})
	if err != nil {
		t.Fatalf("Create without id: %v", err)
	}
	if len(generated.Revision.DocID) != 32 || string(generated.Revision.Body) != `{}` {
		t.Errorf("generated document = %+v", generated.Revision)
	}
}

func TestStore_Resurrect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1 := s.mustCreate(t, "doc", `{"n":1}`)
	del, err := s.Delete(ctx, "doc", r1.RevID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := s.Create(ctx, &docstoreSvc.CreateRequest{DocID: "doc", Body: json.RawMessage(`{"n":2}`)})
	if err != nil {
		t.Fatalf("Create over tombstone: %v", err)
	}
	if res.Revision.Generation() != 3 || res.Revision.Parent != del.Revision.Sequence {
		t.Fatalf("resurrected revision = %+v", res.Revision)
	}
	if res.Event.PreviousRevID != del.Revision.RevID {
		t.Errorf("event = %+v", res.Event)
	}
	revs, err := s.Revisions(ctx, "doc")
	if err != nil || len(revs) != 3 {
		t.Fatalf("Revisions = %d, %v", len(revs), err)
	}
	s.assertSingleWinner(t, "doc")
}

func TestStore_UpdateErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1 := s.mustCreate(t, "doc", `{}`)
	s.mustUpdate(t, "doc", r1.RevID, `{"n":2}`)

	tests := []struct {
		name string
		req  *docstoreSvc.UpdateRequest
		want error
	}{
		{"stale base", &docstoreSvc.UpdateRequest{DocID: "doc", BaseRevID: r1.RevID}, domain.ErrConflict},
		{"unknown base", &docstoreSvc.UpdateRequest{DocID: "doc", BaseRevID: "7-nope"}, domain.ErrConflict},
		{"unknown document", &docstoreSvc.UpdateRequest{DocID: "missing", BaseRevID: "1-a"}, domain.ErrNotFound},
		{"malformed base", &docstoreSvc.UpdateRequest{DocID: "doc", BaseRevID: "abc"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Update(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Update error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("deleted current", func(t *testing.T) {
		r := s.mustCreate(t, "gone", `{}`)
		del, err := s.Delete(ctx, "gone", r.RevID)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err = s.Update(ctx, &docstoreSvc.UpdateRequest{DocID: "gone", BaseRevID: del.Revision.RevID})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update of deleted document = %v, want not found", err)
		}
	})
}

func TestStore_DeleteErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1 := s.mustCreate(t, "doc", `{}`)
	r2 := s.mustUpdate(t, "doc", r1.RevID, `{"n":2}`)
	del, err := s.Delete(ctx, "doc", r2.RevID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	tests := []struct {
		name string
		rev  string
		want error
	}{
		{"not a leaf", r1.RevID, domain.ErrConflict},
		{"already deleted", del.Revision.RevID, domain.ErrNotFound},
		{"unknown revision", "9-zz", domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Delete(ctx, "doc", tt.rev); !errors.Is(err, tt.want) {
				t.Fatalf("Delete error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_DeleteLosingLeafKeepsWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.mustForceInsert(t, "doc", false, `{}`, "1-x")
	s.mustForceInsert(t, "doc", false, `{}`, "1-x", "2-a")
	s.mustForceInsert(t, "doc", false, `{}`, "1-x", "2-b")

	res, err := s.Delete(ctx, "doc", "2-a")
	if err != nil {
		t.Fatalf("Delete losing leaf: %v", err)
	}
	if res.Revision.Current {
		t.Error("tombstone of a non-current leaf must not be current")
	}
	if got := s.currentRevID(t, "doc"); got != "2-b" {
		t.Errorf("current = %s, want 2-b", got)
	}

	if _, err := s.Delete(ctx, "doc", "2-b"); err != nil {
		t.Fatalf("Delete winner: %v", err)
	}
	// Both branches are now tombstoned; the higher generation 3 tombstone wins.
	tree, _ := s.Tree(ctx, "doc")
	winner := PickWinner(tree.Leaves(false))
	if got := s.currentRevID(t, "doc"); got != winner.RevID {
		t.Errorf("current = %s, want %s", got, winner.RevID)
	}
	s.assertSingleWinner(t, "doc")
}

func TestStore_ForceInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := s.mustForceInsert(t, "doc", false, `{"v":3}`, "1-a", "2-b", "3-c")
	if !first.Inserted || first.Event.Kind != models.EventCreated {
		t.Fatalf("first insert = %+v", first)
	}
	before, _ := s.LastSequence(ctx)

	second := s.mustForceInsert(t, "doc", false, `{"v":3}`, "1-a", "2-b", "3-c")
	if second.Inserted || second.Event != nil {
		t.Fatalf("replay should be a no-op, got %+v", second)
	}
	if second.RevID != "3-c" || second.Sequence != first.Sequence {
		t.Errorf("replay reported %s@%d", second.RevID, second.Sequence)
	}
	after, _ := s.LastSequence(ctx)
	if before != after {
		t.Errorf("replay wrote rows: last sequence %d -> %d", before, after)
	}

	revs, err := s.Revisions(ctx, "doc")
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	if len(revs) != 3 || revs[0].Available || revs[1].Available || !revs[2].Available {
		t.Fatalf("unexpected rows: %+v", revs)
	}
}

func TestStore_ForceInsertAvailability(t *testing.T) {
	tests := []struct {
		name     string
		seed     []string
		deleted  bool
		history  []string
		wantStub []string
	}{
		{name: "live leaf on new tree", history: []string{"1-a", "2-b", "3-c"}, wantStub: []string{"1-a", "2-b"}},
		{name: "deleted leaf on new tree", deleted: true, history: []string{"1-a", "2-b"}, wantStub: []string{"1-a"}},
		{name: "deleted leaf on existing tree", seed: []string{"1-a"}, deleted: true, history: []string{"1-a", "2-x", "3-y"}, wantStub: []string{"2-x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if tt.seed != nil {
				s.mustForceInsert(t, "doc", false, `{}`, tt.seed...)
			}
			leafID := tt.history[len(tt.history)-1]
			s.mustForceInsert(t, "doc", tt.deleted, `{}`, tt.history...)

			tree, err := s.Tree(context.Background(), "doc")
			if err != nil {
				t.Fatalf("Tree: %v", err)
			}
			leaf := tree.Lookup(leafID)
			if leaf == nil || !leaf.Available || leaf.Deleted != tt.deleted {
				t.Fatalf("grafted leaf = %+v, want available with deleted=%v", leaf, tt.deleted)
			}
			for _, revID := range tt.wantStub {
				if rev := tree.Lookup(revID); rev == nil || rev.Available {
					t.Errorf("%s = %+v, want unavailable stub", revID, rev)
				}
			}
		})
	}
}

func TestStore_ForceInsertValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name string
		item docstoreSvc.ForceInsertItem
	}{
		{
			name: "history does not end with revision",
			item: docstoreSvc.ForceInsertItem{
				Revision: models.Revision{DocID: "doc", RevID: "3-c"},
				History:  []string{"1-a", "2-b"},
			},
		},
		{
			name: "generation gap",
			item: forceItem("doc", false, `{}`, "1-a", "3-c"),
		},
		{
			name: "generation decreases",
			item: forceItem("doc", false, `{}`, "2-a", "1-b"),
		},
		{
			name: "empty history",
			item: docstoreSvc.ForceInsertItem{Revision: models.Revision{DocID: "doc", RevID: "1-a"}},
		},
		{
			name: "malformed id in history",
			item: forceItem("doc", false, `{}`, "x-a", "1-b"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := forceItem("other", false, `{}`, "1-z")
			_, err := s.ForceInsert(ctx, []docstoreSvc.ForceInsertItem{valid, tt.item})
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if seq, _ := s.LastSequence(ctx); seq != 0 {
				t.Fatalf("rows were written before validation failed (last seq %d)", seq)
			}
		})
	}
}

func TestStore_Convergence(t *testing.T) {
	items := []docstoreSvc.ForceInsertItem{
		forceItem("doc", false, `{"n":1}`, "1-x"),
		forceItem("doc", false, `{"n":"a"}`, "1-x", "2-a"),
		forceItem("doc", false, `{"n":"b"}`, "1-x", "2-b"),
		forceItem("doc", true, `{}`, "1-x", "2-a", "3-c"),
		forceItem("doc", false, `{"n":"y"}`, "1-y"),
		forceItem("doc", false, `{"n":"e"}`, "1-x", "2-e", "3-e", "4-e"),
		forceItem("doc", true, `{}`, "1-x", "2-e", "3-e", "4-e", "5-e"),
	}

	orders := [][]int{
		{0, 1, 2, 3, 4, 5, 6},
		{6, 5, 4, 3, 2, 1, 0},
		{3, 0, 6, 2, 4, 1, 5},
		{4, 2, 5, 1, 6, 0, 3},
	}

	var want string
	for i, order := range orders {
		s := newTestStore(t)
		for _, idx := range order {
			if _, err := s.ForceInsert(context.Background(), []docstoreSvc.ForceInsertItem{items[idx]}); err != nil {
				t.Fatalf("order %d item %d: %v", i, idx, err)
			}
			s.assertSingleWinner(t, "doc")
		}
		got := s.currentRevID(t, "doc")
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			t.Fatalf("order %d converged on %s, order 0 on %s", i, got, want)
		}
	}
	if want != "2-b" {
		t.Errorf("winner = %s, want 2-b", want)
	}
}

func TestStore_AttachmentForwarding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("hello attachment")
	res, err := s.Create(ctx, &docstoreSvc.CreateRequest{
		DocID: "doc",
		Body:  json.RawMessage(`{"v":1}`),
		Attachments: map[string]models.AttachmentInput{
			"a.txt": &models.UnsavedAttachment{ContentType: "text/plain", Data: data},
			"b.txt": &models.UnsavedAttachment{ContentType: "text/plain", Data: []byte("bbb")},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := s.blobs.commits.Load(); got != 2 {
		t.Fatalf("commits after create = %d, want 2", got)
	}
	digest := sha1.Sum(data)

	r2, err := s.Update(ctx, &docstoreSvc.UpdateRequest{
		DocID:             "doc",
		BaseRevID:         res.Revision.RevID,
		Body:              json.RawMessage(`{"v":2}`),
		RemoveAttachments: []string{"b.txt"},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := s.blobs.commits.Load(); got != 2 {
		t.Fatalf("update without attachment changes committed blobs (%d commits)", got)
	}

	rev, err := s.Get(ctx, "doc", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rev.RevID != r2.Revision.RevID || len(rev.Attachments) != 1 {
		t.Fatalf("current revision attachments = %+v", rev.Attachments)
	}
	att := rev.Attachment("a.txt")
	if att == nil || string(att.Digest) != string(digest[:]) || att.Sequence != rev.Sequence || att.RevPos != 1 {
		t.Fatalf("forwarded attachment = %+v", att)
	}

	meta, rc, err := s.OpenAttachment(ctx, "doc", "", "a.txt")
	if err != nil {
		t.Fatalf("OpenAttachment: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != string(data) || meta.Length != int64(len(data)) {
		t.Errorf("attachment bytes = %q, length %d", got, meta.Length)
	}
	if _, _, err := s.OpenAttachment(ctx, "doc", "", "b.txt"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("removed attachment should be gone, got %v", err)
	}
}

func TestStore_SavedAttachments(t *testing.T) {
	ctx := context.Background()

	t.Run("references an existing blob", func(t *testing.T) {
		s := newTestStore(t)
		data := []byte("shared bytes")
		if _, err := s.Create(ctx, &docstoreSvc.CreateRequest{
			DocID: "a",
			Body:  json.RawMessage(`{}`),
			Attachments: map[string]models.AttachmentInput{
				"a.txt": &models.UnsavedAttachment{ContentType: "text/plain", Data: data},
			},
		}); err != nil {
			t.Fatalf("Create(a): %v", err)
		}
		src, err := s.Get(ctx, "a", "")
		if err != nil {
			t.Fatalf("Get(a): %v", err)
		}
		commits := s.blobs.commits.Load()

		res, err := s.Create(ctx, &docstoreSvc.CreateRequest{
			DocID: "b",
			Body:  json.RawMessage(`{}`),
			Attachments: map[string]models.AttachmentInput{
				"copy.txt": &models.SavedAttachment{Attachment: *src.Attachment("a.txt")},
			},
		})
		if err != nil {
			t.Fatalf("Create(b): %v", err)
		}
		if got := s.blobs.commits.Load(); got != commits {
			t.Errorf("saved attachment committed a blob (%d commits, want %d)", got, commits)
		}

		b, err := s.Get(ctx, "b", "")
		if err != nil {
			t.Fatalf("Get(b): %v", err)
		}
		att := b.Attachment("copy.txt")
		digest := sha1.Sum(data)
		if att == nil || string(att.Digest) != string(digest[:]) || att.Sequence != res.Revision.Sequence {
			t.Fatalf("referenced attachment = %+v", att)
		}

		_, rc, err := s.OpenAttachment(ctx, "b", "", "copy.txt")
		if err != nil {
			t.Fatalf("OpenAttachment: %v", err)
		}
		defer rc.Close()
		if got, _ := io.ReadAll(rc); string(got) != string(data) {
			t.Errorf("attachment bytes = %q, want %q", got, data)
		}
	})

	unknown := &models.SavedAttachment{Attachment: models.Attachment{
		Name:        "ghost.bin",
		ContentType: "application/octet-stream",
		Digest:      make([]byte, sha1.Size),
		Length:      3,
		RevPos:      1,
	}}

	tests := []struct {
		name  string
		write func(s *testStore, base string) error
	}{
		{
			name: "create",
			write: func(s *testStore, _ string) error {
				_, err := s.Create(ctx, &docstoreSvc.CreateRequest{
					DocID:       "fresh",
					Body:        json.RawMessage(`{}`),
					Attachments: map[string]models.AttachmentInput{"ghost.bin": unknown},
				})
				return err
			},
		},
		{
			name: "update",
			write: func(s *testStore, base string) error {
				_, err := s.Update(ctx, &docstoreSvc.UpdateRequest{
					DocID:       "doc",
					BaseRevID:   base,
					Body:        json.RawMessage(`{"v":2}`),
					Attachments: map[string]models.AttachmentInput{"ghost.bin": unknown},
				})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run("unknown digest rolls back "+tt.name, func(t *testing.T) {
			s := newTestStore(t)
			base := s.mustCreate(t, "doc", `{"v":1}`)
			before, err := s.LastSequence(ctx)
			if err != nil {
				t.Fatalf("LastSequence: %v", err)
			}

			if err := tt.write(s, base.RevID); !errors.Is(err, domain.ErrAttachment) {
				t.Fatalf("err = %v, want attachment failure", err)
			}

			if after, _ := s.LastSequence(ctx); after != before {
				t.Errorf("last sequence moved from %d to %d", before, after)
			}
			if got := s.currentRevID(t, "doc"); got != base.RevID {
				t.Errorf("current = %s, want %s", got, base.RevID)
			}
			if _, err := s.Tree(ctx, "fresh"); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("failed create left a document behind: %v", err)
			}
		})
	}
}

func TestStore_ForceInsertStubAttachments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("shared payload")
	digest := sha1.Sum(data)
	res, err := s.Create(ctx, &docstoreSvc.CreateRequest{
		DocID: "doc",
		Body:  json.RawMessage(`{}`),
		Attachments: map[string]models.AttachmentInput{
			"shared.bin": &models.UnsavedAttachment{ContentType: "application/octet-stream", Data: data},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	item := forceItem("doc", false, `{"remote":true}`, res.Revision.RevID, "2-r", "3-r")
	item.Attachments = map[string]models.AttachmentInput{
		"shared.bin": &models.StubAttachment{Digest: digest[:], RevPos: 1},
	}
	if _, err := s.ForceInsert(ctx, []docstoreSvc.ForceInsertItem{item}); err != nil {
		t.Fatalf("ForceInsert: %v", err)
	}
	commits := s.blobs.commits.Load()

	rev, err := s.Get(ctx, "doc", "3-r")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if att := rev.Attachment("shared.bin"); att == nil || string(att.Digest) != string(digest[:]) {
		t.Fatalf("stub was not inherited: %+v", rev.Attachments)
	}
	if commits != 1 {
		t.Errorf("stub inheritance committed blobs (%d commits)", commits)
	}

	t.Run("stub on new document", func(t *testing.T) {
		before, _ := s.LastSequence(ctx)
		item := forceItem("fresh", false, `{}`, "1-a")
		item.Attachments = map[string]models.AttachmentInput{"x": &models.StubAttachment{RevPos: 1}}
		_, err := s.ForceInsert(ctx, []docstoreSvc.ForceInsertItem{item})
		if !errors.Is(err, domain.ErrAttachment) {
			t.Fatalf("expected attachment failure, got %v", err)
		}
		if after, _ := s.LastSequence(ctx); after != before {
			t.Errorf("failed insert left rows behind")
		}
		if _, err := s.Tree(ctx, "fresh"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("document should not exist, got %v", err)
		}
	})

	t.Run("stub with unknown name rolls back", func(t *testing.T) {
		before, _ := s.LastSequence(ctx)
		item := forceItem("doc", false, `{}`, res.Revision.RevID, "2-q")
		item.Attachments = map[string]models.AttachmentInput{"missing.bin": &models.StubAttachment{RevPos: 1}}
		_, err := s.ForceInsert(ctx, []docstoreSvc.ForceInsertItem{item})
		if !errors.Is(err, domain.ErrAttachment) {
			t.Fatalf("expected attachment failure, got %v", err)
		}
		if after, _ := s.LastSequence(ctx); after != before {
			t.Errorf("failed insert left rows behind")
		}
	})
}
