package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
)

func TestStore_Changes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a1 := s.mustCreate(t, "a", `{}`)
	s.mustCreate(t, "b", `{}`)
	a2 := s.mustUpdate(t, "a", a1.RevID, `{"n":2}`)
	del, err := s.Delete(ctx, "a", a2.RevID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	changes, err := s.Changes(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if changes.LastSequence != 4 || len(changes.Results) != 2 {
		t.Fatalf("changes = %+v", changes)
	}
	if got := changes.Results[0]; got.DocID != "b" || got.Sequence != 2 || got.Deleted {
		t.Errorf("first row = %+v", got)
	}
	if got := changes.Results[1]; got.DocID != "a" || got.Sequence != 4 || !got.Deleted ||
		!reflect.DeepEqual(got.Revs, []string{del.Revision.RevID}) {
		t.Errorf("second row = %+v", got)
	}

	page, err := s.Changes(ctx, 0, 2)
	if err != nil {
		t.Fatalf("Changes(limit 2): %v", err)
	}
	if page.LastSequence != 2 || len(page.Results) != 2 {
		t.Errorf("limited page = %+v", page)
	}

	rest, err := s.Changes(ctx, 4, 10)
	if err != nil {
		t.Fatalf("Changes(since 4): %v", err)
	}
	if len(rest.Results) != 0 || rest.LastSequence != 4 {
		t.Errorf("empty page = %+v", rest)
	}

	count, err := s.DocumentCount(ctx)
	if err != nil || count != 1 {
		t.Errorf("DocumentCount = %d, %v", count, err)
	}
	ids, err := s.DocumentIDs(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("DocumentIDs = %v, %v", ids, err)
	}
}

func TestStore_RevsDiff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.mustForceInsert(t, "doc", false, `{}`, "1-a", "2-b")
	s.mustForceInsert(t, "doc", false, `{}`, "1-a", "2-c", "3-c")

	diff, err := s.RevsDiff(ctx, map[string][]string{
		"doc":     {"2-b", "4-x", "4-x", "2-z"},
		"missing": {"1-q"},
		"synced":  {},
		"done":    nil,
	})
	if err != nil {
		t.Fatalf("RevsDiff: %v", err)
	}

	want := map[string]models.RevsDiffEntry{
		"doc":     {Missing: []string{"4-x", "2-z"}, PossibleAncestors: []string{"2-b", "3-c"}},
		"missing": {Missing: []string{"1-q"}},
	}
	if !reflect.DeepEqual(diff, want) {
		t.Fatalf("RevsDiff = %+v, want %+v", diff, want)
	}

	none, err := s.RevsDiff(ctx, map[string][]string{"doc": {"1-a", "3-c"}})
	if err != nil || len(none) != 0 {
		t.Errorf("RevsDiff of present revisions = %+v, %v", none, err)
	}
}

func TestStore_RevisionHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.mustForceInsert(t, "doc", false, `{"v":1}`, "1-a", "2-b", "3-c")
	rev, history, err := s.RevisionHistory(ctx, "doc", "")
	if err != nil {
		t.Fatalf("RevisionHistory: %v", err)
	}
	if rev.RevID != "3-c" || !reflect.DeepEqual(history, []string{"1-a", "2-b", "3-c"}) {
		t.Errorf("history = %s %v", rev.RevID, history)
	}

	if _, _, err := s.RevisionHistory(ctx, "doc", "9-z"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown revision: %v", err)
	}
}

func TestStore_GetRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1 := s.mustCreate(t, "doc", `{"v":1}`)
	r2 := s.mustUpdate(t, "doc", r1.RevID, `{"v":2}`)
	g1 := s.mustCreate(t, "gone", `{}`)
	del, err := s.Delete(ctx, "gone", g1.RevID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	tests := []struct {
		name     string
		docID    string
		revID    string
		wantRev  string
		wantBody string
		wantErr  error
	}{
		{name: "current", docID: "doc", wantRev: r2.RevID, wantBody: `{"v":2}`},
		{name: "ancestor by id", docID: "doc", revID: r1.RevID, wantRev: r1.RevID, wantBody: `{"v":1}`},
		{name: "unknown revision", docID: "doc", revID: "9-z", wantErr: domain.ErrNotFound},
		{name: "unknown document", docID: "nope", revID: "1-a", wantErr: domain.ErrNotFound},
		{name: "deleted current", docID: "gone", wantErr: domain.ErrNotFound},
		{name: "tombstone by id", docID: "gone", revID: del.Revision.RevID, wantRev: del.Revision.RevID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, err := s.Get(ctx, tt.docID, tt.revID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Get err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if rev.RevID != tt.wantRev || rev.DocID != tt.docID {
				t.Errorf("Get = %s/%s, want %s/%s", rev.DocID, rev.RevID, tt.docID, tt.wantRev)
			}
			if tt.wantBody != "" && string(rev.Body) != tt.wantBody {
				t.Errorf("body = %s, want %s", rev.Body, tt.wantBody)
			}
		})
	}
}

func TestStore_ResolveConflicts(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *testStore {
		s := newTestStore(t)
		s.mustForceInsert(t, "doc", false, `{"v":0}`, "1-x")
		s.mustForceInsert(t, "doc", false, `{"v":"a"}`, "1-x", "2-a")
		s.mustForceInsert(t, "doc", false, `{"v":"b"}`, "1-x", "2-b")
		s.mustForceInsert(t, "doc", false, `{"v":"c"}`, "1-x", "2-c")
		return s
	}

	t.Run("keep loser", func(t *testing.T) {
		s := setup(t)
		var offered []string
		res, err := s.ResolveConflicts(ctx, "doc", func(_ context.Context, _ string, leaves []models.Revision) (*docstoreSvc.Resolution, error) {
			for _, l := range leaves {
				offered = append(offered, l.RevID)
			}
			return &docstoreSvc.Resolution{RevID: "2-a"}, nil
		})
		if err != nil {
			t.Fatalf("ResolveConflicts: %v", err)
		}
		if !reflect.DeepEqual(offered, []string{"2-a", "2-b", "2-c"}) {
			t.Errorf("resolver saw %v", offered)
		}
		if !res.Resolved || res.Winner.RevID != "2-a" || len(res.Events) != 2 {
			t.Fatalf("result = %+v", res)
		}
		for _, ev := range res.Events {
			if ev.Kind != models.EventDeleted {
				t.Errorf("event = %+v", ev)
			}
		}
		if got := s.currentRevID(t, "doc"); got != "2-a" {
			t.Errorf("current = %s, want 2-a", got)
		}
		tree, _ := s.Tree(ctx, "doc")
		if tree.HasConflicts() {
			t.Error("conflict should be gone")
		}
		s.assertSingleWinner(t, "doc")
	})

	t.Run("merged body grafts a child", func(t *testing.T) {
		s := setup(t)
		res, err := s.ResolveConflicts(ctx, "doc", func(context.Context, string, []models.Revision) (*docstoreSvc.Resolution, error) {
			return &docstoreSvc.Resolution{RevID: "2-b", Body: json.RawMessage(`{"v":"merged"}`)}, nil
		})
		if err != nil {
			t.Fatalf("ResolveConflicts: %v", err)
		}
		if res.Winner.Generation() != 3 || string(res.Winner.Body) != `{"v":"merged"}` || len(res.Events) != 3 {
			t.Fatalf("result = %+v", res)
		}
		if last := res.Events[len(res.Events)-1]; last.Kind != models.EventUpdated || last.PreviousRevID != "2-b" {
			t.Errorf("last event = %+v", last)
		}
		if got := s.currentRevID(t, "doc"); got != res.Winner.RevID {
			t.Errorf("current = %s, want %s", got, res.Winner.RevID)
		}
		s.assertSingleWinner(t, "doc")
	})

	t.Run("nil resolution and errors leave conflicts", func(t *testing.T) {
		s := setup(t)
		before, _ := s.LastSequence(ctx)

		res, err := s.ResolveConflicts(ctx, "doc", func(context.Context, string, []models.Revision) (*docstoreSvc.Resolution, error) {
			return nil, nil
		})
		if err != nil || res.Resolved {
			t.Fatalf("nil resolution = %+v, %v", res, err)
		}

		boom := errors.New("boom")
		_, err = s.ResolveConflicts(ctx, "doc", func(context.Context, string, []models.Revision) (*docstoreSvc.Resolution, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("resolver error not returned: %v", err)
		}

		_, err = s.ResolveConflicts(ctx, "doc", func(context.Context, string, []models.Revision) (*docstoreSvc.Resolution, error) {
			return &docstoreSvc.Resolution{RevID: "1-x"}, nil
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("choosing an interior revision: %v", err)
		}

		if after, _ := s.LastSequence(ctx); after != before {
			t.Errorf("aborted resolutions wrote rows")
		}
		if got := s.currentRevID(t, "doc"); got != "2-c" {
			t.Errorf("current = %s, want 2-c", got)
		}
	})

	t.Run("no conflicts", func(t *testing.T) {
		s := newTestStore(t)
		s.mustCreate(t, "plain", `{}`)
		called := false
		res, err := s.ResolveConflicts(ctx, "plain", func(context.Context, string, []models.Revision) (*docstoreSvc.Resolution, error) {
			called = true
			return nil, nil
		})
		if err != nil || res.Resolved || called {
			t.Fatalf("resolver should not run: %+v, %v, called=%v", res, err, called)
		}
	})
}

func TestStore_Compact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Create(ctx, &docstoreSvc.CreateRequest{
		DocID: "doc",
		Body:  json.RawMessage(`{"v":1}`),
		Attachments: map[string]models.AttachmentInput{
			"old.txt": &models.UnsavedAttachment{ContentType: "text/plain", Data: []byte("old")},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r2, err := s.Update(ctx, &docstoreSvc.UpdateRequest{
		DocID:             "doc",
		BaseRevID:         res.Revision.RevID,
		Body:              json.RawMessage(`{"v":2}`),
		RemoveAttachments: []string{"old.txt"},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := s.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	old, err := s.Get(ctx, "doc", res.Revision.RevID)
	if err != nil {
		t.Fatalf("Get old revision: %v", err)
	}
	if old.Body != nil || len(old.Attachments) != 0 {
		t.Errorf("old revision not compacted: body %s, %d attachments", old.Body, len(old.Attachments))
	}
	current, err := s.Get(ctx, "doc", "")
	if err != nil || current.RevID != r2.Revision.RevID || string(current.Body) != `{"v":2}` {
		t.Errorf("current after compaction = %+v, %v", current, err)
	}
}

func TestStore_LocalDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.PutLocal(ctx, "_local/checkpoint", json.RawMessage(`{"last_seq":"1"}`))
	if err != nil {
		t.Fatalf("PutLocal: %v", err)
	}
	second, err := s.PutLocal(ctx, "checkpoint", json.RawMessage(`{"last_seq":"5"}`))
	if err != nil {
		t.Fatalf("PutLocal: %v", err)
	}
	if first.RevID != "0-1" || second.RevID != "0-2" || second.DocID != "_local/checkpoint" {
		t.Fatalf("revisions = %s, %s (%s)", first.RevID, second.RevID, second.DocID)
	}

	got, err := s.GetLocal(ctx, "_local/checkpoint")
	if err != nil || string(got.Body) != `{"last_seq":"5"}` {
		t.Fatalf("GetLocal = %+v, %v", got, err)
	}
	if seq, _ := s.LastSequence(ctx); seq != 0 {
		t.Errorf("local documents must not consume sequences, last seq %d", seq)
	}

	if err := s.DeleteLocal(ctx, "checkpoint"); err != nil {
		t.Fatalf("DeleteLocal: %v", err)
	}
	if _, err := s.GetLocal(ctx, "checkpoint"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetLocal after delete: %v", err)
	}
}

// TestStore_RandomOperationsKeepSingleWinner drives a store with a random
// mix of local writes and remote inserts.
func TestStore_RandomOperationsKeepSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := rand.New(rand.NewSource(7))
	docs := []string{"d0", "d1", "d2"}

	for i := 0; i < 200; i++ {
		docID := docs[r.Intn(len(docs))]
		tree, err := s.Tree(ctx, docID)
		if errors.Is(err, domain.ErrNotFound) {
			s.mustCreate(t, docID, `{}`)
			continue
		}
		if err != nil {
			t.Fatalf("Tree: %v", err)
		}

		leaves := tree.Leaves(false)
		leaf := leaves[r.Intn(len(leaves))]
		history := tree.History(leaf.Sequence)

		switch r.Intn(4) {
		case 0:
			current, _ := tree.Current()
			_, err = s.Update(ctx, &docstoreSvc.UpdateRequest{DocID: docID, BaseRevID: current.RevID, Body: json.RawMessage(`{"op":"update"}`)})
			if current.Deleted && errors.Is(err, domain.ErrNotFound) {
				err = nil
			}
		case 1:
			_, err = s.Delete(ctx, docID, leaf.RevID)
			if leaf.Deleted && errors.Is(err, domain.ErrNotFound) {
				err = nil
			}
		case 2:
			next := models.FormatRevID(leaf.Generation()+1, string(rune('a'+r.Intn(26))))
			_, err = s.ForceInsert(ctx, []docstoreSvc.ForceInsertItem{
				forceItem(docID, r.Intn(5) == 0, `{"op":"remote"}`, append(history, next)...),
			})
		case 3:
			_, err = s.Create(ctx, &docstoreSvc.CreateRequest{DocID: docID, Body: json.RawMessage(`{}`)})
			if errors.Is(err, domain.ErrConflict) {
				err = nil
			}
		}
		if err != nil {
			t.Fatalf("step %d on %s: %v", i, docID, err)
		}
		s.assertSingleWinner(t, docID)
	}
}
