// Package replication copies revisions between a local document store and
// a peer, in either direction, resuming from persisted checkpoints.
package replication

import (
	"context"
	"fmt"
	"strconv"

	models "docstore/internal/domain/models/docstore"
	"docstore/internal/domain/models/replication"
	docstoreSvc "docstore/internal/domain/services/docstore"
)

// Remote is the peer side of a replication.
type Remote interface {
	// Identifier names the peer; it is part of the replication id
	Identifier() string

	// Changes returns changes after since, at most limit rows. An empty
	// since starts from the beginning.
	Changes(ctx context.Context, since string, limit int) (*replication.ChangesFeed, error)

	RevsDiff(ctx context.Context, revs map[string][]string) (map[string]models.RevsDiffEntry, error)

	// GetRevisions returns the named revisions with history. Attachments
	// not newer than any revision in attsSince come back as stubs.
	GetRevisions(ctx context.Context, docID string, revIDs []string, attsSince []string) ([]replication.RemoteRevision, error)

	// BulkDocs stores revisions keeping their ids and histories
	BulkDocs(ctx context.Context, revs []replication.RemoteRevision) error
}

// StoreRemote exposes a local DocumentStore as a peer.
type StoreRemote struct {
	name  string
	store docstoreSvc.DocumentStore
}

func NewStoreRemote(name string, store docstoreSvc.DocumentStore) *StoreRemote {
	return &StoreRemote{name: name, store: store}
}

func (r *StoreRemote) Identifier() string { return "store:" + r.name }

func (r *StoreRemote) Changes(ctx context.Context, since string, limit int) (*replication.ChangesFeed, error) {
	seq, err := parseSequence(since)
	if err != nil {
		return nil, err
	}
	changes, err := r.store.Changes(ctx, seq, limit)
	if err != nil {
		return nil, err
	}
	return ToChangesFeed(changes), nil
}

func (r *StoreRemote) RevsDiff(ctx context.Context, revs map[string][]string) (map[string]models.RevsDiffEntry, error) {
	return r.store.RevsDiff(ctx, revs)
}

func (r *StoreRemote) GetRevisions(ctx context.Context, docID string, revIDs []string, attsSince []string) ([]replication.RemoteRevision, error) {
	out := make([]replication.RemoteRevision, 0, len(revIDs))
	for _, revID := range revIDs {
		rr, err := ExportRevision(ctx, r.store, docID, revID, attsSince)
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	return out, nil
}

func (r *StoreRemote) BulkDocs(ctx context.Context, revs []replication.RemoteRevision) error {
	items := make([]docstoreSvc.ForceInsertItem, 0, len(revs))
	defer func() {
		for i := range items {
			DiscardItem(r.store, &items[i])
		}
	}()
	for i := range revs {
		item, err := ImportRevision(ctx, r.store, &revs[i])
		if err != nil {
			return err
		}
		items = append(items, *item)
	}
	_, err := r.store.ForceInsert(ctx, items)
	return err
}

// ToChangesFeed renders a local changes page the way peers exchange it.
func ToChangesFeed(changes *models.Changes) *replication.ChangesFeed {
	feed := &replication.ChangesFeed{
		Results: make([]replication.ChangeRow, 0, len(changes.Results)),
		LastSeq: strconv.FormatInt(changes.LastSequence, 10),
	}
	for _, ch := range changes.Results {
		feed.Results = append(feed.Results, replication.ChangeRow{
			Seq:     strconv.FormatInt(ch.Sequence, 10),
			DocID:   ch.DocID,
			Revs:    ch.Revs,
			Deleted: ch.Deleted,
		})
	}
	return feed
}

func parseSequence(since string) (int64, error) {
	if since == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(since, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence %q: %w", since, err)
	}
	return seq, nil
}
