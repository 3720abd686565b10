package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"docstore/internal/config"
	models "docstore/internal/domain/models/docstore"
	"docstore/internal/domain/models/replication"
	docstoreSvc "docstore/internal/domain/services/docstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options tune a replication run. Zero values take the defaults from config.
type Options struct {
	BatchSize        int
	FetchConcurrency int
}

// Replicator runs one replication between a local store and a peer.
// Cancel is cooperative: it is polled between batches and documents.
type Replicator struct {
	store     docstoreSvc.DocumentStore
	localName string
	remote    Remote
	direction replication.Direction
	opts      Options
	logger    *slog.Logger

	cancelled atomic.Bool
}

func New(store docstoreSvc.DocumentStore, localName string, remote Remote, direction replication.Direction, opts Options, logger *slog.Logger) *Replicator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultReplicationBatchSize
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = config.DefaultFetchConcurrency
	}
	return &Replicator{
		store:     store,
		localName: localName,
		remote:    remote,
		direction: direction,
		opts:      opts,
		logger:    logger,
	}
}

// ID is the replication id used for the checkpoint.
func (r *Replicator) ID() string {
	return ReplicationID(r.localName, r.remote.Identifier(), r.direction)
}

// Cancel asks a running replication to stop after the current document.
// The batch in flight is not checkpointed.
func (r *Replicator) Cancel() {
	r.cancelled.Store(true)
}

func (r *Replicator) stopped(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

// Run replicates until the source has no more changes or the run is
// cancelled. Batches committed before a failure stay committed.
func (r *Replicator) Run(ctx context.Context) (*replication.Result, error) {
	id := r.ID()
	cp, err := LoadCheckpoint(ctx, r.store, id)
	if err != nil {
		return nil, err
	}

	result := &replication.Result{
		ReplicationID: id,
		SessionID:     uuid.NewString(),
		Direction:     r.direction,
		LastSeq:       cp.LastSeq,
	}
	logger := r.logger.With("replication_id", id, "session_id", result.SessionID, "direction", r.direction, "remote", r.remote.Identifier())
	logger.Info("replication started", "since", cp.LastSeq)

	switch r.direction {
	case replication.Pull:
		err = r.pull(ctx, result)
	case replication.Push:
		err = r.push(ctx, result)
	default:
		err = fmt.Errorf("unknown replication direction %q", r.direction)
	}
	if err != nil {
		logger.Error("replication failed", "error", err, "batches", result.Batches)
		return result, err
	}

	logger.Info("replication finished",
		"batches", result.Batches,
		"docs_written", result.DocsWritten,
		"last_seq", result.LastSeq,
		"cancelled", result.Cancelled,
	)
	return result, nil
}

func (r *Replicator) pull(ctx context.Context, result *replication.Result) error {
	for {
		if r.stopped(ctx) {
			result.Cancelled = true
			return nil
		}

		previous := result.LastSeq
		feed, err := r.remote.Changes(ctx, previous, r.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("fetch remote changes: %w", err)
		}
		if len(feed.Results) == 0 {
			return nil
		}

		offered := make(map[string][]string, len(feed.Results))
		for _, row := range feed.Results {
			offered[row.DocID] = append(offered[row.DocID], row.Revs...)
		}
		diff, err := r.store.RevsDiff(ctx, offered)
		if err != nil {
			return fmt.Errorf("local revs diff: %w", err)
		}

		items, err := r.fetchMissing(ctx, diff)
		if err != nil {
			return err
		}

		written, complete, err := r.insertAll(ctx, items)
		result.DocsWritten += written
		if err != nil {
			return err
		}
		if !complete {
			result.Cancelled = true
			return nil
		}

		lastSeq := feed.LastSeq
		if lastSeq == "" {
			lastSeq = feed.Results[len(feed.Results)-1].Seq
		}
		if err := r.finishBatch(ctx, result, lastSeq, written); err != nil {
			return err
		}
		if lastSeq == previous {
			return nil
		}
	}
}

// fetchMissing downloads missing revisions concurrently and stages their
// attachments, ahead of the write queue.
func (r *Replicator) fetchMissing(ctx context.Context, diff map[string]models.RevsDiffEntry) ([][]docstoreSvc.ForceInsertItem, error) {
	docIDs := make([]string, 0, len(diff))
	for docID := range diff {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	fetched := make([][]docstoreSvc.ForceInsertItem, len(docIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FetchConcurrency)
	for i, docID := range docIDs {
		entry := diff[docID]
		g.Go(func() error {
			revs, err := r.remote.GetRevisions(gctx, docID, entry.Missing, entry.PossibleAncestors)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", docID, err)
			}
			items := make([]docstoreSvc.ForceInsertItem, 0, len(revs))
			for j := range revs {
				item, err := ImportRevision(gctx, r.store, &revs[j])
				if err != nil {
					r.discardAll([][]docstoreSvc.ForceInsertItem{items})
					return fmt.Errorf("stage %s %s: %w", docID, revs[j].RevID, err)
				}
				items = append(items, *item)
			}
			fetched[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.discardAll(fetched)
		return nil, err
	}
	return fetched, nil
}

// insertAll grafts the fetched revisions, one document per write. It
// reports false when cancelled before every document was written.
func (r *Replicator) insertAll(ctx context.Context, docs [][]docstoreSvc.ForceInsertItem) (int, bool, error) {
	defer r.discardAll(docs)

	written := 0
	for _, items := range docs {
		if len(items) == 0 {
			continue
		}
		if r.stopped(ctx) {
			return written, false, nil
		}
		results, err := r.store.ForceInsert(ctx, items)
		for _, res := range results {
			if res.Inserted {
				written++
			}
		}
		if err != nil {
			return written, false, err
		}
	}
	return written, true, nil
}

func (r *Replicator) discardAll(docs [][]docstoreSvc.ForceInsertItem) {
	for _, items := range docs {
		for i := range items {
			DiscardItem(r.store, &items[i])
		}
	}
}

func (r *Replicator) push(ctx context.Context, result *replication.Result) error {
	for {
		if r.stopped(ctx) {
			result.Cancelled = true
			return nil
		}

		since, err := parseSequence(result.LastSeq)
		if err != nil {
			return err
		}
		changes, err := r.store.Changes(ctx, since, r.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("local changes: %w", err)
		}
		if len(changes.Results) == 0 {
			return nil
		}

		offered := make(map[string][]string, len(changes.Results))
		for _, ch := range changes.Results {
			offered[ch.DocID] = ch.Revs
		}
		diff, err := r.remote.RevsDiff(ctx, offered)
		if err != nil {
			return fmt.Errorf("remote revs diff: %w", err)
		}

		docIDs := make([]string, 0, len(diff))
		for docID := range diff {
			docIDs = append(docIDs, docID)
		}
		sort.Strings(docIDs)

		var batch []replication.RemoteRevision
		for _, docID := range docIDs {
			if r.stopped(ctx) {
				result.Cancelled = true
				return nil
			}
			entry := diff[docID]
			for _, revID := range entry.Missing {
				rr, err := ExportRevision(ctx, r.store, docID, revID, entry.PossibleAncestors)
				if err != nil {
					return fmt.Errorf("export %s %s: %w", docID, revID, err)
				}
				batch = append(batch, *rr)
			}
		}

		if len(batch) > 0 {
			if err := r.remote.BulkDocs(ctx, batch); err != nil {
				return fmt.Errorf("remote bulk docs: %w", err)
			}
			result.DocsWritten += len(batch)
		}

		if err := r.finishBatch(ctx, result, ToChangesFeed(changes).LastSeq, len(batch)); err != nil {
			return err
		}
	}
}

func (r *Replicator) finishBatch(ctx context.Context, result *replication.Result, lastSeq string, count int) error {
	if err := SaveCheckpoint(ctx, r.store, result.ReplicationID, lastSeq); err != nil {
		return err
	}
	result.LastSeq = lastSeq
	result.Batches++
	r.logger.Info("replication batch committed",
		"replication_id", result.ReplicationID,
		"direction", r.direction,
		"count", count,
		"last_seq", lastSeq,
	)
	return nil
}
