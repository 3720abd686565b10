package leveldb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb/util"

	"docstore/internal/domain"
	"docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
)

// revisionRecord is the stored form of a revision row. Body is []byte so
// the stored bytes are kept exactly as written.
type revisionRecord struct {
	DocNumericID int64  `json:"doc"`
	DocID        string `json:"id"`
	RevID        string `json:"rev"`
	Parent       int64  `json:"parent,omitempty"`
	Current      bool   `json:"current,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
	Available    bool   `json:"available,omitempty"`
	Body         []byte `json:"body,omitempty"`
}

func (rec *revisionRecord) toModel(seq int64) docstore.Revision {
	rev := docstore.Revision{
		DocID:        rec.DocID,
		DocNumericID: rec.DocNumericID,
		RevID:        rec.RevID,
		Sequence:     seq,
		Parent:       rec.Parent,
		Current:      rec.Current,
		Deleted:      rec.Deleted,
		Available:    rec.Available,
	}
	if rec.Body != nil {
		rev.Body = json.RawMessage(rec.Body)
	}
	return rev
}

// RevisionRepository implements docstoreRepo.RevisionRepository
type RevisionRepository struct {
	db *DB
}

// NewRevisionRepository creates a new revision repository
func NewRevisionRepository(db *DB) docstoreRepo.RevisionRepository {
	return &RevisionRepository{db: db}
}

func (r *RevisionRepository) Insert(ctx context.Context, rev *docstore.Revision) error {
	ex := getExecutor(ctx, r.db.db)

	seq, err := nextCounter(ex, keyLastSequence)
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}

	rec := revisionRecord{
		DocNumericID: rev.DocNumericID,
		DocID:        rev.DocID,
		RevID:        rev.RevID,
		Parent:       rev.Parent,
		Current:      rev.Current,
		Deleted:      rev.Deleted,
		Available:    rev.Available,
		Body:         []byte(rev.Body),
	}
	value, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode revision: %w", err)
	}
	if err := ex.Put(revisionKey(seq), value, nil); err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	if err := ex.Put(makeKey(docRevsPrefix(rev.DocNumericID), encodeInt(seq)), nil, nil); err != nil {
		return fmt.Errorf("index revision: %w", err)
	}

	rev.Sequence = seq
	return nil
}

func (r *RevisionRepository) load(ex executor, seq int64) (*revisionRecord, error) {
	value, err := ex.Get(revisionKey(seq), nil)
	if err != nil {
		return nil, notFound(err, "revision", strconv.FormatInt(seq, 10))
	}
	var rec revisionRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decode revision %d: %w", seq, err)
	}
	return &rec, nil
}

func (r *RevisionRepository) store(ex executor, seq int64, rec *revisionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode revision: %w", err)
	}
	return ex.Put(revisionKey(seq), value, nil)
}

func (r *RevisionRepository) ListByDocument(ctx context.Context, docNumericID int64) ([]docstore.Revision, error) {
	ex := getExecutor(ctx, r.db.db)
	prefix := docRevsPrefix(docNumericID)

	iter := ex.NewIterator(util.BytesPrefix(prefix), nil)
	var seqs []int64
	for iter.Next() {
		seq, err := decodeInt(iter.Key()[len(prefix):])
		if err != nil {
			iter.Release()
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}

	revs := make([]docstore.Revision, 0, len(seqs))
	for _, seq := range seqs {
		rec, err := r.load(ex, seq)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rec.toModel(seq))
	}
	return revs, nil
}

func (r *RevisionRepository) GetByRevID(ctx context.Context, docNumericID int64, revID string) (*docstore.Revision, error) {
	revs, err := r.ListByDocument(ctx, docNumericID)
	if err != nil {
		return nil, err
	}
	// rows are in sequence order, so the first match has the lowest sequence
	for i := range revs {
		if revs[i].RevID == revID {
			return &revs[i], nil
		}
	}
	return nil, &domain.NotFoundError{Resource: "revision", ID: revID}
}

func (r *RevisionRepository) GetBySequence(ctx context.Context, sequence int64) (*docstore.Revision, error) {
	rec, err := r.load(getExecutor(ctx, r.db.db), sequence)
	if err != nil {
		return nil, err
	}
	rev := rec.toModel(sequence)
	return &rev, nil
}

func (r *RevisionRepository) SetCurrent(ctx context.Context, sequence int64, current bool) error {
	ex := getExecutor(ctx, r.db.db)
	rec, err := r.load(ex, sequence)
	if err != nil {
		return err
	}
	if rec.Current == current {
		return nil
	}
	rec.Current = current
	return r.store(ex, sequence, rec)
}

func (r *RevisionRepository) ChangedDocuments(ctx context.Context, since int64, limit int) ([]docstore.DocumentChange, error) {
	ex := getExecutor(ctx, r.db.db)
	iter := ex.NewIterator(&util.Range{Start: revisionKey(since + 1), Limit: util.BytesPrefix(prefixRevision).Limit}, nil)
	defer iter.Release()

	latest := make(map[int64]int64)
	scanned := 0
	for iter.Next() && (limit <= 0 || scanned < limit) {
		seq, err := decodeInt(iter.Key()[len(prefixRevision):])
		if err != nil {
			return nil, err
		}
		var rec revisionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode revision %d: %w", seq, err)
		}
		latest[rec.DocNumericID] = seq
		scanned++
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan changes: %w", err)
	}

	changes := make([]docstore.DocumentChange, 0, len(latest))
	for doc, seq := range latest {
		changes = append(changes, docstore.DocumentChange{DocNumericID: doc, Sequence: seq})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Sequence < changes[j].Sequence })
	return changes, nil
}

func (r *RevisionRepository) LastSequence(ctx context.Context) (int64, error) {
	return readCounter(getExecutor(ctx, r.db.db), keyLastSequence)
}

func (r *RevisionRepository) ExistingRevIDs(ctx context.Context, docNumericID int64, revIDs []string) ([]string, error) {
	revs, err := r.ListByDocument(ctx, docNumericID)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]bool, len(revs))
	for _, rev := range revs {
		stored[rev.RevID] = true
	}

	var existing []string
	for _, id := range revIDs {
		if stored[id] {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

// scanAll decodes every revision row. Used by whole-store maintenance queries.
func (r *RevisionRepository) scanAll(ex executor) (map[int64]*revisionRecord, error) {
	iter := ex.NewIterator(util.BytesPrefix(prefixRevision), nil)
	defer iter.Release()

	all := make(map[int64]*revisionRecord)
	for iter.Next() {
		seq, err := decodeInt(iter.Key()[len(prefixRevision):])
		if err != nil {
			return nil, err
		}
		var rec revisionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode revision %d: %w", seq, err)
		}
		all[seq] = &rec
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan revisions: %w", err)
	}
	return all, nil
}

func parentSet(all map[int64]*revisionRecord) map[int64]bool {
	parents := make(map[int64]bool)
	for _, rec := range all {
		if rec.Parent != 0 {
			parents[rec.Parent] = true
		}
	}
	return parents
}

func (r *RevisionRepository) ClearNonLeafBodies(ctx context.Context) (int64, error) {
	ex := getExecutor(ctx, r.db.db)
	all, err := r.scanAll(ex)
	if err != nil {
		return 0, err
	}
	parents := parentSet(all)

	var cleared int64
	for seq, rec := range all {
		if rec.Current || !parents[seq] || rec.Body == nil {
			continue
		}
		rec.Body = nil
		if err := r.store(ex, seq, rec); err != nil {
			return cleared, fmt.Errorf("clear revision %d: %w", seq, err)
		}
		cleared++
	}
	return cleared, nil
}

func (r *RevisionRepository) CountCurrent(ctx context.Context) (int, error) {
	all, err := r.scanAll(getExecutor(ctx, r.db.db))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range all {
		if rec.Current && !rec.Deleted {
			count++
		}
	}
	return count, nil
}

func (r *RevisionRepository) ListDocumentsWithConflicts(ctx context.Context) ([]int64, error) {
	all, err := r.scanAll(getExecutor(ctx, r.db.db))
	if err != nil {
		return nil, err
	}
	parents := parentSet(all)

	liveLeaves := make(map[int64]int)
	for seq, rec := range all {
		if !parents[seq] && !rec.Deleted {
			liveLeaves[rec.DocNumericID]++
		}
	}

	var docs []int64
	for doc, n := range liveLeaves {
		if n > 1 {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })
	return docs, nil
}
