package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
	"docstore/internal/queue"

	"github.com/google/uuid"
)

// Store implements docstoreSvc.DocumentStore on top of a storage backend,
// an attachment store and a write queue.
type Store struct {
	repos       docstoreRepo.Repositories
	attachments docstoreSvc.AttachmentStore
	queue       *queue.Queue
	logger      *slog.Logger
	newHash     func() string
}

// Option configures a Store.
type Option func(*Store)

// WithHashSource replaces the generator of revision hashes and document ids.
func WithHashSource(fn func() string) Option {
	return func(s *Store) { s.newHash = fn }
}

// NewDocumentStore creates a document store. All writes go through q, whose
// transaction manager must belong to the same backend as repos.
func NewDocumentStore(
	repos docstoreRepo.Repositories,
	attachments docstoreSvc.AttachmentStore,
	q *queue.Queue,
	logger *slog.Logger,
	opts ...Option,
) *Store {
	s := &Store{
		repos:       repos,
		attachments: attachments,
		queue:       q,
		logger:      logger,
		newHash:     randomHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ docstoreSvc.DocumentStore = (*Store)(nil)

// randomHash returns 32 lowercase hex characters.
func randomHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Tree loads the revision forest of docID.
func (s *Store) Tree(ctx context.Context, docID string) (*RevisionTree, error) {
	numericID, err := s.repos.Documents.GetNumericID(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.loadTree(ctx, docID, numericID)
}

func (s *Store) loadTree(ctx context.Context, docID string, numericID int64) (*RevisionTree, error) {
	revs, err := s.repos.Revisions.ListByDocument(ctx, numericID)
	if err != nil {
		return nil, fmt.Errorf("load revisions of %s: %w", docID, err)
	}
	if len(revs) == 0 {
		return nil, &domain.NotFoundError{Resource: "document", ID: docID}
	}
	for i := range revs {
		revs[i].DocID = docID
	}
	tree, err := NewRevisionTree(docID, numericID, revs)
	if err != nil {
		s.logInvariant(err)
		return nil, err
	}
	return tree, nil
}

// current is tree.Current with invariant violations logged.
func (s *Store) current(tree *RevisionTree) (*models.Revision, error) {
	rev, err := tree.Current()
	if err != nil {
		s.logInvariant(err)
		return nil, err
	}
	return rev, nil
}

func (s *Store) logInvariant(err error) {
	var inv *domain.InvariantError
	if errors.As(err, &inv) {
		s.logger.Error("revision tree invariant violated",
			"doc_id", inv.DocID,
			"error", inv.Message,
		)
	}
}

// findTree is Tree that reports a missing document as (nil, nil).
func (s *Store) findTree(ctx context.Context, docID string) (*RevisionTree, error) {
	tree, err := s.Tree(ctx, docID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tree, nil
}

// withAttachments returns a copy of rev carrying its attachment rows.
func (s *Store) withAttachments(ctx context.Context, rev *models.Revision) (*models.Revision, error) {
	out := *rev
	atts, err := s.attachments.ListForSequence(ctx, rev.Sequence)
	if err != nil {
		return nil, fmt.Errorf("list attachments of %s: %w", rev.RevID, err)
	}
	out.Attachments = atts
	return &out, nil
}

func eventFor(kind models.EventKind, rev *models.Revision, previous string) models.DocumentEvent {
	return models.DocumentEvent{
		Kind:          kind,
		DocID:         rev.DocID,
		RevID:         rev.RevID,
		Sequence:      rev.Sequence,
		PreviousRevID: previous,
	}
}
