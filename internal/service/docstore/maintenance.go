package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	"docstore/internal/queue"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Compact clears the bodies of revisions that are neither current nor
// leaves, drops their attachment rows and then deletes unreferenced blobs.
func (s *Store) Compact(ctx context.Context) error {
	type counts struct{ bodies, attachments int64 }

	c, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (counts, error) {
		bodies, err := s.repos.Revisions.ClearNonLeafBodies(txCtx)
		if err != nil {
			return counts{}, fmt.Errorf("clear bodies: %w", err)
		}
		atts, err := s.repos.Attachments.DeleteForClearedRevisions(txCtx)
		if err != nil {
			return counts{}, fmt.Errorf("drop attachments: %w", err)
		}
		return counts{bodies: bodies, attachments: atts}, nil
	})
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	_, err = s.queue.Submit(ctx, func(qCtx context.Context) (any, error) {
		return nil, s.attachments.PurgeOrphans(qCtx)
	}).Wait(ctx)
	if err != nil {
		return fmt.Errorf("compact: purge blobs: %w", err)
	}

	s.logger.Info("database compacted",
		"cleared_bodies", c.bodies,
		"dropped_attachments", c.attachments,
	)
	return nil
}

// GetLocal returns a _local/ document. docID may be given with or without
// the prefix.
func (s *Store) GetLocal(ctx context.Context, docID string) (*models.LocalDocument, error) {
	return s.repos.Locals.Get(ctx, localID(docID))
}

// PutLocal overwrites a _local/ document, bumping its "0-N" revision.
func (s *Store) PutLocal(ctx context.Context, docID string, body json.RawMessage) (*models.LocalDocument, error) {
	id := localID(docID)
	if err := validateField("_id", strings.TrimPrefix(id, localPrefix), validation.Required); err != nil {
		return nil, err
	}
	normalized, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}

	return queue.Do(ctx, s.queue, func(txCtx context.Context) (*models.LocalDocument, error) {
		next := 1
		existing, err := s.repos.Locals.Get(txCtx, id)
		switch {
		case err == nil:
			next = localRevision(existing.RevID) + 1
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}

		doc := &models.LocalDocument{
			DocID: id,
			RevID: "0-" + strconv.Itoa(next),
			Body:  normalized,
		}
		if err := s.repos.Locals.Put(txCtx, doc); err != nil {
			return nil, fmt.Errorf("put local %s: %w", id, err)
		}
		return doc, nil
	})
}

func (s *Store) DeleteLocal(ctx context.Context, docID string) error {
	id := localID(docID)
	_, err := queue.Do(ctx, s.queue, func(txCtx context.Context) (struct{}, error) {
		return struct{}{}, s.repos.Locals.Delete(txCtx, id)
	})
	return err
}

func localID(docID string) string {
	if IsLocalID(docID) {
		return docID
	}
	return localPrefix + docID
}

func localRevision(revID string) int {
	_, n, ok := strings.Cut(revID, "-")
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	return v
}
