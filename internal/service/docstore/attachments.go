package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
)

// PrepareAttachment stages bytes in the blob store's temp area.
func (s *Store) PrepareAttachment(ctx context.Context, name string, att *models.UnsavedAttachment, r io.Reader) (*models.PreparedAttachment, error) {
	return s.attachments.Prepare(ctx, name, att, r)
}

func (s *Store) DiscardAttachment(p *models.PreparedAttachment) {
	s.attachments.Discard(p)
}

// stagedAttachments is an attachment input map whose raw bytes have been
// written to temp storage. Only the entries staged here are discarded on
// failure; prepared inputs supplied by the caller stay the caller's.
type stagedAttachments struct {
	inputs map[string]models.AttachmentInput
	staged []*models.PreparedAttachment
}

// stageAttachments turns every *UnsavedAttachment into a
// *PreparedAttachment so the write queue never does blob I/O on a reader.
func (s *Store) stageAttachments(ctx context.Context, inputs map[string]models.AttachmentInput) (*stagedAttachments, error) {
	out := &stagedAttachments{inputs: make(map[string]models.AttachmentInput, len(inputs))}
	for name, input := range inputs {
		switch att := input.(type) {
		case *models.UnsavedAttachment:
			p, err := s.attachments.Prepare(ctx, name, att, bytes.NewReader(att.Data))
			if err != nil {
				s.discard(out)
				return nil, err
			}
			out.inputs[name] = p
			out.staged = append(out.staged, p)
		case *models.PreparedAttachment, *models.SavedAttachment, *models.StubAttachment:
			out.inputs[name] = input
		case nil:
			s.discard(out)
			return nil, domain.NewValidationError("_attachments", "attachment %q has no content", name)
		default:
			s.discard(out)
			return nil, fmt.Errorf("attachment %q: unsupported input %T", name, input)
		}
	}
	return out, nil
}

func (s *Store) discard(st *stagedAttachments) {
	if st == nil {
		return
	}
	for _, p := range st.staged {
		s.attachments.Discard(p)
	}
}

// commitAttachments records inputs on rev, which must already be stored.
// Stubs are resolved against ancestors, walking from the parent towards
// the root; tree may be nil when rev has no stored ancestors.
func (s *Store) commitAttachments(ctx context.Context, tree *RevisionTree, rev *models.Revision, inputs map[string]models.AttachmentInput) ([]models.Attachment, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch att := inputs[name].(type) {
		case *models.PreparedAttachment:
			p := *att
			p.Name = name
			revpos := p.RevPos
			if revpos == 0 {
				revpos = rev.Generation()
			}
			if _, err := s.attachments.Commit(ctx, &p, rev.Sequence, revpos); err != nil {
				return nil, err
			}
		case *models.SavedAttachment:
			if _, err := s.attachments.Reference(ctx, &att.Attachment, rev.Sequence, name); err != nil {
				return nil, err
			}
		case *models.StubAttachment:
			if err := s.inheritStub(ctx, tree, rev, name, att); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("attachment %q: unsupported input %T", name, att)
		}
	}

	return s.attachments.ListForSequence(ctx, rev.Sequence)
}

// inheritStub copies the named attachment from the nearest ancestor of rev
// holding it. A stub carrying a digest only matches a row with that digest.
func (s *Store) inheritStub(ctx context.Context, tree *RevisionTree, rev *models.Revision, name string, stub *models.StubAttachment) error {
	if tree != nil && rev.Parent != 0 {
		for _, ancestor := range tree.PathToRoot(rev.Parent) {
			row, err := s.repos.Attachments.Get(ctx, ancestor.Sequence, name)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return &domain.AttachmentError{Name: name, Op: "inherit stub", Err: err}
			}
			if len(stub.Digest) > 0 && !bytes.Equal(stub.Digest, row.Digest) {
				continue
			}
			if err := s.attachments.CopyForward(ctx, ancestor.Sequence, rev.Sequence, name); err != nil {
				return &domain.AttachmentError{Name: name, Op: "inherit stub", Err: err}
			}
			return nil
		}
	}
	return &domain.AttachmentError{
		Name: name,
		Op:   "inherit stub",
		Err:  &domain.NotFoundError{Resource: "attachment", ID: fmt.Sprintf("%s@%s", name, rev.RevID)},
	}
}

// copyForward carries every attachment of parentSeq onto rev except the
// names in skip.
func (s *Store) copyForward(ctx context.Context, parentSeq int64, rev *models.Revision, skip map[string]bool) error {
	atts, err := s.attachments.ListForSequence(ctx, parentSeq)
	if err != nil {
		return fmt.Errorf("list parent attachments: %w", err)
	}
	for _, att := range atts {
		if skip[att.Name] {
			continue
		}
		if err := s.attachments.CopyForward(ctx, parentSeq, rev.Sequence, att.Name); err != nil {
			return &domain.AttachmentError{Name: att.Name, Op: "copy forward", Err: err}
		}
	}
	return nil
}
