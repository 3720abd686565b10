// Package attachments is a content-addressed blob store for attachment
// bytes. Blobs live in one shared directory under random filenames; the
// attachments_key_filename table maps each SHA-1 digest to its file.
package attachments

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
)

// MaxFilenameAttempts bounds how many random filenames are tried for a new
// blob before giving up with domain.ErrExhaustedRetries.
const MaxFilenameAttempts = 200

// filenameBytes is the number of random bytes in a blob filename.
const filenameBytes = 20

// Store implements docstoreSvc.AttachmentStore on the local filesystem.
type Store struct {
	dir    string
	tmpDir string
	repo   docstoreRepo.AttachmentRepository
	random io.Reader
	logger *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithRandom replaces crypto/rand as the filename source.
func WithRandom(r io.Reader) Option {
	return func(s *Store) { s.random = r }
}

// NewStore creates the blob directory (and its temp area) if needed.
func NewStore(dir string, repo docstoreRepo.AttachmentRepository, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		tmpDir: filepath.Join(dir, "tmp"),
		repo:   repo,
		random: rand.Reader,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment directory: %w", err)
	}
	return s, nil
}

var _ docstoreSvc.AttachmentStore = (*Store)(nil)

// Prepare streams r (or att.Data when r is nil) into a temp file and
// measures it. Nothing is recorded in storage until Commit.
func (s *Store) Prepare(ctx context.Context, name string, att *models.UnsavedAttachment, r io.Reader) (*models.PreparedAttachment, error) {
	if r == nil {
		r = bytes.NewReader(att.Data)
	}

	f, err := os.CreateTemp(s.tmpDir, "prepare-*")
	if err != nil {
		return nil, &domain.AttachmentError{Name: name, Op: "prepare", Err: err}
	}

	hash := sha1.New()
	n, err := io.Copy(io.MultiWriter(f, hash), &contextReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, &domain.AttachmentError{Name: name, Op: "prepare", Err: err}
	}

	length := n
	if att.Encoding != models.EncodingPlain && att.Length > 0 {
		length = att.Length
	}

	return &models.PreparedAttachment{
		Name:          name,
		ContentType:   att.ContentType,
		Encoding:      att.Encoding,
		Digest:        hash.Sum(nil),
		Length:        length,
		EncodedLength: n,
		TempPath:      f.Name(),
	}, nil
}

// Commit moves the prepared blob into place (or drops it when the digest
// is already stored) and records the attachment row on sequence.
func (s *Store) Commit(ctx context.Context, p *models.PreparedAttachment, sequence int64, revpos int) (*models.Attachment, error) {
	filename, known, err := s.filenameForKey(ctx, p.Key())
	if err != nil {
		return nil, &domain.AttachmentError{Name: p.Name, Op: "allocate filename", Err: err}
	}

	dest := filepath.Join(s.dir, filename)
	if known && fileExists(dest) {
		if p.TempPath != "" {
			_ = os.Remove(p.TempPath)
		}
	} else if err := os.Rename(p.TempPath, dest); err != nil {
		return nil, &domain.AttachmentError{Name: p.Name, Op: "store blob", Err: err}
	}

	att := &models.Attachment{
		Sequence:      sequence,
		Name:          p.Name,
		Digest:        p.Digest,
		ContentType:   p.ContentType,
		Encoding:      p.Encoding,
		Length:        p.Length,
		EncodedLength: p.EncodedLength,
		RevPos:        revpos,
	}
	if err := s.repo.Insert(ctx, att); err != nil {
		return nil, &domain.AttachmentError{Name: p.Name, Op: "record", Err: err}
	}
	return att, nil
}

// CopyForward records (from, name) on sequence to without touching the blob.
// Returns domain.ErrNotFound when from has no such attachment.
func (s *Store) CopyForward(ctx context.Context, from, to int64, name string) error {
	return s.repo.Copy(ctx, from, to, name)
}

// Reference records an already stored blob under a (possibly new) name.
func (s *Store) Reference(ctx context.Context, att *models.Attachment, sequence int64, name string) (*models.Attachment, error) {
	if _, err := s.repo.GetFilename(ctx, att.Key()); err != nil {
		return nil, &domain.AttachmentError{Name: name, Op: "reference", Err: err}
	}

	ref := *att
	ref.Sequence = sequence
	ref.Name = name
	if err := s.repo.Insert(ctx, &ref); err != nil {
		return nil, &domain.AttachmentError{Name: name, Op: "record", Err: err}
	}
	return &ref, nil
}

func (s *Store) ListForSequence(ctx context.Context, sequence int64) ([]models.Attachment, error) {
	return s.repo.ListBySequence(ctx, sequence)
}

// Open streams the stored bytes of att, still encoded if it was stored encoded.
func (s *Store) Open(ctx context.Context, att *models.Attachment) (io.ReadCloser, error) {
	filename, err := s.repo.GetFilename(ctx, att.Key())
	if err != nil {
		return nil, &domain.AttachmentError{Name: att.Name, Op: "open", Err: err}
	}
	f, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, &domain.AttachmentError{Name: att.Name, Op: "open", Err: err}
	}
	return f, nil
}

// Discard removes the temp file of a prepared attachment that will not be
// committed.
func (s *Store) Discard(p *models.PreparedAttachment) {
	if p == nil || p.TempPath == "" {
		return
	}
	if err := os.Remove(p.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to discard prepared attachment", "name", p.Name, "path", p.TempPath, "error", err)
	}
}

// PurgeOrphans deletes blobs and filename rows that no attachment row
// references, then removes files in the blob directory the table does not
// know about (left behind by rolled back writes).
func (s *Store) PurgeOrphans(ctx context.Context) error {
	keys, err := s.repo.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list attachment keys: %w", err)
	}
	referenced := make(map[string]bool, len(keys))
	for _, key := range keys {
		referenced[key] = true
	}

	filenames, err := s.repo.ListFilenames(ctx)
	if err != nil {
		return fmt.Errorf("list attachment filenames: %w", err)
	}

	live := make(map[string]bool, len(filenames))
	purged := 0
	for key, filename := range filenames {
		if referenced[key] {
			live[filename] = true
			continue
		}
		if err := removeIfExists(filepath.Join(s.dir, filename)); err != nil {
			return fmt.Errorf("remove blob %s: %w", filename, err)
		}
		if err := s.repo.DeleteFilename(ctx, key); err != nil {
			return fmt.Errorf("forget blob %s: %w", filename, err)
		}
		purged++
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read attachment directory: %w", err)
	}
	stray := 0
	for _, entry := range entries {
		if entry.IsDir() || live[entry.Name()] {
			continue
		}
		if err := removeIfExists(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("remove stray blob %s: %w", entry.Name(), err)
		}
		stray++
	}

	s.logger.Info("purged attachment blobs", "orphans", purged, "stray", stray)
	return nil
}

// filenameForKey returns the blob filename of a digest, allocating a new
// random one when the digest is unknown. known reports whether the
// filename already existed.
func (s *Store) filenameForKey(ctx context.Context, key string) (filename string, known bool, err error) {
	filename, err = s.repo.GetFilename(ctx, key)
	if err == nil {
		return filename, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", false, err
	}

	buf := make([]byte, filenameBytes)
	for attempt := 1; attempt <= MaxFilenameAttempts; attempt++ {
		if _, err := io.ReadFull(s.random, buf); err != nil {
			return "", false, fmt.Errorf("read random filename: %w", err)
		}
		candidate := hex.EncodeToString(buf)

		err := s.repo.InsertFilename(ctx, key, candidate)
		if err == nil {
			return candidate, false, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return "", false, err
		}
		s.logger.Debug("attachment filename taken", "key", key, "attempt", attempt)
	}
	return "", false, fmt.Errorf("no free filename for %s after %d attempts: %w", key, MaxFilenameAttempts, domain.ErrExhaustedRetries)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
