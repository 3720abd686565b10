package leveldb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"docstore/internal/domain"
	"docstore/internal/domain/models/docstore"
	docstoreRepo "docstore/internal/domain/repositories/docstore"
)

type attachmentRecord struct {
	Digest        []byte            `json:"digest"`
	ContentType   string            `json:"type"`
	Encoding      docstore.Encoding `json:"encoding"`
	Length        int64             `json:"length"`
	EncodedLength int64             `json:"encoded_length"`
	RevPos        int               `json:"revpos"`
}

// AttachmentRepository implements docstoreRepo.AttachmentRepository
type AttachmentRepository struct {
	db *DB
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *DB) docstoreRepo.AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Insert(ctx context.Context, att *docstore.Attachment) error {
	rec := attachmentRecord{
		Digest:        att.Digest,
		ContentType:   att.ContentType,
		Encoding:      att.Encoding,
		Length:        att.Length,
		EncodedLength: att.EncodedLength,
		RevPos:        att.RevPos,
	}
	value, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}
	if err := getExecutor(ctx, r.db.db).Put(attachmentKey(att.Sequence, att.Name), value, nil); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (r *AttachmentRepository) Copy(ctx context.Context, from, to int64, name string) error {
	ex := getExecutor(ctx, r.db.db)
	value, err := ex.Get(attachmentKey(from, name), nil)
	if err != nil {
		return notFound(err, "attachment", name)
	}
	if err := ex.Put(attachmentKey(to, name), value, nil); err != nil {
		return fmt.Errorf("copy attachment: %w", err)
	}
	return nil
}

func decodeAttachment(seq int64, name string, value []byte) (docstore.Attachment, error) {
	var rec attachmentRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return docstore.Attachment{}, fmt.Errorf("decode attachment %d/%s: %w", seq, name, err)
	}
	return docstore.Attachment{
		Sequence:      seq,
		Name:          name,
		Digest:        rec.Digest,
		ContentType:   rec.ContentType,
		Encoding:      rec.Encoding,
		Length:        rec.Length,
		EncodedLength: rec.EncodedLength,
		RevPos:        rec.RevPos,
	}, nil
}

func (r *AttachmentRepository) ListBySequence(ctx context.Context, sequence int64) ([]docstore.Attachment, error) {
	prefix := attachmentPrefix(sequence)
	iter := getExecutor(ctx, r.db.db).NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var atts []docstore.Attachment
	for iter.Next() {
		att, err := decodeAttachment(sequence, string(iter.Key()[len(prefix):]), iter.Value())
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return atts, nil
}

func (r *AttachmentRepository) Get(ctx context.Context, sequence int64, name string) (*docstore.Attachment, error) {
	value, err := getExecutor(ctx, r.db.db).Get(attachmentKey(sequence, name), nil)
	if err != nil {
		return nil, notFound(err, "attachment", name)
	}
	att, err := decodeAttachment(sequence, name, value)
	if err != nil {
		return nil, err
	}
	return &att, nil
}

func (r *AttachmentRepository) ListKeys(ctx context.Context) ([]string, error) {
	iter := getExecutor(ctx, r.db.db).NewIterator(util.BytesPrefix(prefixAttachment), nil)
	defer iter.Release()

	seen := make(map[string]bool)
	var keys []string
	for iter.Next() {
		var rec attachmentRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		key := hex.EncodeToString(rec.Digest)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list attachment keys: %w", err)
	}
	return keys, nil
}

func (r *AttachmentRepository) DeleteForClearedRevisions(ctx context.Context) (int64, error) {
	ex := getExecutor(ctx, r.db.db)
	revisions := &RevisionRepository{db: r.db}

	iter := ex.NewIterator(util.BytesPrefix(prefixAttachment), nil)
	var doomed [][]byte
	cleared := make(map[int64]bool)
	for iter.Next() {
		key := iter.Key()[len(prefixAttachment):]
		seq, err := decodeInt(key[:8])
		if err != nil {
			iter.Release()
			return 0, err
		}
		isCleared, known := cleared[seq]
		if !known {
			rec, err := revisions.load(ex, seq)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				iter.Release()
				return 0, err
			}
			isCleared = rec == nil || rec.Body == nil
			cleared[seq] = isCleared
		}
		if isCleared {
			doomed = append(doomed, append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("scan attachments: %w", err)
	}

	for _, key := range doomed {
		if err := ex.Delete(key, nil); err != nil {
			return 0, fmt.Errorf("delete attachment: %w", err)
		}
	}
	return int64(len(doomed)), nil
}

func (r *AttachmentRepository) GetFilename(ctx context.Context, key string) (string, error) {
	value, err := getExecutor(ctx, r.db.db).Get(makeKey(prefixKey, []byte(key)), nil)
	if err != nil {
		return "", notFound(err, "attachment key", key)
	}
	return string(value), nil
}

func (r *AttachmentRepository) InsertFilename(ctx context.Context, key, filename string) error {
	ex := getExecutor(ctx, r.db.db)

	for _, k := range [][]byte{makeKey(prefixKey, []byte(key)), makeKey(prefixFilename, []byte(filename))} {
		taken, err := ex.Has(k, nil)
		if err != nil {
			return fmt.Errorf("check attachment filename: %w", err)
		}
		if taken {
			return &domain.ConflictError{Resource: "attachment filename", ID: filename, Message: "already taken"}
		}
	}

	if err := ex.Put(makeKey(prefixKey, []byte(key)), []byte(filename), nil); err != nil {
		return fmt.Errorf("insert attachment filename: %w", err)
	}
	if err := ex.Put(makeKey(prefixFilename, []byte(filename)), []byte(key), nil); err != nil {
		return fmt.Errorf("insert attachment filename: %w", err)
	}
	return nil
}

func (r *AttachmentRepository) ListFilenames(ctx context.Context) (map[string]string, error) {
	iter := getExecutor(ctx, r.db.db).NewIterator(util.BytesPrefix(prefixKey), nil)
	defer iter.Release()

	filenames := make(map[string]string)
	for iter.Next() {
		filenames[string(iter.Key()[len(prefixKey):])] = string(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list attachment filenames: %w", err)
	}
	return filenames, nil
}

func (r *AttachmentRepository) DeleteFilename(ctx context.Context, key string) error {
	ex := getExecutor(ctx, r.db.db)
	filename, err := ex.Get(makeKey(prefixKey, []byte(key)), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete attachment filename: %w", err)
	}
	if err := ex.Delete(makeKey(prefixKey, []byte(key)), nil); err != nil {
		return fmt.Errorf("delete attachment filename: %w", err)
	}
	return ex.Delete(makeKey(prefixFilename, filename), nil)
}
