package leveldb

import (
	"encoding/binary"
	"errors"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"

	"docstore/internal/domain"
)

// Key layout. Integers are big-endian so iteration follows numeric order.
//
//	m:seq                   last assigned sequence
//	m:doc                   last assigned document numeric id
//	d:<docid>               -> numeric id
//	n:<numeric id>          -> docid
//	r:<sequence>            -> revisionRecord
//	t:<numeric id><seq>     -> empty (revisions of a document)
//	a:<sequence><name>      -> attachmentRecord
//	k:<hex digest>          -> blob filename
//	f:<filename>            -> hex digest
//	l:<docid>               -> local document
var (
	keyLastSequence  = []byte("m:seq")
	keyLastDocID     = []byte("m:doc")
	prefixDocID      = []byte("d:")
	prefixDocNumeric = []byte("n:")
	prefixRevision   = []byte("r:")
	prefixDocRevs    = []byte("t:")
	prefixAttachment = []byte("a:")
	prefixKey        = []byte("k:")
	prefixFilename   = []byte("f:")
	prefixLocal      = []byte("l:")
)

func encodeInt(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeInt(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("integer value: expected 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func makeKey(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func revisionKey(seq int64) []byte {
	return makeKey(prefixRevision, encodeInt(seq))
}

func docRevsPrefix(numericID int64) []byte {
	return makeKey(prefixDocRevs, encodeInt(numericID))
}

func attachmentPrefix(seq int64) []byte {
	return makeKey(prefixAttachment, encodeInt(seq))
}

func attachmentKey(seq int64, name string) []byte {
	return makeKey(prefixAttachment, encodeInt(seq), []byte(name))
}

// nextCounter increments the counter stored at key and returns the new value.
func nextCounter(ex executor, key []byte) (int64, error) {
	current, err := readCounter(ex, key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := ex.Put(key, encodeInt(next), nil); err != nil {
		return 0, err
	}
	return next, nil
}

func readCounter(ex executor, key []byte) (int64, error) {
	value, err := ex.Get(key, nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeInt(value)
}

// notFound translates the driver's not-found into the domain error.
func notFound(err error, resource, id string) error {
	if errors.Is(err, goleveldb.ErrNotFound) {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	return err
}
