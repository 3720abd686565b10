package docstore

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding describes how attachment bytes are stored on disk.
type Encoding int

const (
	EncodingPlain Encoding = iota
	EncodingGzip
)

func (e Encoding) String() string {
	if e == EncodingGzip {
		return "gzip"
	}
	return "plain"
}

// ParseEncoding accepts "", "plain", "identity" and "gzip".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "plain", "identity":
		return EncodingPlain, nil
	case "gzip":
		return EncodingGzip, nil
	}
	return EncodingPlain, fmt.Errorf("unknown attachment encoding %q", s)
}

// Attachment is the metadata row linking a revision to a blob.
// Rows are identified by (Sequence, Name); the blob by Digest.
type Attachment struct {
	Sequence      int64    `json:"seq"`
	Name          string   `json:"name"`
	Digest        []byte   `json:"digest"` // SHA-1 of the stored bytes
	ContentType   string   `json:"content_type"`
	Encoding      Encoding `json:"encoding"`
	Length        int64    `json:"length"`
	EncodedLength int64    `json:"encoded_length"`
	RevPos        int      `json:"revpos"`
}

// Key is the hex form of the digest used by the blob filename table.
func (a *Attachment) Key() string {
	return hex.EncodeToString(a.Digest)
}

// DigestString renders the digest the way CouchDB does: "sha1-<base64>".
func (a *Attachment) DigestString() string {
	return FormatDigest(a.Digest)
}

// FormatDigest renders a raw SHA-1 digest as "sha1-<base64>".
func FormatDigest(digest []byte) string {
	return "sha1-" + base64.StdEncoding.EncodeToString(digest)
}

// ParseDigest is the inverse of FormatDigest.
func ParseDigest(s string) ([]byte, error) {
	raw, ok := strings.CutPrefix(s, "sha1-")
	if !ok {
		return nil, fmt.Errorf("unsupported digest %q", s)
	}
	return base64.StdEncoding.DecodeString(raw)
}

// AttachmentInput is what a caller supplies for one attachment of a new
// revision. The set of implementations is closed:
//
//   - *UnsavedAttachment: raw bytes from a local write
//   - *SavedAttachment: an attachment already stored on some revision
//   - *PreparedAttachment: bytes already staged in the blob store's temp area
//   - *StubAttachment: inherit from the nearest ancestor (replication only)
type AttachmentInput interface {
	attachmentInput()
}

// UnsavedAttachment carries bytes that still have to be hashed and stored.
type UnsavedAttachment struct {
	ContentType string
	Encoding    Encoding
	Length      int64 // decoded length, only needed for encoded data
	Data        []byte
}

// SavedAttachment references an existing row; committing it copies metadata only.
type SavedAttachment struct {
	Attachment
}

// PreparedAttachment is a blob staged to temporary storage, hashed and measured.
type PreparedAttachment struct {
	Name          string
	ContentType   string
	Encoding      Encoding
	Digest        []byte
	Length        int64
	EncodedLength int64
	RevPos        int // 0 means the generation of the revision it is committed to
	TempPath      string
}

// Key is the hex form of the digest.
func (p *PreparedAttachment) Key() string {
	return hex.EncodeToString(p.Digest)
}

// StubAttachment marks an attachment the sender believes we already hold.
type StubAttachment struct {
	Digest []byte
	RevPos int
}

func (*UnsavedAttachment) attachmentInput()  {}
func (*SavedAttachment) attachmentInput()    {}
func (*PreparedAttachment) attachmentInput() {}
func (*StubAttachment) attachmentInput()     {}
