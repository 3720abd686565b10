package docstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Revision is one immutable version of a document as stored.
// Only Current and (after compaction) Body change after insert.
type Revision struct {
	DocID        string          `json:"id"`
	DocNumericID int64           `json:"-"`
	RevID        string          `json:"rev"`
	Sequence     int64           `json:"seq"`
	Parent       int64           `json:"parent,omitempty"` // 0 for a tree root
	Current      bool            `json:"current"`
	Deleted      bool            `json:"deleted"`
	Available    bool            `json:"available"`
	Body         json.RawMessage `json:"body,omitempty"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
}

// Generation returns the numeric prefix of the revision id.
func (r *Revision) Generation() int {
	return Generation(r.RevID)
}

// IsRoot reports whether the revision has no parent.
func (r *Revision) IsRoot() bool {
	return r.Parent == 0
}

// Attachment returns the named attachment, or nil.
func (r *Revision) Attachment(name string) *Attachment {
	for i := range r.Attachments {
		if r.Attachments[i].Name == name {
			return &r.Attachments[i]
		}
	}
	return nil
}

// EmptyBody is stored for tombstones and replication stubs.
var EmptyBody = json.RawMessage(`{}`)

// ParseRevID splits "<generation>-<hash>" into its parts.
func ParseRevID(revID string) (int, string, error) {
	prefix, suffix, ok := strings.Cut(revID, "-")
	if !ok || suffix == "" {
		return 0, "", fmt.Errorf("revision id %q: missing generation separator", revID)
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil || gen < 1 {
		return 0, "", fmt.Errorf("revision id %q: generation must be a positive integer", revID)
	}
	return gen, suffix, nil
}

// Generation returns the generation of revID, or 0 if it is malformed.
func Generation(revID string) int {
	gen, _, err := ParseRevID(revID)
	if err != nil {
		return 0
	}
	return gen
}

// RevisionHash returns the part after the generation separator.
func RevisionHash(revID string) string {
	_, suffix, _ := strings.Cut(revID, "-")
	return suffix
}

// FormatRevID joins a generation and a hash.
func FormatRevID(gen int, hash string) string {
	return strconv.Itoa(gen) + "-" + hash
}
