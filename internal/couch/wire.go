// Package couch speaks the CouchDB replication protocol: the JSON document
// codec shared by the HTTP handlers and the HTTP client peer.
package couch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	"docstore/internal/domain/models/replication"
)

// Revisions is the _revisions member: the generation of the newest
// revision and the hash suffixes of its ancestry, newest first.
type Revisions struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

// Attachment is one _attachments entry. Data is base64 on the wire.
type Attachment struct {
	ContentType   string `json:"content_type,omitempty"`
	Digest        string `json:"digest,omitempty"`
	Length        int64  `json:"length,omitempty"`
	EncodedLength int64  `json:"encoded_length,omitempty"`
	Encoding      string `json:"encoding,omitempty"`
	RevPos        int    `json:"revpos,omitempty"`
	Stub          bool   `json:"stub,omitempty"`
	Data          []byte `json:"data,omitempty"`
}

// Document is a CouchDB document: reserved underscore members plus the
// user body merged into the same object.
type Document struct {
	ID          string
	Rev         string
	Deleted     bool
	Revisions   *Revisions
	Attachments map[string]Attachment
	Conflicts   []string
	Body        json.RawMessage
}

// members the server computes; accepted on input and dropped
var readOnlyMembers = map[string]bool{
	"_conflicts":         true,
	"_deleted_conflicts": true,
	"_revs_info":         true,
	"_local_seq":         true,
}

func (d Document) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, &fields); err != nil {
			return nil, fmt.Errorf("document body: %w", err)
		}
	}

	set := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := set("_id", d.ID); err != nil {
		return nil, err
	}
	if d.Rev != "" {
		if err := set("_rev", d.Rev); err != nil {
			return nil, err
		}
	}
	if d.Deleted {
		if err := set("_deleted", true); err != nil {
			return nil, err
		}
	}
	if d.Revisions != nil {
		if err := set("_revisions", d.Revisions); err != nil {
			return nil, err
		}
	}
	if len(d.Attachments) > 0 {
		if err := set("_attachments", d.Attachments); err != nil {
			return nil, err
		}
	}
	if len(d.Conflicts) > 0 {
		if err := set("_conflicts", d.Conflicts); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return domain.NewValidationError("document", "must be a JSON object")
	}

	*d = Document{}
	body := make(map[string]json.RawMessage, len(fields))
	for key, raw := range fields {
		var err error
		switch key {
		case "_id":
			err = json.Unmarshal(raw, &d.ID)
		case "_rev":
			err = json.Unmarshal(raw, &d.Rev)
		case "_deleted":
			err = json.Unmarshal(raw, &d.Deleted)
		case "_revisions":
			err = json.Unmarshal(raw, &d.Revisions)
		case "_attachments":
			err = json.Unmarshal(raw, &d.Attachments)
		default:
			if readOnlyMembers[key] {
				continue
			}
			if strings.HasPrefix(key, "_") {
				return domain.NewValidationError(key, "bad special document member")
			}
			body[key] = raw
		}
		if err != nil {
			return domain.NewValidationError(key, "%v", err)
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	d.Body = encoded
	return nil
}

// History expands _revisions into ascending revision ids ending with Rev.
// Without _revisions the history is Rev alone.
func (d *Document) History() ([]string, error) {
	if d.Revisions == nil || len(d.Revisions.IDs) == 0 {
		if d.Rev == "" {
			return nil, nil
		}
		return []string{d.Rev}, nil
	}

	n := len(d.Revisions.IDs)
	if d.Revisions.Start < n {
		return nil, domain.NewValidationError("_revisions", "start %d is shorter than %d ids", d.Revisions.Start, n)
	}
	history := make([]string, n)
	for i, hash := range d.Revisions.IDs {
		history[n-1-i] = models.FormatRevID(d.Revisions.Start-i, hash)
	}
	if d.Rev != "" && history[n-1] != d.Rev {
		return nil, domain.NewValidationError("_revisions", "does not end with _rev %s", d.Rev)
	}
	return history, nil
}

// NewRevisions builds _revisions from an ascending history.
func NewRevisions(history []string) *Revisions {
	if len(history) == 0 {
		return nil
	}
	revs := &Revisions{
		Start: models.Generation(history[len(history)-1]),
		IDs:   make([]string, len(history)),
	}
	for i, revID := range history {
		revs.IDs[len(history)-1-i] = models.RevisionHash(revID)
	}
	return revs
}

// FromRemote renders a peer revision. History goes to _revisions.
func FromRemote(rr *replication.RemoteRevision) *Document {
	doc := &Document{
		ID:        rr.DocID,
		Rev:       rr.RevID,
		Deleted:   rr.Deleted,
		Revisions: NewRevisions(rr.History),
		Body:      rr.Body,
	}
	if len(rr.Attachments) > 0 {
		doc.Attachments = make(map[string]Attachment, len(rr.Attachments))
		for name, ra := range rr.Attachments {
			doc.Attachments[name] = Attachment{
				ContentType: ra.ContentType,
				Digest:      ra.Digest,
				Length:      ra.Length,
				Encoding:    ra.Encoding,
				RevPos:      ra.RevPos,
				Stub:        ra.Stub,
				Data:        ra.Data,
			}
		}
	}
	return doc
}

// FromRevision renders a stored revision with every attachment as a stub.
func FromRevision(rev *models.Revision, history []string) *Document {
	doc := &Document{
		ID:        rev.DocID,
		Rev:       rev.RevID,
		Deleted:   rev.Deleted,
		Revisions: NewRevisions(history),
		Body:      rev.Body,
	}
	if len(rev.Attachments) > 0 {
		doc.Attachments = make(map[string]Attachment, len(rev.Attachments))
		for _, att := range rev.Attachments {
			a := Attachment{
				ContentType: att.ContentType,
				Digest:      att.DigestString(),
				Length:      att.Length,
				RevPos:      att.RevPos,
				Stub:        true,
			}
			if att.Encoding != models.EncodingPlain {
				a.Encoding = att.Encoding.String()
				a.EncodedLength = att.EncodedLength
			}
			doc.Attachments[att.Name] = a
		}
	}
	return doc
}

// ToRemote converts a received document into a peer revision.
func (d *Document) ToRemote() (*replication.RemoteRevision, error) {
	if d.Rev == "" {
		return nil, domain.NewValidationError("_rev", "required when replicating")
	}
	history, err := d.History()
	if err != nil {
		return nil, err
	}

	rr := &replication.RemoteRevision{
		DocID:   d.ID,
		RevID:   d.Rev,
		Deleted: d.Deleted,
		Body:    d.Body,
		History: history,
	}
	if len(d.Attachments) > 0 {
		rr.Attachments = make(map[string]replication.RemoteAttachment, len(d.Attachments))
		for name, a := range d.Attachments {
			rr.Attachments[name] = replication.RemoteAttachment{
				ContentType: a.ContentType,
				Digest:      a.Digest,
				Length:      a.Length,
				RevPos:      a.RevPos,
				Encoding:    a.Encoding,
				Stub:        a.Stub,
				Data:        a.Data,
			}
		}
	}
	return rr, nil
}

// ToInputs converts the _attachments of a local write. Stubs keep the
// parent's attachment; entries with data are new.
func (d *Document) ToInputs() (map[string]models.AttachmentInput, error) {
	if len(d.Attachments) == 0 {
		return nil, nil
	}
	inputs := make(map[string]models.AttachmentInput, len(d.Attachments))
	for name, a := range d.Attachments {
		if a.Stub {
			var digest []byte
			if a.Digest != "" {
				parsed, err := models.ParseDigest(a.Digest)
				if err != nil {
					return nil, domain.NewValidationError("_attachments", "%s: %v", name, err)
				}
				digest = parsed
			}
			inputs[name] = &models.StubAttachment{Digest: digest, RevPos: a.RevPos}
			continue
		}
		encoding, err := models.ParseEncoding(a.Encoding)
		if err != nil {
			return nil, domain.NewValidationError("_attachments", "%s: %v", name, err)
		}
		inputs[name] = &models.UnsavedAttachment{
			ContentType: a.ContentType,
			Encoding:    encoding,
			Length:      a.Length,
			Data:        bytes.Clone(a.Data),
		}
	}
	return inputs, nil
}
