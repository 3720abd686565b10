package replication

import (
	"encoding/json"
	"time"
)

// Direction is the way documents flow relative to the local store.
type Direction string

const (
	Pull Direction = "pull"
	Push Direction = "push"
)

// ChangeRow is one entry of a peer's changes feed. Sequences are opaque
// strings because peers encode them differently.
type ChangeRow struct {
	Seq     string   `json:"seq"`
	DocID   string   `json:"id"`
	Revs    []string `json:"revs"`
	Deleted bool     `json:"deleted,omitempty"`
}

// ChangesFeed is a page of a peer's changes feed.
type ChangesFeed struct {
	Results []ChangeRow `json:"results"`
	LastSeq string      `json:"last_seq"`
}

// RemoteRevision is a revision with its ancestry as exchanged between peers.
type RemoteRevision struct {
	DocID       string                      `json:"id"`
	RevID       string                      `json:"rev"`
	Deleted     bool                        `json:"deleted,omitempty"`
	Body        json.RawMessage             `json:"body"`
	History     []string                    `json:"history"` // ascending, last element is RevID
	Attachments map[string]RemoteAttachment `json:"attachments,omitempty"`
}

// RemoteAttachment is attachment metadata plus inline data unless Stub is set.
type RemoteAttachment struct {
	ContentType string `json:"content_type"`
	Digest      string `json:"digest,omitempty"`
	Length      int64  `json:"length"`
	RevPos      int    `json:"revpos"`
	Encoding    string `json:"encoding,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Checkpoint is the last fully committed sequence of a replication.
type Checkpoint struct {
	ReplicationID string    `json:"replication_id"`
	LastSeq       string    `json:"last_seq"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Result summarizes one replication run.
type Result struct {
	ReplicationID string    `json:"replication_id"`
	SessionID     string    `json:"session_id"`
	Direction     Direction `json:"direction"`
	Batches       int       `json:"batches"`
	DocsWritten   int       `json:"docs_written"`
	LastSeq       string    `json:"last_seq"`
	Cancelled     bool      `json:"cancelled"`
}
