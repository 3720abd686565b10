package docstore

// EventKind classifies a committed change.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// DocumentEvent describes what a write changed. Operations return these
// instead of notifying observers; dispatching is up to the caller.
type DocumentEvent struct {
	Kind          EventKind `json:"kind"`
	DocID         string    `json:"doc_id"`
	RevID         string    `json:"rev"`
	Sequence      int64     `json:"seq"`
	PreviousRevID string    `json:"previous_rev,omitempty"`
}
