package docstore

import "encoding/json"

// DocumentChange is one document touched after a given sequence.
type DocumentChange struct {
	DocNumericID int64
	Sequence     int64 // highest sequence of the document in the window
}

// Change is a row of the changes feed.
type Change struct {
	Sequence int64    `json:"seq"`
	DocID    string   `json:"id"`
	Deleted  bool     `json:"deleted,omitempty"`
	Revs     []string `json:"revs"` // leaf revision ids, winner first
}

// Changes is a page of the changes feed.
type Changes struct {
	Results      []Change `json:"results"`
	LastSequence int64    `json:"last_seq"`
}

// RevsDiffEntry lists which of the offered revisions are missing locally.
type RevsDiffEntry struct {
	Missing           []string `json:"missing"`
	PossibleAncestors []string `json:"possible_ancestors,omitempty"`
}

// LocalDocument is a non-replicated document under the _local/ namespace.
type LocalDocument struct {
	DocID string          `json:"_id"`
	RevID string          `json:"_rev"`
	Body  json.RawMessage `json:"body"`
}
