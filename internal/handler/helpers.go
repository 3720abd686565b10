package handler

import (
	"net/http"

	models "docstore/internal/domain/models/docstore"
)

// docResult is the body of a successful single document write.
type docResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// documentID returns the document id addressed by the path. Design
// documents are routed with their prefix split off.
func documentID(r *http.Request) string {
	if ddoc := r.PathValue("ddoc"); ddoc != "" {
		return "_design/" + ddoc
	}
	return r.PathValue("docid")
}

func (h *DatabaseHandler) logEvent(ev *models.DocumentEvent) {
	if ev == nil {
		return
	}
	h.logger.Info("document "+string(ev.Kind),
		"db", h.name,
		"doc_id", ev.DocID,
		"rev", ev.RevID,
		"seq", ev.Sequence,
		"previous_rev", ev.PreviousRevID,
	)
}

// leafRevIDs returns the ids of revisions with no children.
func leafRevIDs(revs []models.Revision) []string {
	parents := make(map[int64]bool, len(revs))
	for _, rev := range revs {
		if rev.Parent != 0 {
			parents[rev.Parent] = true
		}
	}
	var leaves []string
	for _, rev := range revs {
		if !parents[rev.Sequence] {
			leaves = append(leaves, rev.RevID)
		}
	}
	return leaves
}

// conflictRevIDs returns the non-deleted leaves other than winner.
func conflictRevIDs(revs []models.Revision, winner string) []string {
	parents := make(map[int64]bool, len(revs))
	for _, rev := range revs {
		if rev.Parent != 0 {
			parents[rev.Parent] = true
		}
	}
	var conflicts []string
	for _, rev := range revs {
		if parents[rev.Sequence] || rev.Deleted || rev.RevID == winner {
			continue
		}
		conflicts = append(conflicts, rev.RevID)
	}
	return conflicts
}
