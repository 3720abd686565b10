package handler

import (
	"net/http"

	"docstore/internal/couch"
	"docstore/internal/httputil"
)

type bulkDocsRequest struct {
	Docs     []couch.Document `json:"docs"`
	NewEdits *bool            `json:"new_edits,omitempty"`
}

// BulkDocs writes many documents. Each document succeeds or fails on its
// own. With new_edits=false revisions are grafted as replicated and only
// failures are reported, as CouchDB does.
// POST /{db}/_bulk_docs
func (h *DatabaseHandler) BulkDocs(w http.ResponseWriter, r *http.Request) {
	var req bulkDocsRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	newEdits := req.NewEdits == nil || *req.NewEdits

	results := make([]couch.BulkResult, 0, len(req.Docs))
	written := 0
	for i := range req.Docs {
		doc := &req.Docs[i]
		if err := r.Context().Err(); err != nil {
			handleError(w, r, h.logger, err)
			return
		}

		if !newEdits {
			if _, err := h.forceInsert(r.Context(), doc); err != nil {
				results = append(results, h.bulkError(r, doc.ID, err))
				continue
			}
			written++
			continue
		}

		result, err := h.write(r.Context(), doc, doc.Rev)
		if err != nil {
			results = append(results, h.bulkError(r, doc.ID, err))
			continue
		}
		written++
		results = append(results, couch.BulkResult{
			ID:  result.Revision.DocID,
			Rev: result.Revision.RevID,
			OK:  true,
		})
	}

	h.logger.Debug("bulk docs",
		"docs", len(req.Docs),
		"written", written,
		"new_edits", newEdits,
	)
	httputil.RespondJSON(w, http.StatusCreated, results)
}

func (h *DatabaseHandler) bulkError(r *http.Request, docID string, err error) couch.BulkResult {
	status, name := errorStatus(err)
	reason := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("bulk docs write failed",
			"doc_id", docID,
			"path", r.URL.Path,
			"error", err,
		)
	}
	return couch.BulkResult{ID: docID, Error: name, Reason: reason}
}
