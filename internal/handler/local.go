package handler

import (
	"net/http"

	"docstore/internal/couch"
	"docstore/internal/httputil"
)

// GetLocal returns a non-replicated document
// GET /{db}/_local/{docid}
func (h *DatabaseHandler) GetLocal(w http.ResponseWriter, r *http.Request) {
	local, err := h.store.GetLocal(r.Context(), r.PathValue("docid"))
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, &couch.Document{
		ID:   local.DocID,
		Rev:  local.RevID,
		Body: local.Body,
	})
}

// PutLocal overwrites a non-replicated document. No base revision is
// required.
// PUT /{db}/_local/{docid}
func (h *DatabaseHandler) PutLocal(w http.ResponseWriter, r *http.Request) {
	var doc couch.Document
	if err := httputil.ParseJSON(w, r, &doc); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	local, err := h.store.PutLocal(r.Context(), r.PathValue("docid"), doc.Body)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, docResult{OK: true, ID: local.DocID, Rev: local.RevID})
}

// DeleteLocal removes a non-replicated document
// DELETE /{db}/_local/{docid}
func (h *DatabaseHandler) DeleteLocal(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docid")
	if err := h.store.DeleteLocal(r.Context(), docID); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"ok": true, "id": "_local/" + docID})
}
