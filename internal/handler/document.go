package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"docstore/internal/couch"
	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
	"docstore/internal/httputil"
	"docstore/internal/replication"
)

type readOptions struct {
	revs        bool
	attachments bool
	conflicts   bool
	attsSince   []string
}

func parseReadOptions(r *http.Request) (readOptions, error) {
	var opts readOptions
	var err error
	if opts.revs, err = httputil.QueryBool(r, "revs"); err != nil {
		return opts, err
	}
	if opts.attachments, err = httputil.QueryBool(r, "attachments"); err != nil {
		return opts, err
	}
	if opts.conflicts, err = httputil.QueryBool(r, "conflicts"); err != nil {
		return opts, err
	}
	if _, err = httputil.QueryJSON(r, "atts_since", &opts.attsSince); err != nil {
		return opts, err
	}
	return opts, nil
}

// GetDocument returns a revision of a document
// GET /{db}/{docid}?rev=&revs=&open_revs=&attachments=&atts_since=&conflicts=
func (h *DatabaseHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := documentID(r)
	opts, err := parseReadOptions(r)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	if r.URL.Query().Has("open_revs") {
		h.getOpenRevs(w, r, docID, opts)
		return
	}

	doc, err := h.render(r.Context(), docID, r.URL.Query().Get("rev"), opts)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	if opts.conflicts {
		revs, err := h.store.Revisions(r.Context(), docID)
		if err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		doc.Conflicts = conflictRevIDs(revs, doc.Rev)
	}

	httputil.RespondJSON(w, http.StatusOK, doc)
}

type openRevsEntry struct {
	OK      *couch.Document `json:"ok,omitempty"`
	Missing string          `json:"missing,omitempty"`
}

// getOpenRevs returns several revisions at once, "all" meaning every leaf.
// Revisions that do not exist are reported as missing.
func (h *DatabaseHandler) getOpenRevs(w http.ResponseWriter, r *http.Request, docID string, opts readOptions) {
	var revIDs []string
	if r.URL.Query().Get("open_revs") == "all" {
		revs, err := h.store.Revisions(r.Context(), docID)
		if err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		revIDs = leafRevIDs(revs)
	} else if _, err := httputil.QueryJSON(r, "open_revs", &revIDs); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	entries := make([]openRevsEntry, 0, len(revIDs))
	for _, revID := range revIDs {
		if revID == "" {
			continue
		}
		doc, err := h.render(r.Context(), docID, revID, opts)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			entries = append(entries, openRevsEntry{Missing: revID})
		case err != nil:
			handleError(w, r, h.logger, err)
			return
		default:
			entries = append(entries, openRevsEntry{OK: doc})
		}
	}
	httputil.RespondJSON(w, http.StatusOK, entries)
}

// render loads one revision in wire form. With attachments the bytes of
// attachments newer than attsSince are inlined; otherwise all are stubs.
func (h *DatabaseHandler) render(ctx context.Context, docID, revID string, opts readOptions) (*couch.Document, error) {
	var doc *couch.Document
	if opts.attachments {
		rr, err := replication.ExportRevision(ctx, h.store, docID, revID, opts.attsSince)
		if err != nil {
			return nil, err
		}
		doc = couch.FromRemote(rr)
	} else {
		rev, history, err := h.store.RevisionHistory(ctx, docID, revID)
		if err != nil {
			return nil, err
		}
		doc = couch.FromRevision(rev, history)
	}
	if !opts.revs {
		doc.Revisions = nil
	}
	return doc, nil
}

// PutDocument creates or updates a document. With new_edits=false the
// revision and its _revisions history are grafted as given.
// PUT /{db}/{docid}
func (h *DatabaseHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	var doc couch.Document
	if err := httputil.ParseJSON(w, r, &doc); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	docID := documentID(r)
	if doc.ID != "" && doc.ID != docID {
		handleError(w, r, h.logger, domain.NewValidationError("_id", "%q does not match the url", doc.ID))
		return
	}
	doc.ID = docID

	if r.URL.Query().Get("new_edits") == "false" {
		result, err := h.forceInsert(r.Context(), &doc)
		if err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		httputil.RespondJSON(w, http.StatusCreated, docResult{OK: true, ID: result.DocID, Rev: result.RevID})
		return
	}

	baseRev := doc.Rev
	if baseRev == "" {
		baseRev = requestRev(r)
	}
	result, err := h.write(r.Context(), &doc, baseRev)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, docResult{OK: true, ID: result.Revision.DocID, Rev: result.Revision.RevID})
}

// PostDocument creates a document, generating its id when _id is absent
// POST /{db}
func (h *DatabaseHandler) PostDocument(w http.ResponseWriter, r *http.Request) {
	var doc couch.Document
	if err := httputil.ParseJSON(w, r, &doc); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	result, err := h.write(r.Context(), &doc, doc.Rev)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, docResult{OK: true, ID: result.Revision.DocID, Rev: result.Revision.RevID})
}

// DeleteDocument tombstones a leaf
// DELETE /{db}/{docid}?rev=
func (h *DatabaseHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	rev := requestRev(r)
	if rev == "" {
		handleError(w, r, h.logger, domain.NewValidationError("rev", "required"))
		return
	}

	result, err := h.store.Delete(r.Context(), documentID(r), rev)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.logEvent(&result.Event)
	httputil.RespondJSON(w, http.StatusOK, docResult{OK: true, ID: result.Revision.DocID, Rev: result.Revision.RevID})
}

// GetAttachment streams attachment bytes as stored
// GET /{db}/{docid}/{attname}?rev=
func (h *DatabaseHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	att, rc, err := h.store.OpenAttachment(r.Context(), documentID(r), r.URL.Query().Get("rev"), r.PathValue("attname"))
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	size := att.Length
	if att.Encoding == models.EncodingGzip {
		w.Header().Set("Content-Encoding", "gzip")
		size = att.EncodedLength
	}
	if att.ContentType != "" {
		w.Header().Set("Content-Type", att.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("ETag", strconv.Quote(att.DigestString()))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("attachment stream interrupted",
			"doc_id", documentID(r),
			"name", att.Name,
			"error", err,
		)
	}
}

type resolveRequest struct {
	Rev  string          `json:"rev"`
	Body json.RawMessage `json:"body,omitempty"`
}

type resolveResponse struct {
	OK       bool   `json:"ok"`
	ID       string `json:"id"`
	Resolved bool   `json:"resolved"`
	Rev      string `json:"rev,omitempty"`
}

// ResolveConflicts keeps rev and tombstones every other live leaf. A body
// is written as a new child of rev.
// POST /{db}/{docid}/_resolve
func (h *DatabaseHandler) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	if req.Rev == "" {
		handleError(w, r, h.logger, domain.NewValidationError("rev", "required"))
		return
	}

	docID := documentID(r)
	result, err := h.store.ResolveConflicts(r.Context(), docID, func(_ context.Context, _ string, _ []models.Revision) (*docstoreSvc.Resolution, error) {
		return &docstoreSvc.Resolution{RevID: req.Rev, Body: req.Body}, nil
	})
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	for i := range result.Events {
		h.logEvent(&result.Events[i])
	}

	resp := resolveResponse{OK: true, ID: docID, Resolved: result.Resolved}
	if result.Winner != nil {
		resp.Rev = result.Winner.RevID
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// write applies a local edit: delete, create or update depending on the
// _deleted flag and whether a base revision is given.
func (h *DatabaseHandler) write(ctx context.Context, doc *couch.Document, baseRev string) (*docstoreSvc.MutationResult, error) {
	result, err := h.mutate(ctx, doc, baseRev)
	if err != nil {
		return nil, err
	}
	h.logEvent(&result.Event)
	return result, nil
}

func (h *DatabaseHandler) mutate(ctx context.Context, doc *couch.Document, baseRev string) (*docstoreSvc.MutationResult, error) {
	if doc.Deleted {
		if baseRev == "" {
			return nil, domain.NewValidationError("_rev", "required to delete")
		}
		return h.store.Delete(ctx, doc.ID, baseRev)
	}

	inputs, err := doc.ToInputs()
	if err != nil {
		return nil, err
	}
	if baseRev == "" {
		return h.store.Create(ctx, &docstoreSvc.CreateRequest{
			DocID:       doc.ID,
			Body:        doc.Body,
			Attachments: inputs,
		})
	}

	// _attachments replaces the attachment set; Update reports a bad base
	var remove []string
	if base, err := h.store.Get(ctx, doc.ID, baseRev); err == nil {
		for _, att := range base.Attachments {
			if _, keep := doc.Attachments[att.Name]; !keep {
				remove = append(remove, att.Name)
			}
		}
	}
	return h.store.Update(ctx, &docstoreSvc.UpdateRequest{
		DocID:             doc.ID,
		BaseRevID:         baseRev,
		Body:              doc.Body,
		Attachments:       inputs,
		RemoveAttachments: remove,
	})
}

// forceInsert grafts one replicated revision.
func (h *DatabaseHandler) forceInsert(ctx context.Context, doc *couch.Document) (*docstoreSvc.ForceInsertResult, error) {
	rr, err := doc.ToRemote()
	if err != nil {
		return nil, err
	}
	item, err := replication.ImportRevision(ctx, h.store, rr)
	if err != nil {
		return nil, err
	}
	defer replication.DiscardItem(h.store, item)

	results, err := h.store.ForceInsert(ctx, []docstoreSvc.ForceInsertItem{*item})
	if err != nil {
		return nil, err
	}
	h.logEvent(results[0].Event)
	return &results[0], nil
}

// requestRev returns the base revision from ?rev= or If-Match.
func requestRev(r *http.Request) string {
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	return strings.Trim(r.Header.Get("If-Match"), `"`)
}
