package handler

import (
	"log/slog"
	"net/http"
	"time"

	models "docstore/internal/domain/models/docstore"
	docstoreSvc "docstore/internal/domain/services/docstore"
	"docstore/internal/httputil"
)

// DatabaseHandler serves one document store under CouchDB style routes.
type DatabaseHandler struct {
	name   string
	store  docstoreSvc.DocumentStore
	logger *slog.Logger
}

// NewDatabaseHandler creates a handler serving store as database name
func NewDatabaseHandler(name string, store docstoreSvc.DocumentStore, logger *slog.Logger) *DatabaseHandler {
	return &DatabaseHandler{
		name:   name,
		store:  store,
		logger: logger,
	}
}

// Register adds the database routes to mux (Go 1.22+ patterns).
func (h *DatabaseHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("GET /{db}", h.db(h.Info))
	mux.HandleFunc("POST /{db}", h.db(h.PostDocument))
	mux.HandleFunc("GET /{db}/_changes", h.db(h.Changes))
	mux.HandleFunc("POST /{db}/_revs_diff", h.db(h.RevsDiff))
	mux.HandleFunc("POST /{db}/_bulk_docs", h.db(h.BulkDocs))
	mux.HandleFunc("POST /{db}/_compact", h.db(h.Compact))
	mux.HandleFunc("GET /{db}/_conflicts", h.db(h.Conflicts))

	// Local documents
	mux.HandleFunc("GET /{db}/_local/{docid}", h.db(h.GetLocal))
	mux.HandleFunc("PUT /{db}/_local/{docid}", h.db(h.PutLocal))
	mux.HandleFunc("DELETE /{db}/_local/{docid}", h.db(h.DeleteLocal))

	// Design documents are stored like any other document
	mux.HandleFunc("GET /{db}/_design/{ddoc}", h.db(h.GetDocument))
	mux.HandleFunc("PUT /{db}/_design/{ddoc}", h.db(h.PutDocument))
	mux.HandleFunc("DELETE /{db}/_design/{ddoc}", h.db(h.DeleteDocument))

	mux.HandleFunc("GET /{db}/{docid}", h.db(h.GetDocument))
	mux.HandleFunc("PUT /{db}/{docid}", h.db(h.PutDocument))
	mux.HandleFunc("DELETE /{db}/{docid}", h.db(h.DeleteDocument))
	mux.HandleFunc("GET /{db}/{docid}/{attname}", h.db(h.GetAttachment))
	mux.HandleFunc("POST /{db}/{docid}/_resolve", h.db(h.ResolveConflicts))
}

// db rejects requests for any database other than the served one.
func (h *DatabaseHandler) db(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("db") != h.name {
			httputil.RespondCouchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		next(w, r)
	}
}

// HealthCheck is a simple health check endpoint
func (h *DatabaseHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now(),
	})
}

type databaseInfo struct {
	DBName    string `json:"db_name"`
	DocCount  int    `json:"doc_count"`
	UpdateSeq int64  `json:"update_seq"`
}

// Info returns document count and update sequence
// GET /{db}
func (h *DatabaseHandler) Info(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.DocumentCount(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	seq, err := h.store.LastSequence(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, databaseInfo{
		DBName:    h.name,
		DocCount:  count,
		UpdateSeq: seq,
	})
}

type changeRev struct {
	Rev string `json:"rev"`
}

type changeRow struct {
	Seq     int64       `json:"seq"`
	ID      string      `json:"id"`
	Changes []changeRev `json:"changes"`
	Deleted bool        `json:"deleted,omitempty"`
}

type changesResponse struct {
	Results []changeRow `json:"results"`
	LastSeq int64       `json:"last_seq"`
}

// Changes lists documents changed after since
// GET /{db}/_changes?since=N&limit=N&style=all_docs|main_only
func (h *DatabaseHandler) Changes(w http.ResponseWriter, r *http.Request) {
	since, err := httputil.QueryInt(r, "since", 0)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	allDocs := r.URL.Query().Get("style") == "all_docs"

	changes, err := h.store.Changes(r.Context(), since, int(limit))
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	resp := changesResponse{Results: make([]changeRow, 0, len(changes.Results)), LastSeq: changes.LastSequence}
	for _, ch := range changes.Results {
		revs := ch.Revs
		if !allDocs && len(revs) > 1 {
			revs = revs[:1]
		}
		row := changeRow{Seq: ch.Sequence, ID: ch.DocID, Deleted: ch.Deleted}
		for _, rev := range revs {
			row.Changes = append(row.Changes, changeRev{Rev: rev})
		}
		resp.Results = append(resp.Results, row)
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// RevsDiff reports which of the offered revisions are missing
// POST /{db}/_revs_diff
func (h *DatabaseHandler) RevsDiff(w http.ResponseWriter, r *http.Request) {
	var req map[string][]string
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	diff, err := h.store.RevsDiff(r.Context(), req)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	if diff == nil {
		diff = map[string]models.RevsDiffEntry{}
	}
	httputil.RespondJSON(w, http.StatusOK, diff)
}

// Compact drops superseded bodies and orphaned blobs
// POST /{db}/_compact
func (h *DatabaseHandler) Compact(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Compact(r.Context()); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.logger.Info("database compacted", "db", h.name)
	httputil.RespondJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// Conflicts lists documents with more than one live leaf
// GET /{db}/_conflicts
func (h *DatabaseHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ConflictedDocumentIDs(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"doc_ids": ids,
		"total":   len(ids),
	})
}
