package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"docstore/internal/config"
	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"
	"docstore/internal/domain/models/replication"
)

// Client is a CouchDB database reached over HTTP. It implements
// replication.Remote.
type Client struct {
	db      *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithRateLimit caps outgoing requests per second. Zero or less means
// unlimited.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for the database at dbURL, e.g.
// http://host:5984/mydb.
func NewClient(dbURL string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.NewValidationError("remote", "unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path == "" {
		return nil, domain.NewValidationError("remote", "url must name a database")
	}

	c := &Client{
		db:      u,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Identifier is the database URL without credentials.
func (c *Client) Identifier() string {
	return c.db.Redacted()
}

type changesResponse struct {
	Results []struct {
		Seq     json.RawMessage `json:"seq"`
		ID      string          `json:"id"`
		Deleted bool            `json:"deleted"`
		Changes []struct {
			Rev string `json:"rev"`
		} `json:"changes"`
	} `json:"results"`
	LastSeq json.RawMessage `json:"last_seq"`
}

func (c *Client) Changes(ctx context.Context, since string, limit int) (*replication.ChangesFeed, error) {
	q := url.Values{"style": {"all_docs"}}
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp changesResponse
	if err := c.do(ctx, http.MethodGet, "_changes", q, nil, &resp); err != nil {
		return nil, err
	}

	feed := &replication.ChangesFeed{
		Results: make([]replication.ChangeRow, 0, len(resp.Results)),
		LastSeq: sequenceString(resp.LastSeq),
	}
	for _, r := range resp.Results {
		row := replication.ChangeRow{
			Seq:     sequenceString(r.Seq),
			DocID:   r.ID,
			Deleted: r.Deleted,
			Revs:    make([]string, 0, len(r.Changes)),
		}
		for _, ch := range r.Changes {
			row.Revs = append(row.Revs, ch.Rev)
		}
		feed.Results = append(feed.Results, row)
	}
	return feed, nil
}

func (c *Client) RevsDiff(ctx context.Context, revs map[string][]string) (map[string]models.RevsDiffEntry, error) {
	var resp map[string]models.RevsDiffEntry
	if err := c.do(ctx, http.MethodPost, "_revs_diff", nil, revs, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type openRevsEntry struct {
	OK      *Document `json:"ok,omitempty"`
	Missing string    `json:"missing,omitempty"`
}

func (c *Client) GetRevisions(ctx context.Context, docID string, revIDs []string, attsSince []string) ([]replication.RemoteRevision, error) {
	openRevs, err := json.Marshal(revIDs)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"revs":        {"true"},
		"attachments": {"true"},
		"open_revs":   {string(openRevs)},
	}
	if len(attsSince) > 0 {
		since, err := json.Marshal(attsSince)
		if err != nil {
			return nil, err
		}
		q.Set("atts_since", string(since))
	}

	var entries []openRevsEntry
	if err := c.do(ctx, http.MethodGet, docPath(docID), q, nil, &entries); err != nil {
		return nil, err
	}

	out := make([]replication.RemoteRevision, 0, len(entries))
	for _, e := range entries {
		if e.OK == nil {
			c.logger.Warn("remote revision missing", "doc_id", docID, "rev", e.Missing)
			continue
		}
		rr, err := e.OK.ToRemote()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", docID, err)
		}
		out = append(out, *rr)
	}
	return out, nil
}

type bulkDocsRequest struct {
	Docs     []*Document `json:"docs"`
	NewEdits bool        `json:"new_edits"`
}

// BulkResult is one row of a _bulk_docs response.
type BulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (c *Client) BulkDocs(ctx context.Context, revs []replication.RemoteRevision) error {
	req := bulkDocsRequest{Docs: make([]*Document, len(revs))}
	for i := range revs {
		req.Docs[i] = FromRemote(&revs[i])
	}

	var results []BulkResult
	if err := c.do(ctx, http.MethodPost, "_bulk_docs", nil, req, &results); err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if r.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s: %s", r.ID, r.Error, r.Reason))
		}
	}
	return errors.Join(errs...)
}

// do sends one request below the database path and decodes the JSON
// response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// path arrives escaped
	u := *c.db
	u.RawPath = c.db.EscapedPath() + "/" + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return err
	}
	u.Path = unescaped
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// couchError is the {"error","reason"} body CouchDB returns on failure.
type couchError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func decodeError(resp *http.Response) error {
	var ce couchError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &ce); err != nil || ce.Error == "" {
		ce.Error = http.StatusText(resp.StatusCode)
		ce.Reason = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &domain.NotFoundError{Resource: "remote", ID: ce.Reason}
	case http.StatusConflict:
		return &domain.ConflictError{Resource: "remote", ID: resp.Request.URL.Path, Message: ce.Reason}
	case http.StatusBadRequest:
		return &domain.ValidationError{Field: ce.Error, Message: ce.Reason}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.UnauthorizedError{Message: ce.Reason}
	}
	return fmt.Errorf("remote returned %d %s: %s", resp.StatusCode, ce.Error, ce.Reason)
}

// sequenceString accepts numeric and string sequences.
func sequenceString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// docPath escapes a document id for use as a path segment. Design
// documents keep their slash.
func docPath(docID string) string {
	if rest, ok := strings.CutPrefix(docID, "_design/"); ok {
		return "_design/" + url.PathEscape(rest)
	}
	return url.PathEscape(docID)
}

// NewJobClient builds the client of a configured replication job.
func NewJobClient(job config.ReplicationJob, logger *slog.Logger) (*Client, error) {
	return NewClient(job.Remote, logger.With("job", job.Name),
		WithToken(job.Token),
		WithRateLimit(job.RequestsPerSecond),
	)
}
