// Package rest talks to a hosted backend exposing a PostgREST-style HTTP API:
// one resource per table, filters as query parameters and
// "Prefer: return=representation" to receive written rows.
//
// Creates carry their remote.CreateKey in an Idempotency-Key header and, when
// a ref column is configured, in that column as an upsert target, so a
// repeated create resolves to the row made the first time.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/remote"
	"github.com/stockline/salesync/internal/uuid"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// Client is a remote.Remote over HTTP.
type Client struct {
	baseURL   string
	apiKey    string
	refColumn string
	http      *http.Client
}

var _ remote.Remote = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRefColumn sets the unique column that stores each create's key.
// An empty name sends the key only as a header.
func WithRefColumn(col string) Option {
	return func(cl *Client) { cl.refColumn = col }
}

// New creates a Client for baseURL (for example https://host/rest/v1).
// Per-call deadlines come from the caller's context; timeout only bounds
// calls made without one.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		refColumn: remote.DefaultRefColumn,
		http:      &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, remote.Rejected("failed to encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, remote.Rejected("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out (may be nil).
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return remote.Unavailable(fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	if err := statusError(req, resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return remote.Unavailable("failed to decode response", err)
	}
	return nil
}

// statusError classifies non-2xx responses. Server-side trouble, timeouts
// and throttling are retryable; every other client error is permanent.
func statusError(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return remote.Unavailable("remote unavailable", cause)
	default:
		return remote.Rejected("remote rejected the request", cause)
	}
}

func idFilter(id string) url.Values {
	return url.Values{models.IDField: []string{"eq." + id}}
}

// ReadAll implements remote.Remote.
func (c *Client) ReadAll(ctx context.Context, table models.Table) ([]models.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, string(table), url.Values{"select": []string{"*"}}, nil)
	if err != nil {
		return nil, err
	}
	var rows []models.Record
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.Record{}
	}
	return rows, nil
}

// Write implements remote.Remote.
func (c *Client) Write(ctx context.Context, table models.Table, op models.Operation, payload models.Record) (models.Record, error) {
	var (
		req *http.Request
		err error
	)
	switch op {
	case models.OperationCreate:
		return c.create(ctx, table, payload)
	case models.OperationUpdate:
		body := payload.Clone()
		delete(body, models.IDField)
		req, err = c.newRequest(ctx, http.MethodPatch, string(table), idFilter(payload.ID()), body)
	case models.OperationDelete:
		req, err = c.newRequest(ctx, http.MethodDelete, string(table), idFilter(payload.ID()), nil)
	default:
		return nil, remote.Rejected(fmt.Sprintf("unsupported operation %q", op), nil)
	}
	if err != nil {
		return nil, err
	}

	if op == models.OperationDelete {
		return nil, c.do(req, nil)
	}

	req.Header.Set("Prefer", "return=representation")
	var rows []models.Record
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.Rejected(fmt.Sprintf("%s %s matched no rows", op, table), nil)
	}
	return rows[0], nil
}

// create inserts payload. With a ref column the insert ignores a duplicate
// key, and the existing row is fetched by that key instead.
func (c *Client) create(ctx context.Context, table models.Table, payload models.Record) (models.Record, error) {
	key := remote.CreateKey(payload)
	body := remote.StripTemporaryID(payload, uuid.IsTemp)
	var query url.Values
	prefer := "return=representation"
	upsert := c.refColumn != "" && key != ""
	if upsert {
		body = body.Clone()
		body[c.refColumn] = key
		query = url.Values{"on_conflict": []string{c.refColumn}}
		prefer += ",resolution=ignore-duplicates"
	}

	req, err := c.newRequest(ctx, http.MethodPost, string(table), query, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", prefer)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	var rows []models.Record
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	if !upsert {
		return nil, remote.Rejected(fmt.Sprintf("create %s returned no rows", table), nil)
	}

	req, err = c.newRequest(ctx, http.MethodGet, string(table), url.Values{
		"select":    []string{"*"},
		c.refColumn: []string{"eq." + key},
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.Rejected(fmt.Sprintf("create %s: no row for %s %s", table, c.refColumn, key), nil)
	}
	return rows[0], nil
}

// CheckReachable implements remote.Remote. Any answer below 500 counts as
// reachable, including auth failures.
func (c *Client) CheckReachable(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodHead, "", nil, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
