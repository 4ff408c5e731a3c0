// Package remote talks to a focusd server: a record.Store over its HTTP API
// and a watcher for its websocket change notifications.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/ws"
)

// Store is a record.Store backed by focusd's /api/records endpoint.
type Store struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewStore creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewStore(baseURL, token string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusError is a non-success response the store could not map onto a
// record sentinel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

func (s *Store) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	var out record.Record
	err := s.send(ctx, http.MethodPost, "/api/records", rec, &out)
	return out, err
}

func (s *Store) Upsert(ctx context.Context, rec record.Record) (record.Record, error) {
	var out record.Record
	err := s.send(ctx, http.MethodPut, "/api/records", rec, &out)
	return out, err
}

func (s *Store) Update(ctx context.Context, rec record.Record) (record.Record, error) {
	var out record.Record
	err := s.send(ctx, http.MethodPatch, "/api/records", rec, &out)
	return out, err
}

func (s *Store) Delete(ctx context.Context, f record.Filter) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := s.send(ctx, http.MethodDelete, "/api/records?"+filterQuery(f), nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (s *Store) Select(ctx context.Context, f record.Filter) ([]record.Record, error) {
	var out []record.Record
	if err := s.send(ctx, http.MethodGet, "/api/records?"+filterQuery(f), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Leave asks the server to remove the participant from its session. Used on
// shutdown when the local registry may no longer be usable.
func (s *Store) Leave(ctx context.Context, participantID string) error {
	return s.send(ctx, http.MethodPost, "/api/participants/"+url.PathEscape(participantID)+"/leave", nil, nil)
}

// Health fetches /api/health.
func (s *Store) Health(ctx context.Context) (*ws.HealthResponse, error) {
	var out ws.HealthResponse
	if err := s.send(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func filterQuery(f record.Filter) string {
	q := url.Values{}
	q.Set("type", string(f.Type))
	for _, id := range f.IDs {
		q.Add("id", id)
	}
	if f.SessionID != "" {
		q.Set("sessionId", f.SessionID)
	}
	if f.Version != 0 {
		q.Set("version", strconv.FormatUint(f.Version, 10))
	}
	return q.Encode()
}

func (s *Store) send(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.setAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError(method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// statusError maps the server's status codes back onto record sentinels.
func statusError(method, path string, code int, body string) error {
	switch code {
	case http.StatusNotFound:
		if strings.HasPrefix(path, "/api/records") {
			return record.ErrNotFound
		}
	case http.StatusConflict:
		if method == http.MethodPost {
			return record.ErrExists
		}
		return record.ErrConflict
	case http.StatusBadRequest:
		if method == http.MethodGet || method == http.MethodDelete {
			return record.ErrInvalidFilter
		}
		return record.ErrInvalidRecord
	}
	return &StatusError{Method: method, Path: path, Code: code, Body: body}
}

func (s *Store) setAuth(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
