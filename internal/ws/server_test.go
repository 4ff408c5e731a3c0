package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/session"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

type apiFixture struct {
	store *record.MemoryStore
	reg   *session.Registry
	b     *Broadcaster
	h     http.Handler
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	store := record.NewMemoryStore()
	reg := session.NewRegistry(store)
	b := NewBroadcaster(nil, time.Hour, time.Hour, 0)
	t.Cleanup(b.Stop)
	return &apiFixture{
		store: store,
		reg:   reg,
		b:     b,
		h:     NewServer(store, reg, b, nil, token).Handler(),
	}
}

func (f *apiFixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) record.Record {
	t.Helper()
	var out record.Record
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return out
}

func TestRecordsInsertSelectUpdateDelete(t *testing.T) {
	f := newAPIFixture(t, "")
	ping := record.Record{ID: "p1", Type: record.TypePing, Payload: json.RawMessage(`{"emoji":"🔥"}`)}

	rec := f.do(t, http.MethodPost, "/api/records", ping)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, want 201", rec.Code)
	}
	inserted := decodeRecord(t, rec)
	if inserted.Version != 1 {
		t.Errorf("inserted version = %d, want 1", inserted.Version)
	}

	if rec := f.do(t, http.MethodPost, "/api/records", ping); rec.Code != http.StatusConflict {
		t.Errorf("duplicate insert status = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/records?type=ping&id=p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d", rec.Code)
	}
	var recs []record.Record
	json.NewDecoder(rec.Body).Decode(&recs)
	if len(recs) != 1 || recs[0].ID != "p1" {
		t.Fatalf("select = %+v", recs)
	}

	stale := inserted
	inserted.Payload = json.RawMessage(`{"emoji":"👀"}`)
	rec = f.do(t, http.MethodPatch, "/api/records", inserted)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200", rec.Code)
	}
	if got := decodeRecord(t, rec); got.Version != 2 {
		t.Errorf("updated version = %d, want 2", got.Version)
	}
	if rec := f.do(t, http.MethodPatch, "/api/records", stale); rec.Code != http.StatusConflict {
		t.Errorf("stale update status = %d, want 409", rec.Code)
	}

	missing := record.Record{ID: "nope", Type: record.TypePing}
	if rec := f.do(t, http.MethodPatch, "/api/records", missing); rec.Code != http.StatusNotFound {
		t.Errorf("missing update status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/records?type=ping", nil)
	var del map[string]int
	json.NewDecoder(rec.Body).Decode(&del)
	if del["deleted"] != 1 {
		t.Errorf("deleted = %d, want 1", del["deleted"])
	}
}

func TestRecordsUpsertAndSessionFilter(t *testing.T) {
	f := newAPIFixture(t, "")
	for _, r := range []record.Record{
		{ID: "a", Type: record.TypeParticipant, SessionID: "s1", Payload: json.RawMessage(`{}`)},
		{ID: "b", Type: record.TypeParticipant, SessionID: "s2", Payload: json.RawMessage(`{}`)},
	} {
		if rec := f.do(t, http.MethodPut, "/api/records", r); rec.Code != http.StatusOK {
			t.Fatalf("upsert status = %d", rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/records?type=participant&sessionId=s2", nil)
	var recs []record.Record
	json.NewDecoder(rec.Body).Decode(&recs)
	if len(recs) != 1 || recs[0].ID != "b" {
		t.Errorf("select by session = %+v", recs)
	}

	rec = f.do(t, http.MethodGet, "/api/records?type=session", nil)
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Errorf("empty select body = %s, want []", body)
	}
}

func TestRecordsBadRequests(t *testing.T) {
	f := newAPIFixture(t, "")

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		want   int
	}{
		{"missing type", http.MethodGet, "/api/records", nil, http.StatusBadRequest},
		{"unknown type", http.MethodDelete, "/api/records?type=user", nil, http.StatusBadRequest},
		{"invalid record", http.MethodPost, "/api/records", record.Record{Type: record.TypePing}, http.StatusBadRequest},
		{"not json", http.MethodPut, "/api/records", "garbage", http.StatusBadRequest},
		{"bad method", http.MethodHead, "/api/records", nil, http.StatusMethodNotAllowed},
		{"bad version", http.MethodDelete, "/api/records?type=session&id=a&version=x", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, tt.method, tt.target, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestParticipantLeave(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	s, err := f.reg.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Join(ctx, s.ID, session.Participant{ID: "abc", Name: "Ada"}); err != nil {
		t.Fatal(err)
	}

	if rec := f.do(t, http.MethodPost, "/api/participants/abc/leave", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("leave status = %d, want 204", rec.Code)
	}
	if f.store.Count(record.TypeParticipant) != 0 {
		t.Error("participant record should be deleted")
	}
	if _, err := f.reg.Get(ctx, s.ID); err != session.ErrSessionNotFound {
		t.Errorf("session should be reclaimed, got %v", err)
	}

	// Leaving again is harmless.
	if rec := f.do(t, http.MethodPost, "/api/participants/abc/leave", nil); rec.Code != http.StatusNoContent {
		t.Errorf("second leave status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/participants/abc/leave", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET leave status = %d, want 405", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/participants/abc/kick", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, "secret")
	f.store.Insert(context.Background(), record.Record{ID: "s1", Type: record.TypeSession, Payload: json.RawMessage(`{}`)})

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200 without token", rec.Code)
	}
	var h HealthResponse
	json.NewDecoder(rec.Body).Decode(&h)
	if h.Status != "ok" || h.Counts[record.TypeSession] != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestAuthorize(t *testing.T) {
	s := NewServer(record.NewMemoryStore(), nil, nil, nil, "secret")

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  bool
	}{
		{"none", func(*http.Request) {}, false},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=secret" }, true},
		{"header", func(r *http.Request) { r.Header.Set(TokenHeader, "secret") }, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, true},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
			tt.setup(req)
			if got := s.authorize(req); got != tt.want {
				t.Errorf("authorize = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordsRequireToken(t *testing.T) {
	f := newAPIFixture(t, "secret")
	if rec := f.do(t, http.MethodGet, "/api/records?type=ping", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/records?type=ping&token=secret", nil); rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rec.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:5173", "example.com", true},
		{"loopback v6", nil, "http://[::1]:8080", "example.com", true},
		{"foreign", nil, "http://evil.test", "example.com", false},
		{"allow listed", []string{"https://app.test"}, "https://app.test", "example.com", true},
		{"allow listed host", []string{"https://app.test"}, "http://app.test", "example.com", true},
		{"not listed", []string{"https://app.test"}, "http://localhost", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(record.NewMemoryStore(), nil, nil, tt.allowed, "")
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
