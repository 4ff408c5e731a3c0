package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/workaholi/focusroom/internal/record"
)

// TokenHeader carries the auth token when a bearer header is inconvenient.
const TokenHeader = "X-Focus-Token"

// maxBodyBytes caps record request bodies.
const maxBodyBytes = 1 << 20

// Leaver removes a participant from its session.
type Leaver interface {
	Leave(ctx context.Context, participantID string) error
}

type Server struct {
	store          record.Store
	leaver         Leaver
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	started        time.Time
}

func NewServer(store record.Store, leaver Leaver, broadcaster *Broadcaster, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		store:          store,
		leaver:         leaver,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		started:        time.Now(),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/records", s.handleRecords)
	mux.HandleFunc("/api/participants/", s.handleParticipantRoutes)
	mux.HandleFunc("/api/health", s.handleHealth)
}

// Handler returns the routed API wrapped in the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("ws rejecting %s: %v", r.RemoteAddr, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	log.Printf("WebSocket client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps store errors onto status codes the remote client
// maps back.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, record.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, record.ErrExists), errors.Is(err, record.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, record.ErrInvalidRecord), errors.Is(err, record.ErrInvalidFilter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("store error: %v", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	}
}

func filterFromQuery(q url.Values) (record.Filter, error) {
	f := record.Filter{
		Type:      record.Type(q.Get("type")),
		IDs:       q["id"],
		SessionID: q.Get("sessionId"),
	}
	if v := q.Get("version"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, record.ErrInvalidFilter
		}
		f.Version = n
	}
	return f, nil
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		f, err := filterFromQuery(r.URL.Query())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		recs, err := s.store.Select(ctx, f)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if recs == nil {
			recs = []record.Record{}
		}
		writeJSON(w, http.StatusOK, recs)

	case http.MethodDelete:
		f, err := filterFromQuery(r.URL.Query())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		n, err := s.store.Delete(ctx, f)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})

	case http.MethodPost, http.MethodPut, http.MethodPatch:
		var rec record.Record
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
			http.Error(w, "invalid record body", http.StatusBadRequest)
			return
		}
		var (
			out    record.Record
			err    error
			status = http.StatusOK
		)
		switch r.Method {
		case http.MethodPost:
			out, err = s.store.Insert(ctx, rec)
			status = http.StatusCreated
		case http.MethodPut:
			out, err = s.store.Upsert(ctx, rec)
		default:
			out, err = s.store.Update(ctx, rec)
		}
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, status, out)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleParticipantRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/participants/{id}/leave
	path := strings.TrimPrefix(r.URL.Path, "/api/participants/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "leave" || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	participantID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid participant id", http.StatusBadRequest)
		return
	}
	if err := s.leaver.Leave(r.Context(), participantID); err != nil {
		log.Printf("leave %s: %v", participantID, err)
		http.Error(w, "leave failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status  string              `json:"status"`
	Uptime  string              `json:"uptime"`
	Clients int                 `json:"clients"`
	Counts  map[record.Type]int `json:"counts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := Counts(r.Context(), s.store)
	resp := HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Clients: s.broadcaster.ClientCount(),
		Counts:  counts,
	}
	status := http.StatusOK
	if err != nil {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Counts returns the number of stored records of each type.
func Counts(ctx context.Context, store record.Store) (map[record.Type]int, error) {
	counts := make(map[record.Type]int, 3)
	for _, t := range []record.Type{record.TypeSession, record.TypeParticipant, record.TypePing} {
		recs, err := store.Select(ctx, record.Filter{Type: t})
		if err != nil {
			return counts, err
		}
		counts[t] = len(recs)
	}
	return counts, nil
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get(TokenHeader) == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}

	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
