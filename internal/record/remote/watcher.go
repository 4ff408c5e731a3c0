package remote

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/workaholi/focusroom/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WatchURL derives the websocket endpoint from a server base URL.
func WatchURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Watcher follows focusd's change notifications, reconnecting with
// exponential backoff. Notifications are hints only; callers still poll.
type Watcher struct {
	url       string
	token     string
	baseDelay time.Duration
	maxDelay  time.Duration
	dialer    *websocket.Dialer
}

func NewWatcher(url, token string) *Watcher {
	return &Watcher{
		url:       url,
		token:     token,
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
		dialer:    websocket.DefaultDialer,
	}
}

// Run calls onChange for every change notification until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onChange func(ws.ChangedPayload)) {
	delay := w.baseDelay
	for {
		if ctx.Err() != nil {
			return
		}

		header := http.Header{}
		if w.token != "" {
			header.Set("Authorization", "Bearer "+w.token)
		}
		conn, _, err := w.dialer.DialContext(ctx, w.url, header)
		if err != nil {
			log.Printf("ws dial error: %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, w.maxDelay)
			continue
		}
		delay = w.baseDelay

		err = w.read(ctx, conn, onChange)
		if ctx.Err() == nil {
			log.Printf("ws disconnected: %v", err)
		}
	}
}

func (w *Watcher) read(ctx context.Context, conn *websocket.Conn, onChange func(ws.ChangedPayload)) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				// Unblocks ReadMessage.
				conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var msg struct {
			Type    ws.MessageType  `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != ws.MsgChanged {
			continue
		}
		var p ws.ChangedPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			onChange(p)
		}
	}
}
