package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/workaholi/focusroom/internal/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// changeKey is the coalescing key of pending notifications.
type changeKey struct {
	t         record.Type
	sessionID string
}

// Broadcaster fans store change notifications out to websocket clients.
// Notifications arriving within one throttle window are coalesced per
// record type and session.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	throttle   time.Duration
	counts     func() map[record.Type]int
	stop       chan struct{}
	stopOnce   sync.Once
	flushMu    sync.Mutex
	pending    map[changeKey]bool
	order      []changeKey
	flushTimer *time.Timer

	sent      metric.Int64Counter
	connected metric.Int64UpDownCounter
}

// NewBroadcaster starts the snapshot loop. counts supplies the snapshot
// payload; maxConns of zero means unlimited.
func NewBroadcaster(counts func() map[record.Type]int, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	meter := otel.Meter("focusroom/ws")
	sent, _ := meter.Int64Counter("ws_messages_sent_total",
		metric.WithDescription("Total websocket messages queued to clients"))
	connected, _ := meter.Int64UpDownCounter("ws_clients",
		metric.WithDescription("Connected websocket clients"))

	if counts == nil {
		counts = func() map[record.Type]int { return map[record.Type]int{} }
	}
	b := &Broadcaster{
		clients:   make(map[*client]bool),
		maxConns:  maxConns,
		throttle:  throttle,
		counts:    counts,
		stop:      make(chan struct{}),
		pending:   make(map[changeKey]bool),
		sent:      sent,
		connected: connected,
	}
	go b.snapshotLoop(snapshotInterval)
	return b
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := &client{conn: conn, b: b, send: make(chan []byte, 64)}
	b.clients[c] = true
	b.mu.Unlock()

	b.connected.Add(context.Background(), 1)
	go c.writePump()

	if data, err := json.Marshal(b.snapshot()); err == nil {
		b.deliver(c, data)
	}
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		b.connected.Add(context.Background(), -1)
	}
	b.mu.Unlock()
}

// Notify queues a change for the next flush. It never blocks on clients.
func (b *Broadcaster) Notify(ch record.Change) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	k := changeKey{t: ch.Type, sessionID: ch.SessionID}
	if !b.pending[k] {
		b.pending[k] = true
		b.order = append(b.order, k)
	}
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	order := b.order
	b.order = nil
	b.pending = make(map[changeKey]bool)
	b.flushTimer = nil
	b.flushMu.Unlock()

	for _, k := range order {
		b.broadcast(WSMessage{
			Type:    MsgChanged,
			Payload: ChangedPayload{RecordType: k.t, SessionID: k.sessionID},
		})
	}
}

func (b *Broadcaster) snapshot() WSMessage {
	return WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{Counts: b.counts()}}
}

func (b *Broadcaster) snapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if b.ClientCount() > 0 {
				b.broadcast(b.snapshot())
			}
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.deliver(c, data)
	}
	b.sent.Add(context.Background(), int64(len(clients)))
}

func (b *Broadcaster) deliver(c *client, data []byte) {
	// The client may be removed concurrently, closing send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		go func() {
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}()
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
