// Package ping delivers short-lived directed notifications between
// participants through the shared record store.
package ping

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/workaholi/focusroom/internal/record"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DisplayWindow is how long after creation a ping is still worth showing.
	DisplayWindow = 3 * time.Second
	// Retention is the age past which any poll deletes a ping.
	Retention = 10 * time.Second
)

// Glyphs are the selectable ping payloads.
var Glyphs = []string{"🔥", "👀", "⚡", "☕", "🚫", "👏", "💤", "🚨"}

var ErrInvalidPing = errors.New("invalid ping")

// Event is one ping from a sender to a recipient.
type Event struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	Emoji      string    `json:"emoji"`
	Timestamp  time.Time `json:"timestamp"`
}

// Channel sends and polls pings.
type Channel struct {
	store     record.Store
	now       func() time.Time
	newID     func() string
	window    time.Duration
	retention time.Duration

	sent    metric.Int64Counter
	expired metric.Int64Counter
}

type Option func(*Channel)

func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

func WithIDs(newID func() string) Option {
	return func(c *Channel) { c.newID = newID }
}

// WithWindows overrides the display window and retention.
func WithWindows(display, retention time.Duration) Option {
	return func(c *Channel) {
		c.window = display
		c.retention = retention
	}
}

func NewChannel(store record.Store, opts ...Option) *Channel {
	meter := otel.Meter("focusroom/ping")
	sent, _ := meter.Int64Counter("pings_sent_total",
		metric.WithDescription("Total pings sent"))
	expired, _ := meter.Int64Counter("pings_expired_total",
		metric.WithDescription("Total expired pings garbage collected"))

	c := &Channel{
		store:     store,
		now:       time.Now,
		newID:     record.NewID,
		window:    DisplayWindow,
		retention: Retention,
		sent:      sent,
		expired:   expired,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send stores a new ping. It is never retried; a failure is returned to
// the sender only.
func (c *Channel) Send(ctx context.Context, fromID, toID, glyph string) (*Event, error) {
	if fromID == "" || toID == "" || glyph == "" || fromID == toID {
		return nil, ErrInvalidPing
	}
	ev := &Event{
		ID:         c.newID(),
		FromUserID: fromID,
		ToUserID:   toID,
		Emoji:      glyph,
		Timestamp:  c.now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, &record.WriteError{Op: "send ping", Err: err}
	}
	if _, err := c.store.Insert(ctx, record.Record{ID: ev.ID, Type: record.TypePing, Payload: payload}); err != nil {
		return nil, &record.WriteError{Op: "send ping", Err: err}
	}
	c.sent.Add(ctx, 1)
	return ev, nil
}

// PollInbound returns the recipient's pings younger than the display
// window, oldest first. As a side effect it deletes every ping older than
// the retention, whoever it was addressed to. Store errors yield an empty
// result.
func (c *Channel) PollInbound(ctx context.Context, recipientID string) []*Event {
	recs, err := c.store.Select(ctx, record.Filter{Type: record.TypePing})
	if err != nil {
		log.Printf("[ping] poll: %v", &record.ReadError{Op: "poll pings", Err: err})
		return nil
	}

	now := c.now()
	var inbound []*Event
	var expired []string
	for _, rec := range recs {
		var ev Event
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			log.Printf("[ping] dropping undecodable ping %s: %v", rec.ID, err)
			expired = append(expired, rec.ID)
			continue
		}
		age := now.Sub(ev.Timestamp)
		if age > c.retention {
			expired = append(expired, rec.ID)
			continue
		}
		if ev.ToUserID == recipientID && age < c.window {
			inbound = append(inbound, &ev)
		}
	}

	if len(expired) > 0 {
		n, err := c.store.Delete(ctx, record.Filter{Type: record.TypePing, IDs: expired})
		if err != nil {
			log.Printf("[ping] cleanup of %d expired pings failed: %v", len(expired), err)
		} else {
			c.expired.Add(ctx, int64(n))
		}
	}

	sort.Slice(inbound, func(i, j int) bool {
		return inbound[i].Timestamp.Before(inbound[j].Timestamp)
	})
	return inbound
}
