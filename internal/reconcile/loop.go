// Package reconcile runs the client's once-a-second sync with the shared
// store: heartbeat, roster pull, ping delivery and merge.
package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/presence"
	"github.com/workaholi/focusroom/internal/session"
)

const (
	DefaultInterval    = time.Second
	DefaultOverrideTTL = 3 * time.Second
)

// Snapshot is the local participant state read at the start of each tick.
type Snapshot struct {
	Score          float64
	ElapsedSeconds int
	Paused         bool
}

type Registry interface {
	Join(ctx context.Context, sessionID string, p session.Participant) (*session.Session, error)
	Participants(ctx context.Context, sessionID string) ([]session.Participant, error)
	Leave(ctx context.Context, participantID string) error
}

type Heartbeater interface {
	Heartbeat(ctx context.Context, sessionID string, p session.Participant) error
}

type Inbox interface {
	PollInbound(ctx context.Context, recipientID string) []*ping.Event
}

// Effects receives the side effects of a tick. Joined and Left carry every
// id that changed, and fire at most once each per tick.
type Effects interface {
	Ping(ev *ping.Event)
	Joined(ids []string)
	Left(ids []string)
}

// Renderer receives the merged roster and the active override glyphs,
// keyed by participant id.
type Renderer interface {
	Publish(roster []session.Participant, overrides map[string]string)
}

// Config wires a Loop.
type Config struct {
	SessionID string
	// Self carries the identity fields of the local participant; score,
	// elapsed time and status come from Local on every tick.
	Self  session.Participant
	Local func() Snapshot

	Registry  Registry
	Heartbeat Heartbeater
	Inbox     Inbox
	Effects   Effects
	Renderer  Renderer

	Interval    time.Duration
	OverrideTTL time.Duration
	Now         func() time.Time
}

type override struct {
	glyph string
	until time.Time
}

// Loop is the reconciliation loop of one client in one session.
type Loop struct {
	cfg   Config
	dedup *ping.Deduper
	nudge chan struct{}

	tickMu sync.Mutex

	mu        sync.RWMutex
	roster    []session.Participant
	overrides map[string]override
}

func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.OverrideTTL <= 0 {
		cfg.OverrideTTL = DefaultOverrideTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Local == nil {
		cfg.Local = func() Snapshot { return Snapshot{Score: cfg.Self.FocusScore} }
	}
	return &Loop{
		cfg:       cfg,
		dedup:     ping.NewDeduper(ping.Retention, cfg.Now),
		nudge:     make(chan struct{}, 1),
		overrides: make(map[string]override),
	}
}

// Run ticks every interval until ctx is cancelled. A Nudge triggers an
// extra tick.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		case <-l.nudge:
			l.Tick(ctx)
		}
	}
}

// Nudge requests an early tick. Nudges arriving while one is pending are
// coalesced.
func (l *Loop) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

func (l *Loop) self() session.Participant {
	snap := l.cfg.Local()
	p := l.cfg.Self
	p.FocusScore = snap.Score
	p.ElapsedSeconds = snap.ElapsedSeconds
	p.Status = session.ParticipantActive
	if snap.Paused {
		p.Status = session.ParticipantPaused
	}
	return p
}

// Tick runs one reconciliation pass. Concurrent calls are serialized. Every
// step failure is logged and the remaining steps still run.
func (l *Loop) Tick(ctx context.Context) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	me := l.self()

	if err := l.cfg.Heartbeat.Heartbeat(ctx, l.cfg.SessionID, me); err != nil {
		if errors.Is(err, presence.ErrEvicted) {
			log.Printf("[reconcile] %s was evicted, rejoining %s", me.ID, l.cfg.SessionID)
			if _, err := l.cfg.Registry.Join(ctx, l.cfg.SessionID, me); err != nil {
				log.Printf("[reconcile] rejoin failed: %v", err)
			}
		} else {
			log.Printf("[reconcile] heartbeat: %v", err)
		}
	}

	l.mu.RLock()
	remote := l.roster
	l.mu.RUnlock()
	if fetched, err := l.cfg.Registry.Participants(ctx, l.cfg.SessionID); err != nil {
		log.Printf("[reconcile] roster: %v", err)
	} else {
		remote = fetched
	}

	now := l.cfg.Now()
	for _, ev := range l.dedup.Fresh(l.cfg.Inbox.PollInbound(ctx, me.ID)) {
		if l.cfg.Effects != nil {
			l.cfg.Effects.Ping(ev)
		}
		l.mu.Lock()
		l.overrides[ev.FromUserID] = override{glyph: ev.Emoji, until: now.Add(l.cfg.OverrideTTL)}
		l.mu.Unlock()
	}

	merged := make([]session.Participant, len(remote))
	for i, p := range remote {
		if p.ID == me.ID {
			p = me
		}
		merged[i] = p
	}

	l.mu.Lock()
	prev := l.roster
	l.roster = merged
	l.mu.Unlock()

	l.cue(session.DiffRoster(prev, merged))

	if l.cfg.Renderer != nil {
		l.cfg.Renderer.Publish(l.Roster(), l.Overrides())
	}
}

func (l *Loop) cue(events []session.Event) {
	if l.cfg.Effects == nil || len(events) == 0 {
		return
	}
	var joined, left []string
	for _, ev := range events {
		switch ev.Type {
		case session.EventJoined:
			joined = append(joined, ev.ParticipantID)
		case session.EventLeft:
			left = append(left, ev.ParticipantID)
		}
	}
	if len(joined) > 0 {
		l.cfg.Effects.Joined(joined)
	}
	if len(left) > 0 {
		l.cfg.Effects.Left(left)
	}
}

// Roster returns a copy of the last merged roster.
func (l *Loop) Roster() []session.Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]session.Participant, len(l.roster))
	copy(out, l.roster)
	return out
}

// Overrides returns the ping glyphs currently shown in place of avatars,
// keyed by the sender's id. Expired entries are dropped.
func (l *Loop) Overrides() map[string]string {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.overrides))
	for id, o := range l.overrides {
		if !now.Before(o.until) {
			delete(l.overrides, id)
			continue
		}
		out[id] = o.glyph
	}
	return out
}

// Leave removes the local participant from the session.
func (l *Loop) Leave(ctx context.Context) error {
	return l.cfg.Registry.Leave(ctx, l.cfg.Self.ID)
}
