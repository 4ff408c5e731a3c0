// Package mock drives simulated participants so a lone client has company
// during development and demos.
package mock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/presence"
	"github.com/workaholi/focusroom/internal/scoring"
	"github.com/workaholi/focusroom/internal/session"
)

type pattern string

const (
	steady     pattern = "steady"
	burst      pattern = "burst"
	stall      pattern = "stall"
	methodical pattern = "methodical"
)

// pingEvery is the mean number of ticks between pings from one bot.
const pingEvery = 20

type bot struct {
	p       session.Participant
	pattern pattern
	state   scoring.State
	running bool
	seated  bool
}

var roster = []struct {
	name    string
	avatar  session.Avatar
	pattern pattern
}{
	{"neo", session.AvatarMatrixEye, steady},
	{"trinity", session.AvatarNeonCat, burst},
	{"tank", session.AvatarRoboFace, stall},
	{"dozer", session.AvatarHackerSkull, methodical},
	{"switch", session.AvatarCyberPunk, burst},
}

// Generator keeps a set of bots joined to the newest joinable session.
type Generator struct {
	reg      *session.Registry
	tracker  *presence.Tracker
	pings    *ping.Channel
	count    int
	interval time.Duration

	mu        sync.Mutex
	rng       *rand.Rand
	bots      []*bot
	sessionID string
	tick      int

	done chan struct{}
}

type Option func(*Generator)

// WithSeed makes bot behaviour reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

func NewGenerator(reg *session.Registry, tracker *presence.Tracker, pings *ping.Channel, count int, interval time.Duration, opts ...Option) *Generator {
	if count > len(roster) {
		count = len(roster)
	}
	if interval <= 0 {
		interval = time.Second
	}
	g := &Generator{
		reg:      reg,
		tracker:  tracker,
		pings:    pings,
		count:    count,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	for i := 0; i < count; i++ {
		def := roster[i]
		g.bots = append(g.bots, &bot{
			p: session.Participant{
				ID:     fmt.Sprintf("bot-%s", def.name),
				Name:   def.name,
				Avatar: def.avatar,
				Status: session.ParticipantActive,
			},
			pattern: def.pattern,
			state:   scoring.Initial(),
			running: true,
		})
	}
	return g
}

// Start seats the bots, then advances them every interval until ctx is
// cancelled, when they leave.
func (g *Generator) Start(ctx context.Context) error {
	if err := g.seat(ctx); err != nil {
		return err
	}
	go g.run(ctx)
	return nil
}

// Done is closed once the bots have left after cancellation.
func (g *Generator) Done() <-chan struct{} {
	return g.done
}

// SessionID returns the session the bots currently occupy.
func (g *Generator) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID
}

// seat joins every bot to the newest joinable session, creating one when
// none is open. One seat is always left free for a human.
func (g *Generator) seat(ctx context.Context) error {
	s, err := g.reg.MostRecentJoinable(ctx)
	if errors.Is(err, session.ErrNoJoinable) {
		s, err = g.reg.Create(ctx)
	}
	if err != nil {
		return fmt.Errorf("seat bots: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionID = s.ID
	free := g.reg.MaxUsers() - len(s.ParticipantIDs) - 1
	creator := len(s.ParticipantIDs) == 0
	for i, b := range g.bots {
		b.seated = false
		if i >= free {
			log.Printf("[mock] session %s has no room for %s", s.ID, b.p.Name)
			continue
		}
		b.p.IsSessionCreator = creator && i == 0
		if _, err := g.reg.Join(ctx, s.ID, g.snapshot(b)); err != nil {
			log.Printf("[mock] %s: join: %v", b.p.Name, err)
			continue
		}
		b.seated = true
	}
	return nil
}

func (g *Generator) run(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.leave()
			return
		case <-ticker.C:
			g.Step(ctx)
		}
	}
}

// Step advances every bot by one tick and writes its heartbeat.
func (g *Generator) Step(ctx context.Context) {
	g.mu.Lock()
	g.tick++
	tick := g.tick
	sessionID := g.sessionID
	bots := make([]session.Participant, 0, len(g.bots))
	for _, b := range g.bots {
		if !b.seated {
			continue
		}
		g.advance(b, tick)
		bots = append(bots, g.snapshot(b))
	}
	g.mu.Unlock()

	for _, p := range bots {
		err := g.tracker.Heartbeat(ctx, sessionID, p)
		if errors.Is(err, presence.ErrEvicted) {
			if _, err := g.reg.Join(ctx, sessionID, p); errors.Is(err, session.ErrSessionNotFound) {
				log.Printf("[mock] session %s gone, reseating", sessionID)
				if err := g.seat(ctx); err != nil {
					log.Printf("[mock] %v", err)
				}
				return
			}
			continue
		}
		if err != nil {
			log.Printf("[mock] %s: heartbeat: %v", p.Name, err)
		}
	}

	g.maybePing(ctx, sessionID, bots)
}

func (g *Generator) maybePing(ctx context.Context, sessionID string, bots []session.Participant) {
	if g.pings == nil || len(bots) == 0 {
		return
	}
	g.mu.Lock()
	fire := g.rng.Intn(pingEvery) == 0
	from := bots[g.rng.Intn(len(bots))]
	glyph := ping.Glyphs[g.rng.Intn(len(ping.Glyphs))]
	g.mu.Unlock()
	if !fire {
		return
	}

	members, err := g.reg.Participants(ctx, sessionID)
	if err != nil {
		return
	}
	targets := make([]string, 0, len(members))
	for _, m := range members {
		if m.ID != from.ID {
			targets = append(targets, m.ID)
		}
	}
	if len(targets) == 0 {
		return
	}
	g.mu.Lock()
	to := targets[g.rng.Intn(len(targets))]
	g.mu.Unlock()
	if _, err := g.pings.Send(ctx, from.ID, to, glyph); err != nil {
		log.Printf("[mock] %s: ping: %v", from.Name, err)
	}
}

func (g *Generator) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.bots {
		if !b.seated {
			continue
		}
		if err := g.reg.Leave(ctx, b.p.ID); err != nil {
			log.Printf("[mock] %s: leave: %v", b.p.Name, err)
		}
	}
}

func (g *Generator) snapshot(b *bot) session.Participant {
	p := b.p
	p.FocusScore = b.state.Score
	if b.running {
		p.Status = session.ParticipantActive
	} else {
		p.Status = session.ParticipantPaused
	}
	return p
}

// advance feeds synthetic input events into the bot's score. Each tick is
// treated as one second of activity.
func (g *Generator) advance(b *bot, tick int) {
	if tick%2 == 0 {
		b.state = scoring.Apply(b.state, scoring.Event{Kind: scoring.DecayTick})
	}
	if !b.running {
		if tick%30 == 0 {
			b.running = true
			b.state.Paused = false
		}
		return
	}
	b.p.ElapsedSeconds++

	keys, moves := 0, 0
	switch b.pattern {
	case steady:
		keys = 1
		moves = g.rng.Intn(3)
	case burst:
		if tick%8 < 3 {
			keys = 3 + g.rng.Intn(3)
		}
		moves = g.rng.Intn(2)
	case stall:
		// Work for 40 ticks, then go quiet for 30 so the score visibly drains.
		if tick%70 < 40 {
			keys = g.rng.Intn(2)
			moves = 1 + g.rng.Intn(3)
		}
	case methodical:
		pace := 0.7 + 0.3*math.Sin(float64(tick)/10.0)
		if g.rng.Float64() < pace {
			keys = 1
		}
		moves = 1
	}
	for i := 0; i < keys; i++ {
		b.state = scoring.Apply(b.state, scoring.Event{Kind: scoring.KeyDown})
	}
	for i := 0; i < moves; i++ {
		b.state = scoring.Apply(b.state, scoring.Event{Kind: scoring.PointerMove})
	}

	// The occasional coffee break.
	if g.rng.Intn(200) == 0 {
		b.running = false
		b.state.Paused = true
	}
}
