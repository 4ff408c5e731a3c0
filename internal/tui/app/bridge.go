package app

import (
	"context"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/reconcile"
	"github.com/workaholi/focusroom/internal/session"
)

// Messages produced by the reconciliation loop.
type (
	rosterMsg struct {
		roster    []session.Participant
		overrides map[string]string
	}
	pingMsg struct {
		from  string
		emoji string
	}
	membershipMsg struct {
		joined []string
		left   []string
	}
)

// bridge implements reconcile.Effects and reconcile.Renderer by forwarding
// to the Bubble Tea event loop through a channel.
type bridge struct {
	ctx    context.Context
	events chan tea.Msg
	bell   io.Writer
	loop   *reconcile.Loop

	mu    sync.Mutex
	names map[string]string
}

func newBridge(ctx context.Context, bell io.Writer) *bridge {
	return &bridge{
		ctx:    ctx,
		events: make(chan tea.Msg, 16),
		bell:   bell,
		names:  make(map[string]string),
	}
}

func (b *bridge) send(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.ctx.Done():
	}
}

func (b *bridge) ring() {
	if b.bell != nil {
		_, _ = io.WriteString(b.bell, "\a")
	}
}

func (b *bridge) name(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.names[id]; ok && n != "" {
		return n
	}
	return id
}

func (b *bridge) Ping(ev *ping.Event) {
	b.ring()
	b.send(pingMsg{from: b.name(ev.FromUserID), emoji: ev.Emoji})
}

// Joined resolves names from the loop's freshly merged roster, which is
// stored before cues fire.
func (b *bridge) Joined(ids []string) {
	if b.loop != nil {
		b.mu.Lock()
		for _, p := range b.loop.Roster() {
			b.names[p.ID] = p.Name
		}
		b.mu.Unlock()
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = b.name(id)
	}
	b.ring()
	b.send(membershipMsg{joined: names})
}

func (b *bridge) Left(ids []string) {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = b.name(id)
	}
	b.ring()
	b.send(membershipMsg{left: names})
}

func (b *bridge) Publish(roster []session.Participant, overrides map[string]string) {
	b.mu.Lock()
	for _, p := range roster {
		b.names[p.ID] = p.Name
	}
	b.mu.Unlock()
	b.send(rosterMsg{roster: roster, overrides: overrides})
}

// wait delivers the next loop message to Update.
func (b *bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return msg
		case <-b.ctx.Done():
			return nil
		}
	}
}
