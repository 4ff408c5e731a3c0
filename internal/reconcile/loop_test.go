package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/presence"
	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	pings     []*ping.Event
	joined    [][]string
	left      [][]string
	published int
	lastOver  map[string]string
}

func (r *recorder) Ping(ev *ping.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings = append(r.pings, ev)
}

func (r *recorder) Joined(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, ids)
}

func (r *recorder) Left(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, ids)
}

func (r *recorder) Publish(_ []session.Participant, overrides map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published++
	r.lastOver = overrides
}

func (r *recorder) publishCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published
}

type world struct {
	clock   *fakeClock
	store   *record.MemoryStore
	reg     *session.Registry
	tracker *presence.Tracker
	pings   *ping.Channel
	session *session.Session
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	store := record.NewMemoryStore()
	store.SetClock(clock.Now)
	reg := session.NewRegistry(store, session.WithClock(clock.Now))
	tracker := presence.NewTracker(store, reg, presence.WithClock(clock.Now))
	s, err := reg.Create(context.Background())
	require.NoError(t, err)
	return &world{
		clock:   clock,
		store:   store,
		reg:     reg,
		tracker: tracker,
		pings:   ping.NewChannel(store, ping.WithClock(clock.Now)),
		session: s,
	}
}

func participant(id string) session.Participant {
	return session.Participant{ID: id, Name: id, Avatar: session.AvatarNeonCat, FocusScore: 50}
}

func (w *world) join(t *testing.T, id string) {
	t.Helper()
	_, err := w.reg.Join(context.Background(), w.session.ID, participant(id))
	require.NoError(t, err)
}

func (w *world) loop(id string, local func() Snapshot, rec *recorder) *Loop {
	return New(Config{
		SessionID: w.session.ID,
		Self:      participant(id),
		Local:     local,
		Registry:  w.reg,
		Heartbeat: w.tracker,
		Inbox:     w.pings,
		Effects:   rec,
		Renderer:  rec,
		Now:       w.clock.Now,
	})
}

func ids(roster []session.Participant) []string {
	out := make([]string, 0, len(roster))
	for _, p := range roster {
		out = append(out, p.ID)
	}
	return out
}

func TestTickHeartbeatsAndMerges(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	w.join(t, "other")
	rec := &recorder{}
	l := w.loop("me", func() Snapshot { return Snapshot{Score: 77, ElapsedSeconds: 30, Paused: true} }, rec)

	l.Tick(context.Background())

	roster := l.Roster()
	require.Equal(t, []string{"me", "other"}, ids(roster))
	assert.Equal(t, 77.0, roster[0].FocusScore)
	assert.Equal(t, 30, roster[0].ElapsedSeconds)
	assert.Equal(t, session.ParticipantPaused, roster[0].Status)
	assert.Equal(t, 1, rec.publishCount())

	stored, err := w.reg.Participants(context.Background(), w.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 77.0, stored[0].FocusScore)
}

type deafHeartbeat struct{}

func (deafHeartbeat) Heartbeat(context.Context, string, session.Participant) error {
	return errors.New("store unavailable")
}

func TestLocalRecordWinsOverRemote(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	l := New(Config{
		SessionID: w.session.ID,
		Self:      participant("me"),
		Local:     func() Snapshot { return Snapshot{Score: 91, ElapsedSeconds: 12} },
		Registry:  w.reg,
		Heartbeat: deafHeartbeat{},
		Inbox:     w.pings,
		Now:       w.clock.Now,
	})

	l.Tick(context.Background())

	roster := l.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, 91.0, roster[0].FocusScore, "local values shown even though the heartbeat failed")
	assert.Equal(t, session.ParticipantActive, roster[0].Status)
}

func TestEvictedParticipantRejoins(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	w.join(t, "other")
	require.NoError(t, w.reg.Leave(context.Background(), "me"))

	l := w.loop("me", nil, &recorder{})
	l.Tick(context.Background())

	assert.ElementsMatch(t, []string{"me", "other"}, ids(l.Roster()))
	got, err := w.reg.Get(context.Background(), w.session.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ParticipantIDs, "me")
}

func TestPingDeliveredOnceWithOverride(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	w.join(t, "bob")
	rec := &recorder{}
	l := w.loop("me", nil, rec)
	ctx := context.Background()

	_, err := w.pings.Send(ctx, "bob", "me", "☕")
	require.NoError(t, err)

	l.Tick(ctx)
	w.clock.Advance(time.Second)
	l.Tick(ctx)

	require.Len(t, rec.pings, 1)
	assert.Equal(t, "bob", rec.pings[0].FromUserID)
	assert.Equal(t, map[string]string{"bob": "☕"}, l.Overrides())
	assert.Equal(t, map[string]string{"bob": "☕"}, rec.lastOver)

	w.clock.Advance(2 * time.Second)
	assert.Empty(t, l.Overrides(), "override lasts three seconds")
}

func TestPingForOthersIgnored(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	rec := &recorder{}
	l := w.loop("me", nil, rec)

	_, err := w.pings.Send(context.Background(), "bob", "carol", "🔥")
	require.NoError(t, err)
	l.Tick(context.Background())

	assert.Empty(t, rec.pings)
	assert.Empty(t, l.Overrides())
}

func TestJoinLeaveCues(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	w.join(t, "a")
	rec := &recorder{}
	l := w.loop("me", nil, rec)
	ctx := context.Background()

	l.Tick(ctx)
	assert.Empty(t, rec.joined, "no cue on initial hydration")

	w.join(t, "b")
	w.join(t, "c")
	l.Tick(ctx)
	require.Len(t, rec.joined, 1)
	assert.ElementsMatch(t, []string{"b", "c"}, rec.joined[0])

	require.NoError(t, w.reg.Leave(ctx, "a"))
	l.Tick(ctx)
	require.Len(t, rec.left, 1)
	assert.Equal(t, []string{"a"}, rec.left[0])
}

type flakyRoster struct {
	Registry
	fail atomic.Bool
}

func (f *flakyRoster) Participants(ctx context.Context, sessionID string) ([]session.Participant, error) {
	if f.fail.Load() {
		return nil, errors.New("timeout")
	}
	return f.Registry.Participants(ctx, sessionID)
}

func TestRosterFailureKeepsLastRoster(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	w.join(t, "other")
	reg := &flakyRoster{Registry: w.reg}
	rec := &recorder{}
	l := New(Config{
		SessionID: w.session.ID,
		Self:      participant("me"),
		Registry:  reg,
		Heartbeat: w.tracker,
		Inbox:     w.pings,
		Effects:   rec,
		Renderer:  rec,
		Now:       w.clock.Now,
	})
	ctx := context.Background()

	l.Tick(ctx)
	reg.fail.Store(true)
	l.Tick(ctx)

	assert.Equal(t, []string{"me", "other"}, ids(l.Roster()))
	assert.Empty(t, rec.left, "a failed read is not a departure")
	assert.Equal(t, 2, rec.publishCount())
}

func TestRunNudgeAndCancel(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	rec := &recorder{}
	l := New(Config{
		SessionID: w.session.ID,
		Self:      participant("me"),
		Registry:  w.reg,
		Heartbeat: w.tracker,
		Inbox:     w.pings,
		Renderer:  rec,
		Interval:  time.Hour,
		Now:       w.clock.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.publishCount() == 1 }, time.Second, time.Millisecond)
	l.Nudge()
	require.Eventually(t, func() bool { return rec.publishCount() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLeave(t *testing.T) {
	w := newWorld(t)
	w.join(t, "me")
	l := w.loop("me", nil, &recorder{})

	require.NoError(t, l.Leave(context.Background()))
	_, err := w.reg.Get(context.Background(), w.session.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
