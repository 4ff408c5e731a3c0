package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// flakyStore fails the next n participant deletes.
type flakyStore struct {
	record.Store
	mu        sync.Mutex
	failNext  int
	deleteErr error
}

func (f *flakyStore) Delete(ctx context.Context, filter record.Filter) (int, error) {
	f.mu.Lock()
	if filter.Type == record.TypeParticipant && f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return 0, f.deleteErr
	}
	f.mu.Unlock()
	return f.Store.Delete(ctx, filter)
}

type fixture struct {
	store   *record.MemoryStore
	reg     *session.Registry
	tracker *Tracker
	clock   *fakeClock
}

func newFixture(t *testing.T, wrap func(record.Store) record.Store) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	mem := record.NewMemoryStore()
	mem.SetClock(clock.Now)
	var store record.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	reg := session.NewRegistry(store, session.WithClock(clock.Now))
	tracker := NewTracker(store, reg, WithClock(clock.Now))
	return &fixture{store: mem, reg: reg, tracker: tracker, clock: clock}
}

func member(id string) session.Participant {
	return session.Participant{ID: id, Name: id, Avatar: session.AvatarRoboFace, FocusScore: 50}
}

func rosterIDs(t *testing.T, f *fixture, sessionID string) []string {
	t.Helper()
	roster, err := f.reg.Participants(context.Background(), sessionID)
	require.NoError(t, err)
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		ids = append(ids, p.ID)
	}
	return ids
}

// gateStore blocks the first participant-wide Select until release closes.
type gateStore struct {
	record.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateStore) Select(ctx context.Context, f record.Filter) ([]record.Record, error) {
	if f.Type == record.TypeParticipant && f.SessionID == "" && len(f.IDs) == 0 {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.Store.Select(ctx, f)
}

func TestReadWaitsForSweepInProgress(t *testing.T) {
	gate := &gateStore{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, func(inner record.Store) record.Store {
		gate.Store = inner
		return gate
	})
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))
	f.clock.Advance(DefaultThreshold + time.Second)

	sweepDone := make(chan error, 1)
	go func() { sweepDone <- f.tracker.SweepStale(ctx) }()
	<-gate.entered

	type result struct {
		roster []session.Participant
		err    error
	}
	read := make(chan result, 1)
	go func() {
		roster, err := f.reg.Participants(ctx, s.ID)
		read <- result{roster, err}
	}()

	select {
	case r := <-read:
		t.Fatalf("read returned %d participants while a sweep was still running", len(r.roster))
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-sweepDone)
	r := <-read
	require.NoError(t, r.err)
	assert.Empty(t, r.roster)
}

func TestHeartbeatOverwritesFields(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	_, err := f.reg.Join(ctx, s.ID, member("a"))
	require.NoError(t, err)

	p := member("a")
	p.FocusScore = 87
	p.ElapsedSeconds = 120
	p.Status = session.ParticipantPaused
	require.NoError(t, f.tracker.Heartbeat(ctx, s.ID, p))

	roster, err := f.reg.Participants(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, 87.0, roster[0].FocusScore)
	assert.Equal(t, 120, roster[0].ElapsedSeconds)
	assert.Equal(t, session.ParticipantPaused, roster[0].Status)
}

func TestHeartbeatAfterEviction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))
	require.NoError(t, f.reg.Leave(ctx, "a"))

	err := f.tracker.Heartbeat(ctx, s.ID, member("a"))
	assert.ErrorIs(t, err, ErrEvicted)
	assert.Zero(t, f.store.Count(record.TypeParticipant), "heartbeat must not resurrect the record")
}

func TestStaleParticipantEvictedOnNextRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))
	f.reg.Join(ctx, s.ID, member("b"))

	// b keeps heartbeating; a goes silent.
	for i := 0; i < 11; i++ {
		f.clock.Advance(time.Second)
		require.NoError(t, f.tracker.Heartbeat(ctx, s.ID, member("b")))
	}

	assert.Equal(t, []string{"b"}, rosterIDs(t, f, s.ID))
	got, err := f.reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.ParticipantIDs)
}

func TestThresholdIsExclusive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))

	f.clock.Advance(DefaultThreshold)
	assert.Equal(t, []string{"a"}, rosterIDs(t, f, s.ID), "exactly at the threshold is still alive")

	f.clock.Advance(time.Millisecond)
	assert.Empty(t, rosterIDs(t, f, s.ID))
}

func TestEvictionReclaimsSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))

	f.clock.Advance(DefaultThreshold + time.Second)
	joinable, err := f.reg.ListJoinable(ctx)
	require.NoError(t, err)
	assert.Empty(t, joinable)

	_, err = f.reg.Get(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestEmptyFreshSessionSurvivesSweep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)

	f.clock.Advance(time.Minute)
	joinable, err := f.reg.ListJoinable(ctx)
	require.NoError(t, err)
	require.Len(t, joinable, 1)
	assert.Equal(t, s.ID, joinable[0].ID)
}

func TestFailedEvictionRetriedNextSweep(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(inner record.Store) record.Store {
		flaky = &flakyStore{Store: inner, failNext: 1, deleteErr: errors.New("store unavailable")}
		return flaky
	})
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))
	f.reg.Join(ctx, s.ID, member("b"))

	f.clock.Advance(DefaultThreshold + time.Second)
	require.NoError(t, f.tracker.Heartbeat(ctx, s.ID, member("b")))

	// First sweep: a's delete fails, so a is still stored.
	require.NoError(t, f.tracker.SweepStale(ctx))
	assert.Equal(t, 2, f.store.Count(record.TypeParticipant))

	// Second sweep succeeds.
	require.NoError(t, f.tracker.SweepStale(ctx))
	assert.Equal(t, 1, f.store.Count(record.TypeParticipant))
	got, err := f.reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.ParticipantIDs)
}

func TestOrphanMembersPruned(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)
	f.reg.Join(ctx, s.ID, member("a"))
	f.reg.Join(ctx, s.ID, member("ghost"))

	// The ghost's record vanished without its membership being updated.
	_, err := f.store.Delete(ctx, record.ByID(record.TypeParticipant, "ghost"))
	require.NoError(t, err)

	require.NoError(t, f.tracker.SweepStale(ctx))
	got, _ := f.reg.Get(ctx, s.ID)
	assert.Equal(t, []string{"a", "ghost"}, got.ParticipantIDs, "recently written sessions are left alone")

	f.clock.Advance(DefaultThreshold / 2)
	require.NoError(t, f.tracker.Heartbeat(ctx, s.ID, member("a")))
	f.clock.Advance(DefaultThreshold/2 + time.Second)
	require.NoError(t, f.tracker.Heartbeat(ctx, s.ID, member("a")))

	require.NoError(t, f.tracker.SweepStale(ctx))
	got, _ = f.reg.Get(ctx, s.ID)
	assert.Equal(t, []string{"a"}, got.ParticipantIDs)
}

func TestMembershipNeverExceedsCapacityAfterChurn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, _ := f.reg.Create(ctx)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for round := 0; round < 3; round++ {
		for _, id := range ids {
			_, err := f.reg.Join(ctx, s.ID, member(id))
			if err != nil {
				require.ErrorIs(t, err, session.ErrSessionFull)
			}
			got, err := f.reg.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got.ParticipantIDs), session.MaxUsers)
		}
		require.NoError(t, f.reg.Leave(ctx, ids[round]))
	}
}
