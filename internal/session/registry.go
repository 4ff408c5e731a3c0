package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/workaholi/focusroom/internal/record"
)

// casAttempts bounds every read-modify-write loop on a session record.
const casAttempts = 8

// Sweeper evicts participants whose heartbeat has lapsed. The registry runs
// it before every membership-sensitive read.
type Sweeper interface {
	SweepStale(ctx context.Context) error
}

// Registry creates sessions and keeps session membership consistent with
// the participants' own records.
type Registry struct {
	store    record.Store
	maxUsers int
	duration time.Duration
	now      func() time.Time
	newID    func() string
	sweeper  Sweeper
}

// Option configures a Registry.
type Option func(*Registry)

func WithMaxUsers(n int) Option {
	return func(r *Registry) { r.maxUsers = n }
}

func WithDuration(d time.Duration) Option {
	return func(r *Registry) { r.duration = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithIDs(newID func() string) Option {
	return func(r *Registry) { r.newID = newID }
}

func NewRegistry(store record.Store, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		maxUsers: MaxUsers,
		duration: DefaultDuration,
		now:      time.Now,
		newID:    record.NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSweeper installs the stale-participant sweep. Must be called before
// the registry is shared between goroutines.
func (r *Registry) SetSweeper(s Sweeper) {
	r.sweeper = s
}

// MaxUsers returns the configured capacity.
func (r *Registry) MaxUsers() int {
	return r.maxUsers
}

func (r *Registry) sweep(ctx context.Context) {
	if r.sweeper == nil {
		return
	}
	if err := r.sweeper.SweepStale(ctx); err != nil {
		log.Printf("[sweep] %v", err)
	}
}

// Create inserts a fresh idle session with no members.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		s := &Session{
			ID:              r.newID(),
			StartTime:       r.now(),
			DurationMinutes: int(r.duration / time.Minute),
			Status:          Idle,
			ParticipantIDs:  []string{},
		}
		rec, err := SessionRecord(s)
		if err != nil {
			return nil, &record.WriteError{Op: "create session", Err: err}
		}
		_, err = r.store.Insert(ctx, rec)
		if err == nil {
			log.Printf("Session %s created", s.ID)
			return s, nil
		}
		lastErr = err
		if !errors.Is(err, record.ErrExists) {
			break
		}
	}
	return nil, &record.WriteError{Op: "create session", Err: lastErr}
}

// Get returns the session with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	s, _, err := r.load(ctx, id)
	return s, err
}

func (r *Registry) load(ctx context.Context, id string) (*Session, record.Record, error) {
	rec, err := record.Get(ctx, r.store, record.TypeSession, id)
	if errors.Is(err, record.ErrNotFound) {
		return nil, record.Record{}, ErrSessionNotFound
	}
	if err != nil {
		return nil, record.Record{}, &record.ReadError{Op: "get session", Err: err}
	}
	s, err := DecodeSession(rec)
	if err != nil {
		return nil, record.Record{}, &record.ReadError{Op: "get session", Err: err}
	}
	return s, rec, nil
}

// All returns every stored session, unsorted. Used by the presence sweep.
func (r *Registry) All(ctx context.Context) ([]*Session, []record.Record, error) {
	recs, err := r.store.Select(ctx, record.Filter{Type: record.TypeSession})
	if err != nil {
		return nil, nil, &record.ReadError{Op: "list sessions", Err: err}
	}
	sessions := make([]*Session, 0, len(recs))
	kept := make([]record.Record, 0, len(recs))
	for _, rec := range recs {
		s, err := DecodeSession(rec)
		if err != nil {
			log.Printf("Skipping session record: %v", err)
			continue
		}
		sessions = append(sessions, s)
		kept = append(kept, rec)
	}
	return sessions, kept, nil
}

// ListJoinable sweeps stale participants, then returns every session below
// capacity, newest first. Sessions created at the same instant are ordered
// by id so the result is deterministic.
func (r *Registry) ListJoinable(ctx context.Context) ([]*Session, error) {
	r.sweep(ctx)

	all, _, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	joinable := make([]*Session, 0, len(all))
	for _, s := range all {
		if len(s.ParticipantIDs) < r.maxUsers {
			joinable = append(joinable, s)
		}
	}
	sort.Slice(joinable, func(i, j int) bool {
		a, b := joinable[i], joinable[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.ID < b.ID
	})
	return joinable, nil
}

// MostRecentJoinable returns the auto-join target, or ErrNoJoinable.
func (r *Registry) MostRecentJoinable(ctx context.Context) (*Session, error) {
	sessions, err := r.ListJoinable(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNoJoinable
	}
	return sessions[0], nil
}

// Join adds p to the session's membership and upserts p's own record with a
// fresh heartbeat. Joining a session p already belongs to changes nothing
// in the membership. A participant still registered in another session is
// removed from it first.
func (r *Registry) Join(ctx context.Context, sessionID string, p Participant) (*Session, error) {
	if prev, err := record.Get(ctx, r.store, record.TypeParticipant, p.ID); err == nil && prev.SessionID != "" && prev.SessionID != sessionID {
		if err := r.RemoveMember(ctx, prev.SessionID, p.ID); err != nil {
			log.Printf("Participant %s: leaving previous session %s: %v", p.ID, prev.SessionID, err)
		}
	}

	var joined *Session
	for attempt := 0; attempt < casAttempts; attempt++ {
		s, rec, err := r.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.Has(p.ID) {
			joined = s
			break
		}
		if len(s.ParticipantIDs) >= r.maxUsers {
			return nil, ErrSessionFull
		}
		s.ParticipantIDs = append(s.ParticipantIDs, p.ID)
		payload, err := encodeSession(s)
		if err != nil {
			return nil, &record.WriteError{Op: "join", Err: err}
		}
		rec.Payload = payload
		_, err = r.store.Update(ctx, rec)
		if errors.Is(err, record.ErrConflict) {
			continue
		}
		if errors.Is(err, record.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, &record.WriteError{Op: "join", Err: err}
		}
		joined = s
		break
	}
	if joined == nil {
		return nil, &record.WriteError{Op: "join", Err: record.ErrConflict}
	}

	prec, err := ParticipantRecord(p, sessionID, r.now())
	if err != nil {
		return nil, &record.WriteError{Op: "join", Err: err}
	}
	if _, err := r.store.Upsert(ctx, prec); err != nil {
		return nil, &record.WriteError{Op: "join", Err: err}
	}
	log.Printf("Participant %s (%s) joined session %s (%d/%d)", p.ID, p.Name, sessionID, len(joined.ParticipantIDs), r.maxUsers)
	return joined, nil
}

// Leave deletes the participant's record and removes it from its session,
// reclaiming the session when it becomes empty. Leaving twice is a no-op.
func (r *Registry) Leave(ctx context.Context, participantID string) error {
	prec, err := record.Get(ctx, r.store, record.TypeParticipant, participantID)
	switch {
	case err == nil:
		if prec.SessionID != "" {
			if err := r.RemoveMember(ctx, prec.SessionID, participantID); err != nil {
				return err
			}
		}
	case errors.Is(err, record.ErrNotFound):
	default:
		return &record.ReadError{Op: "leave", Err: err}
	}

	if _, err := r.store.Delete(ctx, record.ByID(record.TypeParticipant, participantID)); err != nil {
		return &record.WriteError{Op: "leave", Err: err}
	}
	return nil
}

// RemoveMember drops participantID from the session's membership and
// deletes the session once it is empty. A missing session is not an error.
func (r *Registry) RemoveMember(ctx context.Context, sessionID, participantID string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		s, rec, err := r.load(ctx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.Has(participantID) && len(s.ParticipantIDs) > 0 {
			return nil
		}
		s.ParticipantIDs = s.without(participantID)

		if len(s.ParticipantIDs) == 0 {
			// Reclaim only the version loaded above; a join that landed
			// since then keeps the session alive and the loop retries.
			f := record.ByID(record.TypeSession, sessionID)
			f.Version = rec.Version
			n, err := r.store.Delete(ctx, f)
			if err != nil {
				return &record.WriteError{Op: "reclaim session", Err: err}
			}
			if n == 0 {
				continue
			}
			log.Printf("Session %s reclaimed (no participants left)", sessionID)
			return nil
		}

		payload, err := encodeSession(s)
		if err != nil {
			return &record.WriteError{Op: "remove member", Err: err}
		}
		rec.Payload = payload
		_, err = r.store.Update(ctx, rec)
		if errors.Is(err, record.ErrConflict) {
			continue
		}
		if errors.Is(err, record.ErrNotFound) {
			return nil
		}
		if err != nil {
			return &record.WriteError{Op: "remove member", Err: err}
		}
		return nil
	}
	return &record.WriteError{Op: "remove member", Err: record.ErrConflict}
}

// Participants sweeps stale participants, then returns the session's roster
// in membership order. Records of ids not (yet) in the membership follow,
// ordered by id.
func (r *Registry) Participants(ctx context.Context, sessionID string) ([]Participant, error) {
	r.sweep(ctx)

	recs, err := r.store.Select(ctx, record.Filter{Type: record.TypeParticipant, SessionID: sessionID})
	if err != nil {
		return nil, &record.ReadError{Op: "list participants", Err: err}
	}

	order := map[string]int{}
	if s, _, err := r.load(ctx, sessionID); err == nil {
		for i, id := range s.ParticipantIDs {
			order[id] = i
		}
	}

	roster := make([]Participant, 0, len(recs))
	for _, rec := range recs {
		p, _, err := DecodeParticipant(rec)
		if err != nil {
			log.Printf("Skipping participant record: %v", err)
			continue
		}
		roster = append(roster, p)
	}
	sort.SliceStable(roster, func(i, j int) bool {
		oi, iok := order[roster[i].ID]
		oj, jok := order[roster[j].ID]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return roster[i].ID < roster[j].ID
		}
	})
	return roster, nil
}

// SetStatus records the session timer state.
func (r *Registry) SetStatus(ctx context.Context, sessionID string, status Status) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		s, rec, err := r.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Status == status {
			return nil
		}
		s.Status = status
		payload, err := encodeSession(s)
		if err != nil {
			return &record.WriteError{Op: "set status", Err: err}
		}
		rec.Payload = payload
		_, err = r.store.Update(ctx, rec)
		if errors.Is(err, record.ErrConflict) {
			continue
		}
		if errors.Is(err, record.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return &record.WriteError{Op: "set status", Err: err}
		}
		return nil
	}
	return &record.WriteError{Op: "set status", Err: record.ErrConflict}
}
