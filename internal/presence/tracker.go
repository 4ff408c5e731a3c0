// Package presence keeps participant records alive with heartbeats and
// evicts participants whose heartbeat has lapsed.
package presence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DefaultThreshold is how long a participant may go without a heartbeat
// before the next sweep evicts it.
const DefaultThreshold = 10 * time.Second

// ErrEvicted is returned by Heartbeat when the participant's record no
// longer exists, typically because a sweep removed it.
var ErrEvicted = errors.New("participant evicted")

// Tracker writes heartbeats and runs the stale sweep.
type Tracker struct {
	store     record.Store
	registry  *session.Registry
	threshold time.Duration
	now       func() time.Time

	sweepMu sync.Mutex

	heartbeats metric.Int64Counter
	evictions  metric.Int64Counter
}

type Option func(*Tracker)

func WithThreshold(d time.Duration) Option {
	return func(t *Tracker) { t.threshold = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker and installs it as reg's sweeper, so every
// membership-sensitive registry read sweeps first.
func NewTracker(store record.Store, reg *session.Registry, opts ...Option) *Tracker {
	meter := otel.Meter("focusroom/presence")
	heartbeats, _ := meter.Int64Counter("presence_heartbeats_total",
		metric.WithDescription("Total heartbeats written"))
	evictions, _ := meter.Int64Counter("presence_evictions_total",
		metric.WithDescription("Total participants evicted by the stale sweep"))

	t := &Tracker{
		store:      store,
		registry:   reg,
		threshold:  DefaultThreshold,
		now:        time.Now,
		heartbeats: heartbeats,
		evictions:  evictions,
	}
	for _, opt := range opts {
		opt(t)
	}
	reg.SetSweeper(t)
	return t
}

// Heartbeat overwrites the participant's record with its current values and
// a fresh heartbeat. It never recreates a record: once evicted, the caller
// must join again, which keeps session membership consistent.
func (t *Tracker) Heartbeat(ctx context.Context, sessionID string, p session.Participant) error {
	rec, err := session.ParticipantRecord(p, sessionID, t.now())
	if err != nil {
		return &record.WriteError{Op: "heartbeat", Err: err}
	}
	_, err = t.store.Update(ctx, rec)
	if errors.Is(err, record.ErrNotFound) {
		return ErrEvicted
	}
	if err != nil {
		return &record.WriteError{Op: "heartbeat", Err: err}
	}
	t.heartbeats.Add(ctx, 1)
	return nil
}

// SweepStale evicts every participant whose last heartbeat is older than
// the threshold, then drops membership entries that have no participant
// record behind them. Failed evictions are logged and left for the next
// sweep. Concurrent calls are serialized, so a caller returns only after a
// full pass that started no earlier than its own call.
func (t *Tracker) SweepStale(ctx context.Context) error {
	t.sweepMu.Lock()
	defer t.sweepMu.Unlock()

	recs, err := t.store.Select(ctx, record.Filter{Type: record.TypeParticipant})
	if err != nil {
		return &record.ReadError{Op: "sweep", Err: err}
	}

	now := t.now()
	alive := make(map[string]bool, len(recs))
	for _, rec := range recs {
		_, hb, err := session.DecodeParticipant(rec)
		if err != nil {
			log.Printf("[sweep] %v", err)
			continue
		}
		alive[rec.ID] = true
		if hb.IsZero() || now.Sub(hb) <= t.threshold {
			continue
		}
		if err := t.registry.Leave(ctx, rec.ID); err != nil {
			log.Printf("[sweep] evicting %s failed, retrying next sweep: %v", rec.ID, err)
			continue
		}
		delete(alive, rec.ID)
		t.evictions.Add(ctx, 1)
		log.Printf("[sweep] evicted %s from session %s (last heartbeat %s ago)", rec.ID, rec.SessionID, now.Sub(hb).Round(time.Millisecond))
	}

	t.pruneOrphans(ctx, now, alive)
	return nil
}

// pruneOrphans removes membership ids whose participant record is gone,
// e.g. after a leave that deleted the record but failed to update the
// session. Sessions written within the threshold are skipped so a join in
// progress is never undone.
func (t *Tracker) pruneOrphans(ctx context.Context, now time.Time, alive map[string]bool) {
	sessions, recs, err := t.registry.All(ctx)
	if err != nil {
		log.Printf("[sweep] %v", err)
		return
	}
	for i, s := range sessions {
		if now.Sub(recs[i].UpdatedAt) <= t.threshold {
			continue
		}
		for _, id := range s.ParticipantIDs {
			if alive[id] {
				continue
			}
			if err := t.registry.RemoveMember(ctx, s.ID, id); err != nil {
				log.Printf("[sweep] pruning orphan %s from %s: %v", id, s.ID, err)
				continue
			}
			log.Printf("[sweep] pruned orphan member %s from session %s", id, s.ID)
		}
	}
}
