// Package record defines the generic record store shared by every focus
// session client. Sessions, participants and pings are all stored as
// records; the payload is opaque JSON owned by the layer above.
package record

import (
	"context"
	"encoding/json"
	"time"
)

// Type classifies what a record's payload holds.
type Type string

const (
	TypeSession     Type = "session"
	TypeParticipant Type = "participant"
	TypePing        Type = "ping"
)

// Valid reports whether t is one of the known record types.
func (t Type) Valid() bool {
	switch t {
	case TypeSession, TypeParticipant, TypePing:
		return true
	}
	return false
}

// Record is the unit of storage. (Type, ID) is the primary key.
//
// Version is assigned by the store and increases on every write. Passing a
// non-zero Version to Update makes the write conditional on it.
type Record struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"sessionId,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Version   uint64          `json:"version"`
}

func (r Record) validate() error {
	if r.ID == "" || !r.Type.Valid() {
		return ErrInvalidRecord
	}
	return nil
}

// Clone returns a copy whose payload can be mutated independently.
func (r Record) Clone() Record {
	if r.Payload != nil {
		p := make(json.RawMessage, len(r.Payload))
		copy(p, r.Payload)
		r.Payload = p
	}
	return r
}

// Filter selects records. Type is required; empty IDs and SessionID match
// everything of that type. A non-zero Version matches only records stored
// at exactly that version, which makes Delete conditional.
type Filter struct {
	Type      Type     `json:"type"`
	IDs       []string `json:"ids,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	Version   uint64   `json:"version,omitempty"`
}

// ByID is shorthand for a single-record filter.
func ByID(t Type, id string) Filter {
	return Filter{Type: t, IDs: []string{id}}
}

func (f Filter) validate() error {
	if !f.Type.Valid() {
		return ErrInvalidFilter
	}
	return nil
}

// Match reports whether r satisfies the filter.
func (f Filter) Match(r Record) bool {
	if r.Type != f.Type {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.Version != 0 && r.Version != f.Version {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if id == r.ID {
			return true
		}
	}
	return false
}

// Store is the shared record store every component talks to. Implementations
// must tolerate concurrent callers; writes to distinct records never block
// each other logically.
type Store interface {
	// Insert stores a new record, failing with ErrExists on a duplicate key.
	Insert(ctx context.Context, rec Record) (Record, error)
	// Upsert stores rec unconditionally.
	Upsert(ctx context.Context, rec Record) (Record, error)
	// Update replaces an existing record. A non-zero rec.Version must match
	// the stored version or ErrConflict is returned.
	Update(ctx context.Context, rec Record) (Record, error)
	// Delete removes every record matching f and returns how many went.
	// With f.Version set, a record written since that version is kept.
	Delete(ctx context.Context, f Filter) (int, error)
	// Select returns every record matching f, ordered by ID.
	Select(ctx context.Context, f Filter) ([]Record, error)
}

// Get selects exactly one record by key.
func Get(ctx context.Context, s Store, t Type, id string) (Record, error) {
	recs, err := s.Select(ctx, ByID(t, id))
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}
