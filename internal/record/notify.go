package record

import "context"

// Op names the kind of write a Change reports.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Change describes a successful write. Deletes carry only the filter's type
// and session scope since the removed IDs are not known to every backend.
type Change struct {
	Op        Op     `json:"op"`
	Type      Type   `json:"recordType"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// NotifyingStore forwards every call to an inner Store and reports each
// successful write to fn. fn runs on the caller's goroutine and must not block.
type NotifyingStore struct {
	Store
	fn func(Change)
}

func Notifying(inner Store, fn func(Change)) *NotifyingStore {
	return &NotifyingStore{Store: inner, fn: fn}
}

func (s *NotifyingStore) Insert(ctx context.Context, rec Record) (Record, error) {
	out, err := s.Store.Insert(ctx, rec)
	if err == nil {
		s.fn(Change{Op: OpPut, Type: out.Type, ID: out.ID, SessionID: out.SessionID})
	}
	return out, err
}

func (s *NotifyingStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	out, err := s.Store.Upsert(ctx, rec)
	if err == nil {
		s.fn(Change{Op: OpPut, Type: out.Type, ID: out.ID, SessionID: out.SessionID})
	}
	return out, err
}

func (s *NotifyingStore) Update(ctx context.Context, rec Record) (Record, error) {
	out, err := s.Store.Update(ctx, rec)
	if err == nil {
		s.fn(Change{Op: OpPut, Type: out.Type, ID: out.ID, SessionID: out.SessionID})
	}
	return out, err
}

func (s *NotifyingStore) Delete(ctx context.Context, f Filter) (int, error) {
	n, err := s.Store.Delete(ctx, f)
	if err == nil && n > 0 {
		s.fn(Change{Op: OpDelete, Type: f.Type, SessionID: f.SessionID})
	}
	return n, err
}
