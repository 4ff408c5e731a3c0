package record

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Records are copied on the way in and
// on the way out so callers never share payload buffers with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key]Record
	now     func() time.Time
}

type key struct {
	t  Type
	id string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[key]Record),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for UpdatedAt. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{rec.Type, rec.ID}
	if _, ok := s.records[k]; ok {
		return Record{}, ErrExists
	}
	return s.putLocked(k, rec, 0), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{rec.Type, rec.ID}
	return s.putLocked(k, rec, s.records[k].Version), nil
}

func (s *MemoryStore) Update(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{rec.Type, rec.ID}
	existing, ok := s.records[k]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Version != 0 && rec.Version != existing.Version {
		return Record{}, ErrConflict
	}
	return s.putLocked(k, rec, existing.Version), nil
}

// putLocked stores a copy of rec with the next version. Caller must hold s.mu.
func (s *MemoryStore) putLocked(k key, rec Record, prev uint64) Record {
	stored := rec.Clone()
	stored.Version = prev + 1
	stored.UpdatedAt = s.now()
	s.records[k] = stored
	return stored.Clone()
}

func (s *MemoryStore) Delete(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := f.validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.records {
		if f.Match(rec) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Select(ctx context.Context, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Record, 0)
	for _, rec := range s.records {
		if f.Match(rec) {
			result = append(result, rec.Clone())
		}
	}
	sortByID(result)
	return result, nil
}

// Count returns the number of stored records of type t.
func (s *MemoryStore) Count(t Type) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.records {
		if k.t == t {
			n++
		}
	}
	return n
}

func sortByID(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
