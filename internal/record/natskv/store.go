// Package natskv implements record.Store on a NATS JetStream key-value
// bucket. The KV revision of each key doubles as the record version, so
// compare-and-swap updates map directly onto kv.Update.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/workaholi/focusroom/internal/record"
)

const DefaultBucket = "FOCUS_RECORDS"

// Store is a record.Store backed by a JetStream KV bucket.
type Store struct {
	nc  *nats.Conn
	kv  nats.KeyValue
	now func() time.Time
}

var _ record.Store = (*Store)(nil)

// stored is the on-bucket representation. Version is not persisted; it is
// the entry revision.
type stored struct {
	ID        string          `json:"id"`
	Type      record.Type     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"sessionId,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Open connects to NATS and binds to bucket, creating it as an in-memory
// bucket when it does not exist yet.
func Open(url, bucket string, opts ...nats.Option) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	opts = append([]nats.Option{nats.Name("focusd")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
			Storage: nats.MemoryStorage,
		})
		if err == nil {
			log.Printf("Created KV bucket %s", bucket)
		}
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind bucket %s: %w", bucket, err)
	}
	return &Store{nc: nc, kv: kv, now: time.Now}, nil
}

// New wraps an already bound bucket. The caller keeps ownership of the
// underlying connection.
func New(kv nats.KeyValue) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Close drains the connection opened by Open.
func (s *Store) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

func keyFor(t record.Type, id string) string {
	return string(t) + "." + id
}

// validKey rejects ids NATS would refuse as key tokens.
func validKey(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") || strings.HasSuffix(id, ".") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '=', r == '/':
		default:
			return false
		}
	}
	return true
}

func (s *Store) encode(rec record.Record) ([]byte, time.Time, error) {
	if rec.ID == "" || !rec.Type.Valid() || !validKey(rec.ID) {
		return nil, time.Time{}, record.ErrInvalidRecord
	}
	at := s.now()
	data, err := json.Marshal(stored{
		ID:        rec.ID,
		Type:      rec.Type,
		Payload:   rec.Payload,
		SessionID: rec.SessionID,
		UpdatedAt: at,
	})
	return data, at, err
}

func decode(entry nats.KeyValueEntry) (record.Record, error) {
	var st stored
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return record.Record{}, fmt.Errorf("decode %s: %w", entry.Key(), err)
	}
	return record.Record{
		ID:        st.ID,
		Type:      st.Type,
		Payload:   st.Payload,
		SessionID: st.SessionID,
		UpdatedAt: st.UpdatedAt,
		Version:   entry.Revision(),
	}, nil
}

func written(rec record.Record, at time.Time, rev uint64) record.Record {
	out := rec.Clone()
	out.UpdatedAt = at
	out.Version = rev
	return out
}

func isMissing(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func (s *Store) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	data, at, err := s.encode(rec)
	if err != nil {
		return record.Record{}, err
	}
	rev, err := s.kv.Create(keyFor(rec.Type, rec.ID), data)
	if errors.Is(err, nats.ErrKeyExists) {
		return record.Record{}, record.ErrExists
	}
	if err != nil {
		return record.Record{}, err
	}
	return written(rec, at, rev), nil
}

func (s *Store) Upsert(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	data, at, err := s.encode(rec)
	if err != nil {
		return record.Record{}, err
	}
	rev, err := s.kv.Put(keyFor(rec.Type, rec.ID), data)
	if err != nil {
		return record.Record{}, err
	}
	return written(rec, at, rev), nil
}

func (s *Store) Update(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	data, at, err := s.encode(rec)
	if err != nil {
		return record.Record{}, err
	}
	key := keyFor(rec.Type, rec.ID)

	expected := rec.Version
	if expected == 0 {
		entry, err := s.kv.Get(key)
		if isMissing(err) {
			return record.Record{}, record.ErrNotFound
		}
		if err != nil {
			return record.Record{}, err
		}
		expected = entry.Revision()
	}

	rev, err := s.kv.Update(key, data, expected)
	if errors.Is(err, nats.ErrKeyExists) {
		if _, getErr := s.kv.Get(key); isMissing(getErr) {
			return record.Record{}, record.ErrNotFound
		}
		return record.Record{}, record.ErrConflict
	}
	if err != nil {
		return record.Record{}, err
	}
	return written(rec, at, rev), nil
}

func (s *Store) Delete(ctx context.Context, f record.Filter) (int, error) {
	matches, err := s.Select(ctx, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range matches {
		var opts []nats.DeleteOpt
		if f.Version != 0 {
			opts = append(opts, nats.LastRevision(f.Version))
		}
		if err := s.kv.Delete(keyFor(rec.Type, rec.ID), opts...); err != nil {
			if isMissing(err) || isStale(err) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// isStale reports a revision-guarded write that lost to a newer revision.
func isStale(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

func (s *Store) Select(ctx context.Context, f record.Filter) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.Type.Valid() {
		return nil, record.ErrInvalidFilter
	}

	var keys []string
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if validKey(id) {
				keys = append(keys, keyFor(f.Type, id))
			}
		}
	} else {
		all, err := s.kv.Keys()
		if err != nil && !errors.Is(err, nats.ErrNoKeysFound) {
			return nil, err
		}
		prefix := string(f.Type) + "."
		for _, k := range all {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
	}

	result := make([]record.Record, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := s.kv.Get(k)
		if isMissing(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := decode(entry)
		if err != nil {
			log.Printf("[natskv] skipping undecodable entry: %v", err)
			continue
		}
		if f.Match(rec) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
