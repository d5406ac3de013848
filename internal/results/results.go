// Package results retains completed async decisions so clients can poll
// for them by request id.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/risk"
	"github.com/nexshop/nexid/internal/syncutil"
)

// ErrAlreadyStored is returned when a request id already has a result.
// Entries are write-once.
var ErrAlreadyStored = errors.New("results: already stored")

// Store holds completed decisions keyed by request id.
type Store interface {
	Put(ctx context.Context, resp *risk.VerifyResponse) error
	Get(ctx context.Context, requestID string) (*risk.VerifyResponse, bool)
}

type entry struct {
	resp     *risk.VerifyResponse
	storedAt time.Time
}

// MemoryStore is a process-local Store. Entries older than the TTL are
// dropped by Sweep; a zero TTL keeps entries for the process lifetime.
// A swept id leaves a tombstone for one more TTL so Expired can tell it
// apart from an id still being decided.
type MemoryStore struct {
	entries    *syncutil.ShardedMap[entry]
	tombstones *syncutil.ShardedMap[time.Time]
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryStore creates an in-memory result store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:    syncutil.NewShardedMap[entry](0),
		tombstones: syncutil.NewShardedMap[time.Time](0),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Put stores a copy of resp. A second Put for the same request id leaves
// the first result untouched and returns ErrAlreadyStored.
func (s *MemoryStore) Put(_ context.Context, resp *risk.VerifyResponse) error {
	if resp == nil || resp.RequestID == "" {
		return errors.New("results: response without request id")
	}

	var err error
	s.entries.Do(resp.RequestID, func(m map[string]entry) {
		if _, exists := m[resp.RequestID]; exists {
			err = ErrAlreadyStored
			return
		}
		m[resp.RequestID] = entry{resp: resp.Clone(), storedAt: s.now()}
	})
	if err == nil {
		metrics.ResultsStored.Inc()
	}
	return err
}

// Get returns a copy of the stored result. Expired entries that have not
// been swept yet are reported as missing.
func (s *MemoryStore) Get(_ context.Context, requestID string) (*risk.VerifyResponse, bool) {
	e, ok := s.entries.Get(requestID)
	if !ok || s.expired(e) {
		return nil, false
	}
	return e.resp.Clone(), true
}

// Expired reports whether requestID had a result that has since aged out.
// Ids never stored, and tombstones older than a second TTL, report false.
func (s *MemoryStore) Expired(_ context.Context, requestID string) bool {
	if s.ttl <= 0 {
		return false
	}
	if e, ok := s.entries.Get(requestID); ok {
		return s.expired(e)
	}
	at, ok := s.tombstones.Get(requestID)
	return ok && s.now().Sub(at) < s.ttl
}

// Len reports the number of retained entries.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}

// Sweep removes expired entries, leaving a tombstone for each, and reports
// how many were dropped. Tombstones past their own TTL go in the same pass.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	s.tombstones.Sweep(func(_ string, at time.Time) bool { return now.Sub(at) >= s.ttl })

	var dropped []string
	removed := s.entries.Sweep(func(id string, e entry) bool {
		if !s.expired(e) {
			return false
		}
		dropped = append(dropped, id)
		return true
	})
	for _, id := range dropped {
		s.tombstones.Do(id, func(m map[string]time.Time) { m[id] = now })
	}
	if removed > 0 {
		metrics.ResultsStored.Sub(float64(removed))
		metrics.ResultsExpiredTotal.Add(float64(removed))
	}
	return removed
}

func (s *MemoryStore) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.storedAt) >= s.ttl
}
