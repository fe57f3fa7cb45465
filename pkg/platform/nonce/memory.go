// pkg/platform/nonce/memory.go
package nonce

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Memory is a process-local Store. It is safe for concurrent use and purges
// expired records opportunistically on writes and from Run.
type Memory struct {
	mu       sync.Mutex
	records  map[string]Record
	expiry   Expiry
	now      func() time.Time
	putCount uint64
	purgeN   uint64
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithTTL sets one expiry window for every kind (<= 0 disables passive expiry).
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.expiry = UniformExpiry(ttl) }
}

// WithExpiry sets per-kind expiry windows.
func WithExpiry(e Expiry) MemoryOption {
	return func(m *Memory) { m.expiry = e }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		records: make(map[string]Record, 64),
		expiry:  UniformExpiry(DefaultTTL),
		now:     time.Now,
		purgeN:  1024,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Memory) Put(_ context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, m.now())
	if err != nil {
		return "", err
	}
	rec.Payload = maps.Clone(rec.Payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCount++
	if m.putCount%m.purgeN == 0 {
		m.purgeLocked(m.now())
	}
	m.records[rec.ID] = rec
	return rec.ID, nil
}

func (m *Memory) TakeOnce(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if ok {
		delete(m.records, id)
	}
	m.mu.Unlock()

	if !ok || m.expiry.expired(rec, m.now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Len reports the number of stored records, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Purge drops expired records and returns how many were removed.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(m.now())
}

func (m *Memory) purgeLocked(now time.Time) int {
	n := 0
	for id, rec := range m.records {
		if m.expiry.expired(rec, now) {
			delete(m.records, id)
			n++
		}
	}
	return n
}

// Run purges every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Purge()
		}
	}
}
