// internal/jobs/memory_store.go
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryStore is an in-process Store with TTL expiry and a janitor goroutine
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a MemoryStore. A positive purgeInterval starts the janitor.
func NewMemoryStore(purgeInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if purgeInterval > 0 {
		go s.janitor(purgeInterval)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.snap.Clone(), nil
}

func (s *MemoryStore) PutWithMetadata(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[snap.ID] = memoryEntry{snap: snap.Clone(), expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Unfinished(ctx context.Context) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []*Snapshot
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) && !entry.snap.State.IsTerminal() {
			out = append(out, entry.snap.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close stops the janitor
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

// Len returns the number of live records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *MemoryStore) purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
