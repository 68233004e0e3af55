// Package streambuf holds in-flight streamed responses keyed by stream id.
// A producer appends partial output under an id while consumers poll the
// accumulating snapshot until the finished flag is set.
package streambuf

import (
	"sync"
	"time"
)

// Entry is a snapshot of one stream session.
type Entry struct {
	StreamID  string
	Content   string
	Finished  bool
	UpdatedAt time.Time
}

// Store is the stream buffer contract. Single-writer per stream id is a
// caller convention; concurrent producers on one id interleave with
// undefined ordering.
type Store interface {
	Init(streamID string)
	Append(streamID, chunk string)
	MarkFinished(streamID string)
	Get(streamID string) (Entry, bool)
	Cleanup(ttl time.Duration) int
}

// MemoryStore is a mutex-guarded in-process Store. It is correct for a
// single gateway instance only; multi-instance deployments need a shared
// TTL-capable store behind the same interface.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory stream buffer.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]*Entry{},
		now:     time.Now,
	}
}

// Init registers a stream id with empty content. Re-initializing an existing
// id resets it.
func (s *MemoryStore) Init(streamID string) {
	if streamID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[streamID] = &Entry{
		StreamID:  streamID,
		UpdatedAt: s.now(),
	}
}

// Append adds a chunk to the stream. Unknown ids and finished streams are
// no-ops; callers must Init first.
func (s *MemoryStore) Append(streamID, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[streamID]
	if !ok || entry.Finished {
		return
	}
	entry.Content += chunk
	entry.UpdatedAt = s.now()
}

// MarkFinished seals the stream. Content is immutable afterwards.
func (s *MemoryStore) MarkFinished(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[streamID]
	if !ok {
		return
	}
	entry.Finished = true
	entry.UpdatedAt = s.now()
}

// Get returns a copy of the current snapshot.
func (s *MemoryStore) Get(streamID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[streamID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Cleanup removes entries not updated within ttl and returns how many were
// dropped.
func (s *MemoryStore) Cleanup(ttl time.Duration) int {
	deadline := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if entry.UpdatedAt.Before(deadline) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
