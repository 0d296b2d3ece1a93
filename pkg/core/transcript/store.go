// Package transcript holds the append-only conversation record for a
// voice session.
package transcript

import (
	"sync"

	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// observerBuffer is the per-observer channel capacity. A consumer that
// falls this far behind misses entries rather than blocking the session.
const observerBuffer = 64

// Store is an in-memory append-only transcript. Entries are never edited
// or removed; Clear starts a fresh transcript for the next session.
type Store struct {
	mu        sync.RWMutex
	entries   []types.TranscriptEntry
	observers map[int]chan types.TranscriptEntry
	nextObs   int
}

func NewStore() *Store {
	return &Store{observers: make(map[int]chan types.TranscriptEntry)}
}

// Append adds an entry and fans it out to observers. Observers whose
// buffer is full drop the entry; the stored history stays complete.
func (s *Store) Append(entry types.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	for _, ch := range s.observers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// History returns a copy of all entries in append order.
func (s *Store) History() []types.TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TranscriptEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Observe registers a live observer. A late joiner sees only entries
// appended after subscription; earlier history is available via History.
// The returned cancel func unregisters the observer and closes its channel.
func (s *Store) Observe() (<-chan types.TranscriptEntry, func()) {
	s.mu.Lock()
	ch := make(chan types.TranscriptEntry, observerBuffer)
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Clear drops all entries. Observers stay registered and see only entries
// appended after the clear.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
