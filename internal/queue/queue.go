// Package queue holds the ordered sequence of pending tracks
// replicated across lobby members. There is no merge: concurrent
// mutation resolves by last snapshot broadcast, wholesale.
package queue

import (
	"sync"

	"auxlobby/internal/protocol"
)

type Store struct {
	mu        sync.RWMutex
	entries   []protocol.QueueEntry
	listeners []func([]protocol.QueueEntry)
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Subscribe(fn func([]protocol.QueueEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Enqueue appends. Duplicates are allowed.
func (s *Store) Enqueue(e protocol.QueueEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.notify()
}

// Dequeue pops the front entry, nil when empty.
func (s *Store) Dequeue() *protocol.QueueEntry {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return nil
	}
	e := s.entries[0]
	s.entries = s.entries[1:]
	s.mu.Unlock()
	s.notify()
	return &e
}

// DequeueUntil pops and discards entries up to and including the first
// one matching trackID. It reports whether a match was found; without
// a match the queue is left untouched.
func (s *Store) DequeueUntil(trackID string) bool {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.TrackID == trackID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.entries = s.entries[idx+1:]
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	s.notify()
}

// Replace adopts a broadcast snapshot wholesale.
func (s *Store) Replace(entries []protocol.QueueEntry) {
	cp := make([]protocol.QueueEntry, len(entries))
	copy(cp, entries)
	s.mu.Lock()
	s.entries = cp
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the current order, front first.
func (s *Store) Snapshot() []protocol.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]protocol.QueueEntry, len(s.entries))
	copy(cp, s.entries)
	return cp
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) notify() {
	s.mu.RLock()
	listeners := s.listeners
	snap := make([]protocol.QueueEntry, len(s.entries))
	copy(snap, s.entries)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
