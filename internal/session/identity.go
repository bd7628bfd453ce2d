// Package session owns the three persisted session state slices:
// identity, lobby membership and playback. Each store is a singly-owned
// mutable cell; writes go through its mutators, every mutator persists
// a snapshot immediately, and subscribers observe changes by value.
package session

import (
	"errors"
	"log"
	"sync"

	"auxlobby/internal/localstore"
	"auxlobby/internal/protocol"
)

const (
	slotIdentity   = "identity"
	slotMembership = "membership"
	slotPlayback   = "playback"
)

// IdentityStore holds the current user, rehydrated at process start.
type IdentityStore struct {
	mu        sync.RWMutex
	id        protocol.Identity
	present   bool
	persist   *localstore.Store
	listeners []func(protocol.Identity, bool)
}

// NewIdentityStore rehydrates from persist; pass nil for a
// memory-only store.
func NewIdentityStore(persist *localstore.Store) *IdentityStore {
	s := &IdentityStore{persist: persist}
	if persist != nil {
		var id protocol.Identity
		err := persist.Load(slotIdentity, &id)
		if err == nil && id.UserID != "" {
			s.id = id
			s.present = true
		} else if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			log.Printf("session: identity rehydration failed: %v", err)
		}
	}
	return s
}

func (s *IdentityStore) Current() (protocol.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.present
}

func (s *IdentityStore) Subscribe(fn func(protocol.Identity, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *IdentityStore) Set(id protocol.Identity) {
	s.mu.Lock()
	s.id = id
	s.present = true
	listeners := s.listeners
	s.mu.Unlock()
	s.save(id)
	for _, fn := range listeners {
		fn(id, true)
	}
}

// Clear tears down the identity on logout.
func (s *IdentityStore) Clear() {
	s.mu.Lock()
	s.id = protocol.Identity{}
	s.present = false
	listeners := s.listeners
	s.mu.Unlock()
	if s.persist != nil {
		if err := s.persist.Clear(slotIdentity); err != nil {
			log.Printf("session: identity clear failed: %v", err)
		}
	}
	for _, fn := range listeners {
		fn(protocol.Identity{}, false)
	}
}

func (s *IdentityStore) save(id protocol.Identity) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(slotIdentity, id); err != nil {
		log.Printf("session: identity persist failed: %v", err)
	}
}
