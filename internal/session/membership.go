package session

import (
	"errors"
	"log"
	"sync"

	"auxlobby/internal/localstore"
	"auxlobby/internal/protocol"
)

// MembershipStore tracks the local peer's lobby membership. The
// invariants (host implies joined, not joined implies no lobby id) hold
// by construction: the only writes are SetHost, SetMember and Clear.
type MembershipStore struct {
	mu        sync.RWMutex
	m         protocol.LobbyMembership
	persist   *localstore.Store
	listeners []func(protocol.LobbyMembership)
}

func NewMembershipStore(persist *localstore.Store) *MembershipStore {
	s := &MembershipStore{persist: persist}
	if persist != nil {
		var m protocol.LobbyMembership
		err := persist.Load(slotMembership, &m)
		if err == nil && m.Valid() {
			s.m = m
		} else if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			log.Printf("session: membership rehydration failed: %v", err)
		}
	}
	return s
}

func (s *MembershipStore) Current() protocol.LobbyMembership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

func (s *MembershipStore) Subscribe(fn func(protocol.LobbyMembership)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetHost records membership as the lobby host.
func (s *MembershipStore) SetHost(lobbyID string) {
	s.set(protocol.LobbyMembership{LobbyID: lobbyID, Joined: true, IsHost: true})
}

// SetMember records non-host membership.
func (s *MembershipStore) SetMember(lobbyID string) {
	s.set(protocol.LobbyMembership{LobbyID: lobbyID, Joined: true, IsHost: false})
}

// Clear returns to the not-in-lobby state.
func (s *MembershipStore) Clear() {
	s.set(protocol.LobbyMembership{})
}

func (s *MembershipStore) set(m protocol.LobbyMembership) {
	s.mu.Lock()
	s.m = m
	listeners := s.listeners
	s.mu.Unlock()
	if s.persist != nil {
		if err := s.persist.Save(slotMembership, m); err != nil {
			log.Printf("session: membership persist failed: %v", err)
		}
	}
	for _, fn := range listeners {
		fn(m)
	}
}
