package lobbyserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"

	"auxlobby/internal/protocol"
)

var (
	ErrLobbyNotFound = errors.New("lobby not found")
	ErrNotLobbyHost  = errors.New("only the host can do that")
)

// Registry tracks the active lobbies and which peers are connected.
type Registry struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby
	online  map[string]*Member
}

func NewRegistry() *Registry {
	return &Registry{
		lobbies: make(map[string]*Lobby),
		online:  make(map[string]*Member),
	}
}

// CreateLobby makes a new lobby with the creator attached as host.
func (r *Registry) CreateLobby(ctx context.Context, name string, host *Member) *Lobby {
	l := newLobby(uuid.NewString(), name, host.ID, time.Now().UTC())
	r.mu.Lock()
	r.lobbies[l.id] = l
	r.mu.Unlock()
	l.attach(host)
	ilog.EventInfo(ctx, "lobby_created", "lobbyID", l.id, "hostID", host.ID)
	return l
}

func (r *Registry) Lobby(id string) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[id]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	return l, nil
}

// Join attaches a peer as a non-host member.
func (r *Registry) Join(ctx context.Context, lobbyID string, m *Member) (*Lobby, error) {
	l, err := r.Lobby(lobbyID)
	if err != nil {
		return nil, err
	}
	l.attach(m)
	ilog.EventInfo(ctx, "lobby_joined", "lobbyID", lobbyID, "userID", m.ID)
	return l, nil
}

// Remove drops a lobby outright.
func (r *Registry) Remove(lobbyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lobbies, lobbyID)
}

// IDs lists the active lobby ids for discovery.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.lobbies))
	for id := range r.lobbies {
		ids = append(ids, id)
	}
	return ids
}

// Summary is the collaborator-API detail view of a lobby.
func (r *Registry) Summary(lobbyID string) (protocol.LobbySummary, error) {
	l, err := r.Lobby(lobbyID)
	if err != nil {
		return protocol.LobbySummary{}, err
	}
	s := l.StateSnapshot(time.Now().UTC())
	nowPlaying := ""
	if s.TrackID != "" {
		nowPlaying = s.Artist + " - " + s.Title
	}
	return protocol.LobbySummary{
		LobbyID:    l.id,
		Name:       l.name,
		Listeners:  l.MemberCount(),
		NowPlaying: nowPlaying,
	}, nil
}

// setOnline binds a user to its connection-scoped member for direct
// notification pushes.
func (r *Registry) setOnline(userID string, m *Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[userID] = m
}

func (r *Registry) setOffline(userID string, m *Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.online[userID]; ok && cur == m {
		delete(r.online, userID)
	}
}

// Push delivers an envelope to a connected user; offline users rely on
// the durable store and the session-start bulk fetch.
func (r *Registry) Push(userID string, e interface{}) bool {
	r.mu.RLock()
	m, ok := r.online[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	m.Send(e)
	return true
}
