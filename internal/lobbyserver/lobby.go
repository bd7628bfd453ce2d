package lobbyserver

import (
	"encoding/json"
	"sync"
	"time"

	"auxlobby/internal/protocol"
)

// chatHistoryCap bounds the per-lobby chat ring.
const chatHistoryCap = 200

// Lobby is one shared listening session: a roster of members, the
// host-authoritative playback state, the replicated queue and the chat
// stream.
type Lobby struct {
	id     string
	name   string
	hostID string

	mu         sync.RWMutex
	members    map[string]*Member
	state      protocol.PlaybackState
	stateSetAt time.Time
	queue      []protocol.QueueEntry
	chat       []protocol.ChatMessage
}

// Member is one connected peer with its buffered send channel. The
// channel is owned by the connection's write loop, not by any lobby:
// a member can outlive the lobby it sits in and vice versa.
type Member struct {
	ID   string
	send chan []byte
}

// NewMember allocates the connection-scoped member.
func NewMember(userID string) *Member {
	return &Member{ID: userID, send: make(chan []byte, 16)}
}

// Outbox is drained by the connection's write loop. It is closed by
// CloseOutbox when the connection goes away.
func (m *Member) Outbox() <-chan []byte { return m.send }

func (m *Member) CloseOutbox() { close(m.send) }

func newLobby(id, name, hostID string, now time.Time) *Lobby {
	return &Lobby{
		id:         id,
		name:       name,
		hostID:     hostID,
		members:    make(map[string]*Member),
		state:      protocol.EmptyPlayback(),
		stateSetAt: now,
	}
}

func (l *Lobby) ID() string   { return l.id }
func (l *Lobby) Name() string { return l.name }

func (l *Lobby) HostID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hostID
}

func (l *Lobby) attach(m *Member) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members[m.ID] = m
}

func (l *Lobby) detach(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.members, userID)
}

func (l *Lobby) MemberIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.members))
	for id := range l.members {
		ids = append(ids, id)
	}
	return ids
}

func (l *Lobby) MemberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// StateSnapshot returns the stored playback state with the elapsed
// offset computed, so a late joiner lands mid-track rather than at the
// position the host last reported.
func (l *Lobby) StateSnapshot(now time.Time) protocol.PlaybackState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.state
	if s.Phase == protocol.PhasePlay {
		s.PositionSeconds += now.Sub(l.stateSetAt).Seconds()
		if s.DurationSeconds > 0 && s.PositionSeconds > s.DurationSeconds {
			s.PositionSeconds = s.DurationSeconds
		}
	}
	return s
}

// ApplyMusicState stores a host broadcast. The caller has already
// checked host authority.
func (l *Lobby) ApplyMusicState(s protocol.PlaybackState, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	l.stateSetAt = now
}

// ReplaceQueue adopts a member's snapshot; last writer wins.
func (l *Lobby) ReplaceQueue(entries []protocol.QueueEntry) {
	cp := make([]protocol.QueueEntry, len(entries))
	copy(cp, entries)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = cp
}

func (l *Lobby) Queue() []protocol.QueueEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]protocol.QueueEntry, len(l.queue))
	copy(cp, l.queue)
	return cp
}

// AppendChat records one line, trimming the ring.
func (l *Lobby) AppendChat(msg protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chat = append(l.chat, msg)
	if len(l.chat) > chatHistoryCap {
		l.chat = l.chat[len(l.chat)-chatHistoryCap:]
	}
}

func (l *Lobby) Chat() []protocol.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]protocol.ChatMessage, len(l.chat))
	copy(cp, l.chat)
	return cp
}

// Broadcast fans an envelope out to every member; skip excludes one
// user id (the authoring peer) when non-empty. Slow members drop
// frames rather than stall the lobby.
func (l *Lobby) Broadcast(e interface{}, skip string) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, m := range l.members {
		if skip != "" && id == skip {
			continue
		}
		select {
		case m.send <- data:
		default:
		}
	}
}

// Send queues an envelope for one member.
func (m *Member) Send(e interface{}) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case m.send <- data:
	default:
	}
}
