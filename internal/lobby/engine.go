// Package lobby implements the client side of the lobby membership
// protocol: discovery, create/join/leave, roster resolution, chat, and
// the host-authoritative playback and queue replication on top of the
// transport router and the session stores.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/RanFeng/ilog"

	"auxlobby/internal/protocol"
	"auxlobby/internal/queue"
	"auxlobby/internal/session"
	"auxlobby/internal/transport"
)

var (
	ErrNoIdentity = errors.New("no identity: connect before using the lobby protocol")
	ErrNotInLobby = errors.New("not in a lobby")
	ErrNotHost    = errors.New("transport controls are host-only while in a lobby")
)

// Directory resolves ids against the external collaborator REST API.
// Failures are per-item and non-fatal.
type Directory interface {
	LobbyDetail(ctx context.Context, lobbyID string) (protocol.LobbySummary, error)
	Profile(ctx context.Context, userID string) (protocol.Profile, error)
}

// Engine owns the lobby protocol handlers. One instance per process,
// sharing the process-wide connection with the notification center.
type Engine struct {
	conn       transport.Conn
	identity   *session.IdentityStore
	membership *session.MembershipStore
	playback   *session.PlaybackStore
	queue      *queue.Store
	dir        Directory

	mu         sync.Mutex
	roster     map[string]protocol.Profile
	chat       []protocol.ChatMessage
	rosterSubs []func([]protocol.Profile)
	chatSubs   []func(protocol.ChatMessage)
}

func NewEngine(conn transport.Conn, identity *session.IdentityStore, membership *session.MembershipStore, playback *session.PlaybackStore, q *queue.Store, dir Directory) *Engine {
	return &Engine{
		conn:       conn,
		identity:   identity,
		membership: membership,
		playback:   playback,
		queue:      q,
		dir:        dir,
		roster:     make(map[string]protocol.Profile),
	}
}

// Start registers the standing handlers: broadcasts that can arrive at
// any time while in a lobby. Request/response tags are registered
// fresh per request by the operation that issues it.
func (e *Engine) Start(ctx context.Context) {
	e.conn.Handle(protocol.OpSetMusicState, e.onMusicState(ctx))
	e.conn.Handle(protocol.OpSyncMusic, e.onMusicState(ctx))
	e.conn.Handle(protocol.OpSyncQueue, e.onQueueSync(ctx))
	e.conn.Handle(protocol.OpMessage, e.onChat(ctx))
	e.conn.Handle(protocol.OpLeaveLobby, e.onLeave(ctx))
	e.conn.Handle(protocol.OpDeleteLobby, e.onDelete(ctx))
}

// Discover requests the active lobby ids and resolves each to a
// summary via the collaborator API, in parallel. Lobbies whose detail
// fetch fails are logged and omitted; discovery never fails atomically.
func (e *Engine) Discover(ctx context.Context, cb func([]protocol.LobbySummary)) transport.SendResult {
	e.conn.Handle(protocol.OpGetLobbyIDs, func(in protocol.InboundEnvelope) {
		var p protocol.LobbyIDsPayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "discover_decode_failed", "err", err)
			return
		}
		go e.resolveSummaries(ctx, p.LobbyIDs, cb)
	})
	return e.conn.Send(protocol.Envelope{Op: protocol.OpGetLobbyIDs})
}

func (e *Engine) resolveSummaries(ctx context.Context, ids []string, cb func([]protocol.LobbySummary)) {
	var (
		mu        sync.Mutex
		summaries []protocol.LobbySummary
		wg        sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			detail, err := e.dir.LobbyDetail(ctx, id)
			if err != nil {
				ilog.EventWarn(ctx, "lobby_detail_failed", "lobbyID", id, "err", err)
				return
			}
			mu.Lock()
			summaries = append(summaries, detail)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	cb(summaries)
}

// Create asks the server for a new lobby. The ack handler replaces any
// previous CREATE_LOBBY registration; issuing two concurrent creates
// means only the second ack is observable.
func (e *Engine) Create(ctx context.Context, name string, cb func(lobbyID string)) (transport.SendResult, error) {
	id, ok := e.identity.Current()
	if !ok {
		return transport.Dropped, ErrNoIdentity
	}
	e.conn.Handle(protocol.OpCreateLobby, func(in protocol.InboundEnvelope) {
		var ack protocol.LobbyAck
		if err := json.Unmarshal(in.Value, &ack); err != nil {
			ilog.EventWarn(ctx, "create_ack_decode_failed", "err", err)
			return
		}
		e.enterLobby(ctx, ack.LobbyID, true)
		if cb != nil {
			cb(ack.LobbyID)
		}
	})
	res := e.conn.Send(protocol.Envelope{
		Op:    protocol.OpCreateLobby,
		Value: protocol.CreateLobbyPayload{Name: name, UserID: id.UserID},
	})
	return res, nil
}

// Join enters an existing lobby as a non-host member and kicks off the
// join-time reconciliation round trip.
func (e *Engine) Join(ctx context.Context, lobbyID string, cb func(lobbyID string)) (transport.SendResult, error) {
	id, ok := e.identity.Current()
	if !ok {
		return transport.Dropped, ErrNoIdentity
	}
	e.conn.Handle(protocol.OpJoinLobby, func(in protocol.InboundEnvelope) {
		var ack protocol.LobbyAck
		if err := json.Unmarshal(in.Value, &ack); err != nil {
			ilog.EventWarn(ctx, "join_ack_decode_failed", "err", err)
			return
		}
		e.enterLobby(ctx, ack.LobbyID, false)
		// Adopt the host's state before anything local bleeds in.
		e.conn.Send(protocol.Envelope{
			Op:    protocol.OpSyncMusic,
			Value: protocol.JoinLobbyPayload{LobbyID: ack.LobbyID, UserID: id.UserID},
		})
		if cb != nil {
			cb(ack.LobbyID)
		}
	})
	res := e.conn.Send(protocol.Envelope{
		Op:    protocol.OpJoinLobby,
		Value: protocol.JoinLobbyPayload{LobbyID: lobbyID, UserID: id.UserID},
	})
	return res, nil
}

// enterLobby clears any previous session's playback and queue so a
// stale now-playing track never shows against the new lobby, then
// requests the roster.
func (e *Engine) enterLobby(ctx context.Context, lobbyID string, asHost bool) {
	if asHost {
		e.membership.SetHost(lobbyID)
	} else {
		e.membership.SetMember(lobbyID)
	}
	e.playback.Clear()
	e.queue.Clear()
	e.mu.Lock()
	e.roster = make(map[string]protocol.Profile)
	e.chat = nil
	e.mu.Unlock()
	e.FetchRoster(ctx)
}

// Leave announces departure. Local state is not cleared here: the
// server echoes the leave on the shared broadcast channel, and the
// standing handler clears only when the departing id is our own.
func (e *Engine) Leave(ctx context.Context) (transport.SendResult, error) {
	id, ok := e.identity.Current()
	if !ok {
		return transport.Dropped, ErrNoIdentity
	}
	m := e.membership.Current()
	if !m.Joined {
		return transport.Dropped, ErrNotInLobby
	}
	res := e.conn.Send(protocol.Envelope{
		Op:    protocol.OpLeaveLobby,
		Value: protocol.LeavePayload{LobbyID: m.LobbyID, UserID: id.UserID},
	})
	return res, nil
}

// Delete tears the lobby down for everyone. Host only.
func (e *Engine) Delete(ctx context.Context) (transport.SendResult, error) {
	m := e.membership.Current()
	if !m.Joined {
		return transport.Dropped, ErrNotInLobby
	}
	if !m.IsHost {
		return transport.Dropped, ErrNotHost
	}
	res := e.conn.Send(protocol.Envelope{
		Op:    protocol.OpDeleteLobby,
		Value: protocol.LobbyAck{LobbyID: m.LobbyID},
	})
	return res, nil
}

// FetchRoster requests the member id list and resolves each id to a
// profile in parallel; completion order is not guaranteed.
func (e *Engine) FetchRoster(ctx context.Context) transport.SendResult {
	m := e.membership.Current()
	if !m.Joined {
		return transport.Dropped
	}
	e.conn.Handle(protocol.OpGetLobbyMembers, func(in protocol.InboundEnvelope) {
		var p protocol.MembersPayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "roster_decode_failed", "err", err)
			return
		}
		if cur := e.membership.Current(); !cur.Joined || cur.LobbyID != p.LobbyID {
			return
		}
		for _, memberID := range p.MemberIDs {
			go e.resolveMember(ctx, p.LobbyID, memberID)
		}
	})
	return e.conn.Send(protocol.Envelope{
		Op:    protocol.OpGetLobbyMembers,
		Value: protocol.LobbyAck{LobbyID: m.LobbyID},
	})
}

func (e *Engine) resolveMember(ctx context.Context, lobbyID, memberID string) {
	profile, err := e.dir.Profile(ctx, memberID)
	if err != nil {
		ilog.EventWarn(ctx, "profile_resolve_failed", "userID", memberID, "err", err)
		profile = protocol.Profile{UserID: memberID}
	}
	// The fetch may outlive the membership that asked for it.
	if cur := e.membership.Current(); !cur.Joined || cur.LobbyID != lobbyID {
		return
	}
	e.mu.Lock()
	e.roster[memberID] = profile
	subs := e.rosterSubs
	snap := e.rosterSnapshotLocked()
	e.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// Roster returns the resolved members so far.
func (e *Engine) Roster() []protocol.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rosterSnapshotLocked()
}

func (e *Engine) rosterSnapshotLocked() []protocol.Profile {
	out := make([]protocol.Profile, 0, len(e.roster))
	for _, p := range e.roster {
		out = append(out, p)
	}
	return out
}

func (e *Engine) SubscribeRoster(fn func([]protocol.Profile)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rosterSubs = append(e.rosterSubs, fn)
}

// onLeave handles the shared leave broadcast. A leaving member learns
// of its own departure the same way everyone else learns of it, so the
// departing id decides whether to clear local state or just the roster
// entry.
func (e *Engine) onLeave(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var p protocol.LeavePayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "leave_decode_failed", "err", err)
			return
		}
		m := e.membership.Current()
		if !m.Joined || m.LobbyID != p.LobbyID {
			return
		}
		id, _ := e.identity.Current()
		if p.UserID == id.UserID {
			e.clearSession()
			ilog.EventInfo(ctx, "left_lobby", "lobbyID", p.LobbyID)
			return
		}
		e.mu.Lock()
		delete(e.roster, p.UserID)
		subs := e.rosterSubs
		snap := e.rosterSnapshotLocked()
		e.mu.Unlock()
		for _, fn := range subs {
			fn(snap)
		}
	}
}

func (e *Engine) onDelete(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var p protocol.LobbyAck
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "delete_decode_failed", "err", err)
			return
		}
		m := e.membership.Current()
		if !m.Joined || m.LobbyID != p.LobbyID {
			return
		}
		e.clearSession()
		ilog.EventInfo(ctx, "lobby_deleted", "lobbyID", p.LobbyID)
	}
}

func (e *Engine) clearSession() {
	e.membership.Clear()
	e.playback.Clear()
	e.queue.Clear()
	e.mu.Lock()
	e.roster = make(map[string]protocol.Profile)
	e.chat = nil
	e.mu.Unlock()
}
