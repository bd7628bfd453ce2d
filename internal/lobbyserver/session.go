package lobbyserver

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/RanFeng/ilog"

	"auxlobby/internal/protocol"
)

// wsConn is the slice of a websocket connection the session needs.
// Both gorilla and the hertz-contrib fork satisfy it.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// textMessage matches websocket.TextMessage in both implementations.
const textMessage = 1

// outFrame is a server-to-client envelope. For names the tag the
// client registered for this frame.
type outFrame struct {
	Op    protocol.OpTag `json:"op"`
	For   protocol.OpTag `json:"for,omitempty"`
	Value interface{}    `json:"value,omitempty"`
}

type peerSession struct {
	reg    *Registry
	dir    *Directory
	conn   wsConn
	member *Member
	lobby  *Lobby
}

// ServeConn runs one peer's session until the socket closes. It is the
// single read loop shared by the gorilla and hertz entry points.
func ServeConn(ctx context.Context, reg *Registry, dir *Directory, conn wsConn) {
	s := &peerSession{reg: reg, dir: dir, conn: conn, member: NewMember("")}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for data := range s.member.Outbox() {
			if err := conn.WriteMessage(textMessage, data); err != nil {
				return
			}
		}
	}()

	s.readLoop(ctx)
	s.cleanup(ctx)
	s.member.CloseOutbox()
	<-writeDone
	conn.Close()
}

func (s *peerSession) readLoop(ctx context.Context) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != textMessage {
			continue
		}
		var raw struct {
			Op    protocol.OpTag  `json:"op"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Printf("lobbyserver: unmarshal error: %v", err)
			continue
		}
		s.handle(ctx, raw.Op, raw.Value)
	}
}

func (s *peerSession) handle(ctx context.Context, op protocol.OpTag, value json.RawMessage) {
	switch op {
	case protocol.OpConnect:
		s.handleConnect(ctx, value)
	case protocol.OpCreateLobby:
		s.handleCreate(ctx, value)
	case protocol.OpJoinLobby:
		s.handleJoin(ctx, value)
	case protocol.OpLeaveLobby:
		s.handleLeave(ctx, value)
	case protocol.OpDeleteLobby:
		s.handleDelete(ctx, value)
	case protocol.OpGetLobbyIDs:
		s.member.Send(outFrame{Op: protocol.OpOK, For: protocol.OpGetLobbyIDs,
			Value: protocol.LobbyIDsPayload{LobbyIDs: s.reg.IDs()}})
	case protocol.OpGetLobbyMembers:
		s.handleMembers(value)
	case protocol.OpMessage:
		s.handleChat(value)
	case protocol.OpGetMessages:
		s.handleChatHistory(value)
	case protocol.OpSetMusicState:
		s.handleMusicState(ctx, value)
	case protocol.OpSyncMusic:
		s.handleSyncMusic(value)
	case protocol.OpSyncQueue:
		s.handleQueueSync(value)
	case protocol.OpAddFriend:
		s.handleFriendRequest(ctx, value)
	case protocol.OpRemoveFriend:
		s.handleRemoveFriend(value)
	case protocol.OpRequestMusicPlay:
		s.handlePlayRequest(ctx, value)
	default:
		s.member.Send(outFrame{Op: protocol.OpError, Value: protocol.ErrorPayload{
			Code: "unknown_op", Message: "unsupported message type"}})
	}
}

func (s *peerSession) handleConnect(ctx context.Context, value json.RawMessage) {
	var p protocol.ConnectPayload
	if err := json.Unmarshal(value, &p); err != nil || p.UserID == "" {
		s.sendError("invalid_connect", "connect requires a user id")
		return
	}
	s.member.ID = p.UserID
	s.reg.setOnline(p.UserID, s.member)
	if _, err := s.dir.Profile(p.UserID); err != nil {
		s.dir.RegisterProfile(protocol.Profile{UserID: p.UserID, DisplayName: p.UserID})
	}
	ilog.EventInfo(ctx, "peer_connected", "userID", p.UserID)
	s.member.Send(outFrame{Op: protocol.OpOK, Value: protocol.OKPayload{Message: "connected"}})
}

func (s *peerSession) handleCreate(ctx context.Context, value json.RawMessage) {
	if s.member.ID == "" {
		s.sendError("no_identity", "connect first")
		return
	}
	var p protocol.CreateLobbyPayload
	if err := json.Unmarshal(value, &p); err != nil || p.Name == "" {
		s.sendError("invalid_request", "lobby name is required")
		return
	}
	s.lobby = s.reg.CreateLobby(ctx, p.Name, s.member)
	s.member.Send(outFrame{Op: protocol.OpOK, For: protocol.OpCreateLobby,
		Value: protocol.LobbyAck{LobbyID: s.lobby.ID()}})
}

func (s *peerSession) handleJoin(ctx context.Context, value json.RawMessage) {
	if s.member.ID == "" {
		s.sendError("no_identity", "connect first")
		return
	}
	var p protocol.JoinLobbyPayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid join payload")
		return
	}
	l, err := s.reg.Join(ctx, p.LobbyID, s.member)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	s.lobby = l
	s.member.Send(outFrame{Op: protocol.OpOK, For: protocol.OpJoinLobby,
		Value: protocol.LobbyAck{LobbyID: l.ID()}})
	// Everyone refreshes the roster from the same broadcast.
	l.Broadcast(outFrame{Op: protocol.OpOK, For: protocol.OpGetLobbyMembers,
		Value: protocol.MembersPayload{LobbyID: l.ID(), MemberIDs: l.MemberIDs()}}, "")
}

// handleLeave detaches the member and tells every member — the leaver
// included — who departed. The leaver clears its own local state when
// it sees its own id come back.
func (s *peerSession) handleLeave(ctx context.Context, value json.RawMessage) {
	var p protocol.LeavePayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid leave payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	leave := outFrame{Op: protocol.OpLeaveLobby, For: protocol.OpLeaveLobby,
		Value: protocol.LeavePayload{LobbyID: l.ID(), UserID: s.member.ID}}
	l.Broadcast(leave, "")
	l.detach(s.member.ID)
	wasHost := l.HostID() == s.member.ID
	if s.lobby == l {
		s.lobby = nil
	}
	if wasHost {
		// The host's departure ends the session for everyone.
		l.Broadcast(outFrame{Op: protocol.OpDeleteLobby, For: protocol.OpDeleteLobby,
			Value: protocol.LobbyAck{LobbyID: l.ID()}}, "")
		s.reg.Remove(l.ID())
		ilog.EventInfo(ctx, "lobby_closed_host_left", "lobbyID", l.ID())
	} else if l.MemberCount() == 0 {
		s.reg.Remove(l.ID())
	}
}

func (s *peerSession) handleDelete(ctx context.Context, value json.RawMessage) {
	var p protocol.LobbyAck
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid delete payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	if l.HostID() != s.member.ID {
		s.sendError("unauthorized", ErrNotLobbyHost.Error())
		return
	}
	l.Broadcast(outFrame{Op: protocol.OpDeleteLobby, For: protocol.OpDeleteLobby,
		Value: protocol.LobbyAck{LobbyID: l.ID()}}, "")
	s.reg.Remove(l.ID())
	s.lobby = nil
	ilog.EventInfo(ctx, "lobby_deleted", "lobbyID", l.ID())
}

func (s *peerSession) handleMembers(value json.RawMessage) {
	var p protocol.LobbyAck
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid members payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	s.member.Send(outFrame{Op: protocol.OpOK, For: protocol.OpGetLobbyMembers,
		Value: protocol.MembersPayload{LobbyID: l.ID(), MemberIDs: l.MemberIDs()}})
}

func (s *peerSession) handleChat(value json.RawMessage) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		s.sendError("invalid_request", "invalid chat payload")
		return
	}
	l, err := s.reg.Lobby(msg.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	l.AppendChat(msg)
	l.Broadcast(outFrame{Op: protocol.OpMessage, For: protocol.OpMessage, Value: msg}, "")
}

func (s *peerSession) handleChatHistory(value json.RawMessage) {
	var p protocol.LobbyAck
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid history payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	s.member.Send(outFrame{Op: protocol.OpOK, For: protocol.OpGetMessages,
		Value: protocol.MessagesPayload{LobbyID: l.ID(), Messages: l.Chat()}})
}

// handleMusicState relays a host broadcast. Non-host senders get an
// ERROR and the state is untouched.
func (s *peerSession) handleMusicState(ctx context.Context, value json.RawMessage) {
	var p protocol.MusicStatePayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid music state payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	if l.HostID() != s.member.ID {
		s.sendError("unauthorized", "only the host controls playback")
		return
	}
	l.ApplyMusicState(p.State, time.Now().UTC())
	l.Broadcast(outFrame{Op: protocol.OpSetMusicState, For: protocol.OpSetMusicState, Value: p}, s.member.ID)
}

// handleSyncMusic answers join-time reconciliation with the current
// state, elapsed offset included.
func (s *peerSession) handleSyncMusic(value json.RawMessage) {
	var p protocol.JoinLobbyPayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid sync payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	s.member.Send(outFrame{Op: protocol.OpSyncMusic, For: protocol.OpSyncMusic,
		Value: protocol.MusicStatePayload{LobbyID: l.ID(), State: l.StateSnapshot(time.Now().UTC())}})
	s.member.Send(outFrame{Op: protocol.OpSyncQueue, For: protocol.OpSyncQueue,
		Value: protocol.QueuePayload{LobbyID: l.ID(), Entries: l.Queue()}})
}

func (s *peerSession) handleQueueSync(value json.RawMessage) {
	var p protocol.QueuePayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid queue payload")
		return
	}
	l, err := s.reg.Lobby(p.LobbyID)
	if err != nil {
		s.sendError("lobby_not_found", err.Error())
		return
	}
	l.ReplaceQueue(p.Entries)
	l.Broadcast(outFrame{Op: protocol.OpSyncQueue, For: protocol.OpSyncQueue, Value: p}, s.member.ID)
}

// handleFriendRequest files a durable notification for the target and
// pushes it immediately when they are online.
func (s *peerSession) handleFriendRequest(ctx context.Context, value json.RawMessage) {
	var p protocol.FriendPayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid friend payload")
		return
	}
	fromName := s.member.ID
	if prof, err := s.dir.Profile(s.member.ID); err == nil {
		fromName = prof.DisplayName
	}
	n, err := s.dir.AddNotification(p.FriendID, protocol.NotifFriendRequest,
		protocol.FriendRequestPayload{FromUserID: s.member.ID, FromName: fromName})
	if err != nil {
		ilog.EventError(ctx, err, "friend_request_store_failed")
		return
	}
	s.reg.Push(p.FriendID, outFrame{Op: protocol.OpNotification, Value: n})
	s.member.Send(outFrame{Op: protocol.OpOK, Value: protocol.OKPayload{Message: "friend request sent"}})
}

func (s *peerSession) handleRemoveFriend(value json.RawMessage) {
	var p protocol.FriendPayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid friend payload")
		return
	}
	s.dir.RemoveFriend(p.UserID, p.FriendID)
	s.member.Send(outFrame{Op: protocol.OpOK, Value: protocol.OKPayload{Message: "friend removed"}})
}

func (s *peerSession) handlePlayRequest(ctx context.Context, value json.RawMessage) {
	var p protocol.RequestMusicPlayPayload
	if err := json.Unmarshal(value, &p); err != nil {
		s.sendError("invalid_request", "invalid play request payload")
		return
	}
	n, err := s.dir.AddNotification(p.ToUserID, protocol.NotifMusicPlayRequest,
		protocol.MusicPlayRequestPayload{FromUserID: s.member.ID, Track: p.Track})
	if err != nil {
		ilog.EventError(ctx, err, "play_request_store_failed")
		return
	}
	s.reg.Push(p.ToUserID, outFrame{Op: protocol.OpNotification, Value: n})
	s.member.Send(outFrame{Op: protocol.OpOK, Value: protocol.OKPayload{Message: "play request sent"}})
}

// cleanup runs when the socket dies. A dropped connection counts as a
// leave for whatever lobby the peer sat in.
func (s *peerSession) cleanup(ctx context.Context) {
	if s.member.ID != "" {
		s.reg.setOffline(s.member.ID, s.member)
	}
	l := s.lobby
	if l == nil {
		return
	}
	l.detach(s.member.ID)
	l.Broadcast(outFrame{Op: protocol.OpLeaveLobby, For: protocol.OpLeaveLobby,
		Value: protocol.LeavePayload{LobbyID: l.ID(), UserID: s.member.ID}}, "")
	if l.HostID() == s.member.ID {
		l.Broadcast(outFrame{Op: protocol.OpDeleteLobby, For: protocol.OpDeleteLobby,
			Value: protocol.LobbyAck{LobbyID: l.ID()}}, "")
		s.reg.Remove(l.ID())
		ilog.EventInfo(ctx, "lobby_closed_host_dropped", "lobbyID", l.ID())
	} else if l.MemberCount() == 0 {
		s.reg.Remove(l.ID())
	}
}

func (s *peerSession) sendError(code, message string) {
	s.member.Send(outFrame{Op: protocol.OpError, Value: protocol.ErrorPayload{
		Code: code, Message: message}})
}
