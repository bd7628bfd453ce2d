package lobby

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RanFeng/ilog"

	"auxlobby/internal/protocol"
	"auxlobby/internal/transport"
)

// SendChat posts one line to the lobby chat stream.
func (e *Engine) SendChat(body string) (transport.SendResult, error) {
	id, ok := e.identity.Current()
	if !ok {
		return transport.Dropped, ErrNoIdentity
	}
	m := e.membership.Current()
	if !m.Joined {
		return transport.Dropped, ErrNotInLobby
	}
	res := e.conn.Send(protocol.Envelope{
		Op: protocol.OpMessage,
		Value: protocol.ChatMessage{
			LobbyID:  m.LobbyID,
			SenderID: id.UserID,
			Sender:   id.DisplayName,
			Body:     body,
			SentAt:   time.Now().UTC(),
		},
	})
	return res, nil
}

// FetchChat pulls the lobby's chat history, replacing the local copy.
func (e *Engine) FetchChat(ctx context.Context) transport.SendResult {
	m := e.membership.Current()
	if !m.Joined {
		return transport.Dropped
	}
	e.conn.Handle(protocol.OpGetMessages, func(in protocol.InboundEnvelope) {
		var p protocol.MessagesPayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "chat_history_decode_failed", "err", err)
			return
		}
		if cur := e.membership.Current(); !cur.Joined || cur.LobbyID != p.LobbyID {
			return
		}
		e.mu.Lock()
		e.chat = p.Messages
		subs := e.chatSubs
		e.mu.Unlock()
		for _, fn := range subs {
			for _, msg := range p.Messages {
				fn(msg)
			}
		}
	})
	return e.conn.Send(protocol.Envelope{
		Op:    protocol.OpGetMessages,
		Value: protocol.LobbyAck{LobbyID: m.LobbyID},
	})
}

// Chat returns the locally known chat lines, oldest first.
func (e *Engine) Chat() []protocol.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.ChatMessage, len(e.chat))
	copy(out, e.chat)
	return out
}

func (e *Engine) SubscribeChat(fn func(protocol.ChatMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chatSubs = append(e.chatSubs, fn)
}

func (e *Engine) onChat(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var msg protocol.ChatMessage
		if err := json.Unmarshal(in.Value, &msg); err != nil {
			ilog.EventWarn(ctx, "chat_decode_failed", "err", err)
			return
		}
		m := e.membership.Current()
		if !m.Joined || m.LobbyID != msg.LobbyID {
			return
		}
		e.mu.Lock()
		e.chat = append(e.chat, msg)
		subs := e.chatSubs
		e.mu.Unlock()
		for _, fn := range subs {
			fn(msg)
		}
	}
}
