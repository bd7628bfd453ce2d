// Package notify consumes the social lane of the inbound stream: two
// lifecycles sharing one connection with the synchronization traffic
// but dispatched independently. OK frames are ephemeral — rendered
// once, never persisted. NOTIFICATION frames are durable — they sit in
// the backend's store until accepted or rejected, and the bulk fetch
// at session start is the only redelivery mechanism.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RanFeng/ilog"

	"auxlobby/internal/protocol"
	"auxlobby/internal/session"
	"auxlobby/internal/transport"
)

// API is the slice of the collaborator REST surface the center needs.
type API interface {
	Notifications(ctx context.Context, userID string) ([]protocol.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	AddFriend(ctx context.Context, userID, friendID string) error
}

type Center struct {
	conn     transport.Conn
	api      API
	identity *session.IdentityStore
	enqueue  func(protocol.QueueEntry)

	mu             sync.Mutex
	pending        map[string]protocol.Notification
	ephemeralSubs  []func(string)
	actionableSubs []func(protocol.Notification)
}

// NewCenter wires the social lane. enqueue is invoked when a
// play-request is accepted; the requested track lands in the local
// queue.
func NewCenter(conn transport.Conn, api API, identity *session.IdentityStore, enqueue func(protocol.QueueEntry)) *Center {
	return &Center{
		conn:     conn,
		api:      api,
		identity: identity,
		enqueue:  enqueue,
		pending:  make(map[string]protocol.Notification),
	}
}

// Start registers both lanes and, when an identity is present, pulls
// the durable notifications that accumulated while we were offline.
func (c *Center) Start(ctx context.Context) {
	c.conn.HandleNotify(protocol.OpNotification, c.onNotification(ctx))
	c.conn.HandleNotify(protocol.OpOK, c.onOK(ctx))

	id, ok := c.identity.Current()
	if !ok {
		return
	}
	pending, err := c.api.Notifications(ctx, id.UserID)
	if err != nil {
		ilog.EventWarn(ctx, "notification_backlog_fetch_failed", "err", err)
		return
	}
	c.mu.Lock()
	subs := c.actionableSubs
	for _, n := range pending {
		c.pending[n.ID] = n
	}
	c.mu.Unlock()
	for _, n := range pending {
		for _, fn := range subs {
			fn(n)
		}
	}
}

// SubscribeEphemeral observes transient informational messages.
func (c *Center) SubscribeEphemeral(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ephemeralSubs = append(c.ephemeralSubs, fn)
}

// SubscribeActionable observes notifications awaiting accept/reject.
func (c *Center) SubscribeActionable(fn func(protocol.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actionableSubs = append(c.actionableSubs, fn)
}

// Pending returns the durable notifications not yet acted on.
func (c *Center) Pending() []protocol.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Notification, 0, len(c.pending))
	for _, n := range c.pending {
		out = append(out, n)
	}
	return out
}

// Accept performs the notification's side effect and then dismisses
// it: exactly one collaborator call, then exactly one delete. A failed
// side effect leaves the notification pending.
func (c *Center) Accept(ctx context.Context, id string) error {
	c.mu.Lock()
	n, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("notification %s not pending", id)
	}
	switch n.Kind {
	case protocol.NotifFriendRequest:
		var p protocol.FriendRequestPayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return fmt.Errorf("accept %s: %w", id, err)
		}
		me, _ := c.identity.Current()
		if err := c.api.AddFriend(ctx, me.UserID, p.FromUserID); err != nil {
			return fmt.Errorf("accept %s: %w", id, err)
		}
	case protocol.NotifMusicPlayRequest:
		var p protocol.MusicPlayRequestPayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return fmt.Errorf("accept %s: %w", id, err)
		}
		if c.enqueue != nil {
			c.enqueue(p.Track)
		}
	default:
		ilog.EventWarn(ctx, "unknown_notification_kind", "kind", n.Kind)
	}
	return c.dismiss(ctx, id)
}

// Reject dismisses without the side effect.
func (c *Center) Reject(ctx context.Context, id string) error {
	c.mu.Lock()
	_, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("notification %s not pending", id)
	}
	return c.dismiss(ctx, id)
}

func (c *Center) dismiss(ctx context.Context, id string) error {
	if err := c.api.DeleteNotification(ctx, id); err != nil {
		return fmt.Errorf("dismiss %s: %w", id, err)
	}
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	return nil
}

// SendFriendRequest asks the server to notify another user.
func (c *Center) SendFriendRequest(friendID string) (transport.SendResult, error) {
	id, ok := c.identity.Current()
	if !ok {
		return transport.Dropped, fmt.Errorf("no identity")
	}
	return c.conn.Send(protocol.Envelope{
		Op:    protocol.OpAddFriend,
		Value: protocol.FriendPayload{UserID: id.UserID, FriendID: friendID},
	}), nil
}

// RemoveFriend drops a friendship server-side.
func (c *Center) RemoveFriend(friendID string) (transport.SendResult, error) {
	id, ok := c.identity.Current()
	if !ok {
		return transport.Dropped, fmt.Errorf("no identity")
	}
	return c.conn.Send(protocol.Envelope{
		Op:    protocol.OpRemoveFriend,
		Value: protocol.FriendPayload{UserID: id.UserID, FriendID: friendID},
	}), nil
}

func (c *Center) onNotification(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var n protocol.Notification
		if err := json.Unmarshal(in.Value, &n); err != nil {
			ilog.EventWarn(ctx, "notification_decode_failed", "err", err)
			return
		}
		c.mu.Lock()
		c.pending[n.ID] = n
		subs := c.actionableSubs
		c.mu.Unlock()
		for _, fn := range subs {
			fn(n)
		}
	}
}

func (c *Center) onOK(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var p protocol.OKPayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "ok_decode_failed", "err", err)
			return
		}
		c.mu.Lock()
		subs := c.ephemeralSubs
		c.mu.Unlock()
		for _, fn := range subs {
			fn(p.Message)
		}
	}
}
