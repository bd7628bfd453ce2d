package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/RanFeng/ilog"

	"auxlobby/internal/protocol"
)

// Handler consumes one inbound envelope. At most one handler is
// invoked per envelope.
type Handler func(protocol.InboundEnvelope)

// SendResult tells the caller whether an envelope made it onto the
// wire. Sends are at-most-once and fire-and-forget: Dropped means the
// envelope is gone, there is no queueing for later delivery.
type SendResult int

const (
	Sent SendResult = iota
	Dropped
)

// Conn is the process-wide duplex connection, injectable so tests can
// substitute an in-memory fake.
//
// The registry holds at most one handler per tag: registering a new
// handler for a tag silently replaces the previous one.
type Conn interface {
	Open(ctx context.Context) error
	Send(e protocol.Envelope) SendResult
	// Handle registers on the sync lane (lobby, playback, queue, chat).
	Handle(tag protocol.OpTag, h Handler)
	// HandleNotify registers on the notification lane. The two lanes
	// share the physical connection but dispatch independently, so a
	// handler churn on one cannot starve the other.
	HandleNotify(tag protocol.OpTag, h Handler)
	Close() error
}

// router is the shared dispatch core used by the websocket connection
// and the in-memory fake. Notification-lane tags win over sync-lane
// tags so social traffic can never be shadowed by a screen handler.
type router struct {
	mu     sync.RWMutex
	sync   map[protocol.OpTag]Handler
	notify map[protocol.OpTag]Handler
}

func newRouter() *router {
	return &router{
		sync:   make(map[protocol.OpTag]Handler),
		notify: make(map[protocol.OpTag]Handler),
	}
}

func (r *router) handle(tag protocol.OpTag, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync[tag] = h
}

func (r *router) handleNotify(tag protocol.OpTag, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify[tag] = h
}

// dispatch routes one parsed envelope. ERROR frames are logged and
// swallowed; unhandled tags are logged and dropped. The handler runs
// outside the registry lock so it may re-register freely.
func (r *router) dispatch(ctx context.Context, e protocol.InboundEnvelope) {
	if e.Op == protocol.OpError {
		var p protocol.ErrorPayload
		_ = json.Unmarshal(e.Value, &p)
		ilog.EventWarn(ctx, "protocol_error", "code", p.Code, "message", p.Message)
		return
	}
	tag := e.Tag()
	r.mu.RLock()
	h, ok := r.notify[tag]
	if !ok {
		h, ok = r.sync[tag]
	}
	r.mu.RUnlock()
	if !ok {
		ilog.EventWarn(ctx, "unhandled_envelope", "op", e.Op, "for", e.For)
		return
	}
	h(e)
}
