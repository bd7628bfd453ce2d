package transport

import (
	"context"
	"encoding/json"
	"sync"

	"auxlobby/internal/protocol"
)

// Fake is an in-memory Conn for tests. Deliver pushes an inbound
// envelope through the same dispatch core the websocket uses; sent
// envelopes are recorded instead of hitting a socket.
type Fake struct {
	mu     sync.Mutex
	open   bool
	sent   []protocol.Envelope
	router *router
}

func NewFake() *Fake {
	return &Fake{router: newRouter()}
}

func (f *Fake) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *Fake) Send(e protocol.Envelope) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return Dropped
	}
	f.sent = append(f.sent, e)
	return Sent
}

func (f *Fake) Handle(tag protocol.OpTag, h Handler) {
	f.router.handle(tag, h)
}

func (f *Fake) HandleNotify(tag protocol.OpTag, h Handler) {
	f.router.handleNotify(tag, h)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

// Deliver dispatches one inbound envelope synchronously.
func (f *Fake) Deliver(op, forTag protocol.OpTag, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	f.router.dispatch(context.Background(), protocol.InboundEnvelope{
		Op:    op,
		For:   forTag,
		Value: data,
	})
}

// Sent returns a copy of everything sent so far.
func (f *Fake) Sent() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

// Reset clears the sent log.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}
