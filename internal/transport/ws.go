package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"auxlobby/internal/protocol"
)

// WS is the production Conn over a single gorilla websocket. One
// instance exists per process lifetime; there is no reconnection, no
// retry and no backoff. Once the socket closes, sends drop silently
// past a log line until the process is restarted.
type WS struct {
	url      string
	identity func() (protocol.Identity, bool)

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	sendCh chan []byte
	router *router
}

// NewWS builds an unopened connection. identity, when it reports true,
// provides the rehydrated user used for the proactive CONNECT
// handshake; pass nil to skip the handshake.
func NewWS(url string, identity func() (protocol.Identity, bool)) *WS {
	return &WS{
		url:      url,
		identity: identity,
		sendCh:   make(chan []byte, 64),
		router:   newRouter(),
	}
}

func (w *WS) Open(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.conn = conn
	w.open = true
	w.mu.Unlock()

	go w.writeLoop()
	go w.readLoop(ctx)

	if w.identity != nil {
		if id, ok := w.identity(); ok {
			w.Send(protocol.Envelope{
				Op:    protocol.OpConnect,
				Value: protocol.ConnectPayload{UserID: id.UserID},
			})
		}
	}
	return nil
}

// Send serializes and enqueues one envelope. It never blocks and never
// queues past the write buffer: a closed socket or a full buffer drops
// the envelope and reports it.
func (w *WS) Send(e protocol.Envelope) SendResult {
	w.mu.Lock()
	open := w.open
	w.mu.Unlock()
	if !open {
		log.Printf("transport: send %s dropped, connection not open", e.Op)
		return Dropped
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("transport: send %s dropped, marshal error: %v", e.Op, err)
		return Dropped
	}
	select {
	case w.sendCh <- data:
		return Sent
	default:
		log.Printf("transport: send %s dropped, write buffer full", e.Op)
		return Dropped
	}
}

func (w *WS) Handle(tag protocol.OpTag, h Handler) {
	w.router.handle(tag, h)
}

func (w *WS) HandleNotify(tag protocol.OpTag, h Handler) {
	w.router.handleNotify(tag, h)
}

func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return nil
	}
	w.open = false
	return w.conn.Close()
}

func (w *WS) writeLoop() {
	for data := range w.sendCh {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("transport: write error: %v", err)
			return
		}
	}
}

func (w *WS) readLoop(ctx context.Context) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.open = false
		w.mu.Unlock()
		conn.Close()
	}()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("transport: read loop stopped: %v", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			log.Printf("transport: unmarshal error: %v", err)
			continue
		}
		w.router.dispatch(ctx, inbound)
	}
}
