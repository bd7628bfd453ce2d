package lobbyserver

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// WSHandler upgrades plain net/http requests into peer sessions. It is
// mountable on any mux, which keeps it usable under httptest for
// engine round-trip tests.
type WSHandler struct {
	reg      *Registry
	dir      *Directory
	upgrader websocket.Upgrader
}

func NewWSHandler(reg *Registry, dir *Directory) *WSHandler {
	return &WSHandler{
		reg: reg,
		dir: dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("lobbyserver: upgrade failed: %v", err)
		return
	}
	ServeConn(r.Context(), h.reg, h.dir, conn)
}
