// Package hertzgate exposes the realtime gateway over a hertz server,
// the production entry point. The websocket upgrade comes from the
// hertz-contrib fork; the session logic is shared with the plain
// net/http handler.
package hertzgate

import (
	"context"
	"log"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"auxlobby/internal/lobbyserver"
)

// NewRouter mounts the gateway routes on a hertz server.
func NewRouter(h *server.Hertz, reg *lobbyserver.Registry, dir *lobbyserver.Directory) *server.Hertz {
	h.Use(recoveryMiddleware())

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	upgrader := websocket.HertzUpgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(ctx *app.RequestContext) bool {
			return true
		},
	}

	h.GET("/ws", func(c context.Context, ctx *app.RequestContext) {
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			lobbyserver.ServeConn(c, reg, dir, conn)
		})
		if err != nil {
			log.Printf("hertzgate: upgrade failed: %v", err)
		}
	})

	return h
}

func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}
