// Package collabapi serves the conventional request/response REST
// surface the engine consumes: lobby detail, profiles, durable
// notifications and friendships.
package collabapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"auxlobby/internal/lobbyserver"
	"auxlobby/internal/protocol"
)

type Server struct {
	reg    *lobbyserver.Registry
	dir    *lobbyserver.Directory
	router *echo.Echo
}

func NewServer(reg *lobbyserver.Registry, dir *lobbyserver.Directory) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{reg: reg, dir: dir, router: e}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/api/lobbies/:lobbyId", s.handleLobbyDetail)
	e.GET("/api/users/:userId", s.handleProfile)
	e.GET("/api/users/:userId/notifications", s.handleNotifications)
	e.DELETE("/api/notifications/:id", s.handleDeleteNotification)
	e.POST("/api/friends", s.handleAddFriend)

	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving on addr.
func (s *Server) Start(addr string) error {
	return s.router.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

func (s *Server) handleLobbyDetail(c echo.Context) error {
	summary, err := s.reg.Summary(c.Param("lobbyId"))
	if err != nil {
		if errors.Is(err, lobbyserver.ErrLobbyNotFound) {
			return respondError(c, http.StatusNotFound, "lobby_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "detail_failed", err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleProfile(c echo.Context) error {
	p, err := s.dir.Profile(c.Param("userId"))
	if err != nil {
		return respondError(c, http.StatusNotFound, "user_not_found", err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dir.Notifications(c.Param("userId")))
}

func (s *Server) handleDeleteNotification(c echo.Context) error {
	if err := s.dir.DeleteNotification(c.Param("id")); err != nil {
		return respondError(c, http.StatusNotFound, "notification_not_found", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAddFriend(c echo.Context) error {
	var payload protocol.FriendPayload
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if payload.UserID == "" || payload.FriendID == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "userId and friendId are required")
	}
	s.dir.AddFriend(payload.UserID, payload.FriendID)
	return c.NoContent(http.StatusNoContent)
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.ErrorPayload{Code: code, Message: message})
}
