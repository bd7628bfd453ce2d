// Package collabclient consumes the external collaborator REST API:
// lobby detail, user profiles, durable notifications and friendships.
// Every call is plain request/response JSON; failures are reported to
// the caller, who degrades per-item rather than propagating.
package collabclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	hproto "github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"auxlobby/internal/protocol"
)

type Client struct {
	base string
	http *client.Client
}

// New builds a client against the configured HTTP base URL.
func New(baseURL string) (*Client, error) {
	c, err := client.NewClient(client.WithDialTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("collab client: %w", err)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: c}, nil
}

func (c *Client) LobbyDetail(ctx context.Context, lobbyID string) (protocol.LobbySummary, error) {
	var out protocol.LobbySummary
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/lobbies/%s", c.base, lobbyID), &out)
	return out, err
}

func (c *Client) Profile(ctx context.Context, userID string) (protocol.Profile, error) {
	var out protocol.Profile
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/users/%s", c.base, userID), &out)
	return out, err
}

// Notifications fetches the pending durable notifications for a user.
// This bulk fetch at session start is the only redelivery mechanism
// for requests sent while the recipient was offline.
func (c *Client) Notifications(ctx context.Context, userID string) ([]protocol.Notification, error) {
	var out []protocol.Notification
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/users/%s/notifications", c.base, userID), &out)
	return out, err
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, consts.MethodDelete, fmt.Sprintf("%s/api/notifications/%s", c.base, id), nil, nil)
}

func (c *Client) AddFriend(ctx context.Context, userID, friendID string) error {
	body := protocol.FriendPayload{UserID: userID, FriendID: friendID}
	return c.do(ctx, consts.MethodPost, fmt.Sprintf("%s/api/friends", c.base), body, nil)
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.do(ctx, consts.MethodGet, url, nil, out)
}

func (c *Client) do(ctx context.Context, method, url string, body, out interface{}) error {
	req := hproto.AcquireRequest()
	resp := hproto.AcquireResponse()
	defer func() {
		hproto.ReleaseRequest(req)
		hproto.ReleaseResponse(resp)
	}()
	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, url, err)
		}
		req.SetBody(data)
		req.Header.SetContentTypeBytes([]byte("application/json"))
	}
	if err := c.http.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, url, err)
		}
	}
	return nil
}
