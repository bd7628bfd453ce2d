package protocol

import (
	"encoding/json"
	"time"
)

// Identity is the current user as reported by the backend.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

// LobbyMembership tracks where the local peer stands.
// Invariants: IsHost implies Joined; !Joined implies LobbyID == "".
type LobbyMembership struct {
	LobbyID string `json:"lobbyId"`
	Joined  bool   `json:"joined"`
	IsHost  bool   `json:"isHost"`
}

func (m LobbyMembership) Valid() bool {
	if m.IsHost && !m.Joined {
		return false
	}
	if !m.Joined && m.LobbyID != "" {
		return false
	}
	return true
}

// QueueEntry is one pending track. Duplicates are allowed.
type QueueEntry struct {
	TrackID  string `json:"trackId"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	ImageRef string `json:"imageRef"`
}

// ChatMessage is one lobby chat line.
type ChatMessage struct {
	LobbyID  string    `json:"lobbyId"`
	SenderID string    `json:"senderId"`
	Sender   string    `json:"sender"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sentAt"`
}

// NotifKind classifies a social notification.
type NotifKind string

const (
	NotifFriendRequest    NotifKind = "FRIEND_REQUEST"
	NotifMusicPlayRequest NotifKind = "MUSIC_PLAY_REQUEST"
)

// Notification is a durable social event. It stays in the backend's
// store until explicitly deleted after accept or reject.
type Notification struct {
	ID      string          `json:"id"`
	Kind    NotifKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// FriendRequestPayload is the payload of a NotifFriendRequest.
type FriendRequestPayload struct {
	FromUserID string `json:"fromUserId"`
	FromName   string `json:"fromName"`
}

// MusicPlayRequestPayload asks the recipient to queue a track.
type MusicPlayRequestPayload struct {
	FromUserID string     `json:"fromUserId"`
	Track      QueueEntry `json:"track"`
}

// LobbySummary is the discovery detail for one lobby, resolved via the
// collaborator REST API.
type LobbySummary struct {
	LobbyID    string `json:"lobbyId"`
	Name       string `json:"name"`
	IconRef    string `json:"iconRef"`
	Listeners  int    `json:"listeners"`
	NowPlaying string `json:"nowPlaying"`
}

// Profile is a resolved lobby member.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

// Wire payloads for the lobby membership protocol.

type ConnectPayload struct {
	UserID string `json:"userId"`
}

type CreateLobbyPayload struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

type JoinLobbyPayload struct {
	LobbyID string `json:"lobbyId"`
	UserID  string `json:"userId"`
}

type LobbyAck struct {
	LobbyID string `json:"lobbyId"`
}

// LeavePayload doubles as the leave request and the broadcast telling
// everyone (the leaver included) who departed.
type LeavePayload struct {
	LobbyID string `json:"lobbyId"`
	UserID  string `json:"userId"`
}

type LobbyIDsPayload struct {
	LobbyIDs []string `json:"lobbyIds"`
}

type MembersPayload struct {
	LobbyID   string   `json:"lobbyId"`
	MemberIDs []string `json:"memberIds"`
}

type MessagesPayload struct {
	LobbyID  string        `json:"lobbyId"`
	Messages []ChatMessage `json:"messages"`
}

type RequestMusicPlayPayload struct {
	ToUserID string     `json:"toUserId"`
	Track    QueueEntry `json:"track"`
}

type FriendPayload struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
}

type OKPayload struct {
	Message string `json:"message"`
}
