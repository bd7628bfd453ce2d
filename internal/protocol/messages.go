package protocol

import "encoding/json"

// OpTag discriminates wire envelopes. The vocabulary is closed; an
// unknown tag on receipt is logged and dropped, never an error.
type OpTag string

const (
	OpConnect          OpTag = "CONNECT"
	OpCreateLobby      OpTag = "CREATE_LOBBY"
	OpJoinLobby        OpTag = "JOIN_LOBBY"
	OpLeaveLobby       OpTag = "LEAVE_LOBBY"
	OpDeleteLobby      OpTag = "DELETE_LOBBY"
	OpGetLobbyIDs      OpTag = "GET_LOBBY_IDS"
	OpGetLobbyMembers  OpTag = "GET_LOBBY_MEMBERS"
	OpMessage          OpTag = "MESSAGE"
	OpGetMessages      OpTag = "GET_MESSAGES"
	OpSetMusicState    OpTag = "SET_MUSIC_STATE"
	OpSyncMusic        OpTag = "SYNC_MUSIC"
	OpSyncQueue        OpTag = "SYNC_QUEUE"
	OpAddFriend        OpTag = "ADD_FRIEND"
	OpRemoveFriend     OpTag = "REMOVE_FRIEND"
	OpRequestMusicPlay OpTag = "REQUEST_MUSIC_PLAY"
	OpNotification     OpTag = "NOTIFICATION"
	OpOK               OpTag = "OK"
	OpError            OpTag = "ERROR"
)

// Envelope is an outbound frame. There is no sequence number and no
// correlation id; responses are matched by tag alone.
type Envelope struct {
	Op    OpTag       `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// InboundEnvelope is a received frame. For, when present, names the
// locally registered tag this frame answers; dispatch falls back to Op
// when For is empty.
type InboundEnvelope struct {
	Op    OpTag           `json:"op"`
	For   OpTag           `json:"for,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Tag is the dispatch key for an inbound frame.
func (e InboundEnvelope) Tag() OpTag {
	if e.For != "" {
		return e.For
	}
	return e.Op
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
