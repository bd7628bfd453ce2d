package protocol

// Phase is the playback state machine's current mode.
type Phase string

const (
	PhasePlay        Phase = "PLAY"
	PhasePause       Phase = "PAUSE"
	PhaseChangeTrack Phase = "CHANGE_TRACK"
	PhaseSeek        Phase = "SEEK"
	PhaseSetVolume   Phase = "SET_VOLUME"
	PhaseEmpty       Phase = "EMPTY"
)

// PlaybackState is the replicated playback snapshot. One authoritative
// copy lives with the lobby host; every other member mirrors it by
// value. Invariant: TrackID == "" exactly when Phase == PhaseEmpty.
type PlaybackState struct {
	TrackID         string  `json:"trackId"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	ImageRef        string  `json:"imageRef"`
	PositionSeconds float64 `json:"positionSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	VolumePercent   int     `json:"volumePercent"`
	Phase           Phase   `json:"phase"`
	PhaseArg        float64 `json:"phaseArg"`
}

// EmptyPlayback is the cleared state every session starts from.
func EmptyPlayback() PlaybackState {
	return PlaybackState{Phase: PhaseEmpty, VolumePercent: 100}
}

// Valid reports whether the state honors the track/phase coupling.
func (s PlaybackState) Valid() bool {
	if s.TrackID == "" {
		return s.Phase == PhaseEmpty
	}
	return s.Phase != PhaseEmpty
}

// MusicStatePayload carries a playback snapshot on the wire together
// with the lobby it belongs to, so receivers can discard snapshots for
// a lobby they already left.
type MusicStatePayload struct {
	LobbyID string        `json:"lobbyId"`
	State   PlaybackState `json:"state"`
}

// QueuePayload is the wholesale queue snapshot; last writer wins.
type QueuePayload struct {
	LobbyID string       `json:"lobbyId"`
	Entries []QueueEntry `json:"entries"`
}
