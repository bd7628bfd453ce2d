package lobby

import (
	"context"
	"encoding/json"

	"github.com/RanFeng/ilog"

	"auxlobby/internal/protocol"
	"auxlobby/internal/transport"
)

// canControl reports whether local transport-control input may drive
// the shared machine: the host may, a solo listener may, a non-host
// lobby member may not.
func (e *Engine) canControl() bool {
	m := e.membership.Current()
	return !m.Joined || m.IsHost
}

// broadcastState pushes the snapshot to the lobby when we are its
// host. Solo playback never leaves the process.
func (e *Engine) broadcastState(s protocol.PlaybackState) {
	m := e.membership.Current()
	if !m.Joined || !m.IsHost {
		return
	}
	e.conn.Send(protocol.Envelope{
		Op:    protocol.OpSetMusicState,
		Value: protocol.MusicStatePayload{LobbyID: m.LobbyID, State: s},
	})
}

func (e *Engine) broadcastQueue() {
	m := e.membership.Current()
	if !m.Joined {
		return
	}
	e.conn.Send(protocol.Envelope{
		Op:    protocol.OpSyncQueue,
		Value: protocol.QueuePayload{LobbyID: m.LobbyID, Entries: e.queue.Snapshot()},
	})
}

// Play resumes playback. Returns ErrNotHost, producing no outbound
// envelope, when a non-host member presses the control inside a lobby.
func (e *Engine) Play() error {
	if !e.canControl() {
		return ErrNotHost
	}
	e.broadcastState(e.playback.Play())
	return nil
}

func (e *Engine) Pause() error {
	if !e.canControl() {
		return ErrNotHost
	}
	e.broadcastState(e.playback.Pause())
	return nil
}

// Seek jumps to the offset. The wire snapshot carries SEEK with the
// target in PhaseArg; the stored state reverts to PLAY/PAUSE.
func (e *Engine) Seek(offsetSeconds float64) error {
	if !e.canControl() {
		return ErrNotHost
	}
	_, wire := e.playback.Seek(offsetSeconds)
	e.broadcastState(wire)
	return nil
}

// SetVolume is a personal preference: applied locally for host and
// member alike, never broadcast.
func (e *Engine) SetVolume(percent int) {
	e.playback.SetVolume(percent)
}

// SelectTrack starts a track directly, entering CHANGE_TRACK.
func (e *Engine) SelectTrack(entry protocol.QueueEntry) error {
	if !e.canControl() {
		return ErrNotHost
	}
	e.broadcastState(e.playback.SetTrack(entry))
	return nil
}

// MediaReady advances CHANGE_TRACK to PLAY once the media primitive
// reports the resource ready.
func (e *Engine) MediaReady(durationSeconds float64) {
	s := e.playback.MediaReady(durationSeconds)
	if s.Phase == protocol.PhasePlay {
		e.broadcastState(s)
	}
}

// Enqueue appends a track to the shared queue. Any member may mutate
// the queue; the resulting snapshot broadcast is last-writer-wins.
func (e *Engine) Enqueue(entry protocol.QueueEntry) {
	e.queue.Enqueue(entry)
	e.broadcastQueue()
}

// SkipTo pops queue entries until and including trackID and starts it.
// Changing the current track is a playback transition, so inside a
// lobby it stays host-only.
func (e *Engine) SkipTo(trackID string) error {
	if !e.canControl() {
		return ErrNotHost
	}
	var target *protocol.QueueEntry
	for _, entry := range e.queue.Snapshot() {
		if entry.TrackID == trackID {
			t := entry
			target = &t
			break
		}
	}
	if target == nil {
		return nil
	}
	if !e.queue.DequeueUntil(trackID) {
		return nil
	}
	e.broadcastQueue()
	e.broadcastState(e.playback.SetTrack(*target))
	return nil
}

// TrackEnded advances the machine when the current track finishes: pop
// the next entry and enter CHANGE_TRACK, or drop to EMPTY when nothing
// is queued. The host's pop is broadcast like any other transition.
func (e *Engine) TrackEnded() {
	if !e.canControl() {
		// Non-host members wait for the host's broadcast.
		return
	}
	next := e.queue.Dequeue()
	if next == nil {
		e.broadcastState(e.playback.Clear())
		return
	}
	e.broadcastQueue()
	e.broadcastState(e.playback.SetTrack(*next))
}

// RequestPlay asks another user to queue a track, delivered to them as
// an actionable notification.
func (e *Engine) RequestPlay(toUserID string, track protocol.QueueEntry) transport.SendResult {
	return e.conn.Send(protocol.Envelope{
		Op:    protocol.OpRequestMusicPlay,
		Value: protocol.RequestMusicPlayPayload{ToUserID: toUserID, Track: track},
	})
}

// onMusicState adopts host broadcasts and sync responses. Snapshots
// for a lobby we already left are discarded; membership is checked at
// apply time because nothing in the protocol prevents a late frame.
func (e *Engine) onMusicState(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var p protocol.MusicStatePayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "music_state_decode_failed", "err", err)
			return
		}
		m := e.membership.Current()
		if !m.Joined || m.LobbyID != p.LobbyID {
			ilog.EventWarn(ctx, "stale_music_state_dropped", "lobbyID", p.LobbyID)
			return
		}
		if m.IsHost {
			// We are authoritative; our own echo carries nothing new.
			return
		}
		if err := e.playback.Apply(p.State); err != nil {
			ilog.EventWarn(ctx, "music_state_rejected", "err", err)
		}
	}
}

func (e *Engine) onQueueSync(ctx context.Context) transport.Handler {
	return func(in protocol.InboundEnvelope) {
		var p protocol.QueuePayload
		if err := json.Unmarshal(in.Value, &p); err != nil {
			ilog.EventWarn(ctx, "queue_sync_decode_failed", "err", err)
			return
		}
		m := e.membership.Current()
		if !m.Joined || m.LobbyID != p.LobbyID {
			ilog.EventWarn(ctx, "stale_queue_sync_dropped", "lobbyID", p.LobbyID)
			return
		}
		e.queue.Replace(p.Entries)
	}
}
