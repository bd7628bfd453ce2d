package session

import (
	"errors"
	"log"
	"sync"

	"auxlobby/internal/localstore"
	"auxlobby/internal/protocol"
)

var ErrInvalidSnapshot = errors.New("playback snapshot violates track/phase coupling")

// PlaybackStore runs the playback state machine. While in a lobby the
// authoritative copy lives with the host; everyone else adopts
// broadcast snapshots through Apply. The host-authority gate itself is
// not here — the lobby engine decides who may call the local mutators.
type PlaybackStore struct {
	mu        sync.RWMutex
	s         protocol.PlaybackState
	persist   *localstore.Store
	listeners []func(protocol.PlaybackState)
}

func NewPlaybackStore(persist *localstore.Store) *PlaybackStore {
	st := &PlaybackStore{s: protocol.EmptyPlayback(), persist: persist}
	if persist != nil {
		var s protocol.PlaybackState
		err := persist.Load(slotPlayback, &s)
		if err == nil && s.Valid() {
			st.s = s
		} else if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			log.Printf("session: playback rehydration failed: %v", err)
		}
	}
	return st
}

func (p *PlaybackStore) Current() protocol.PlaybackState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s
}

func (p *PlaybackStore) Subscribe(fn func(protocol.PlaybackState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SetTrack enters CHANGE_TRACK for the given track, from EMPTY or from
// any playing state. PhaseArg resets to zero.
func (p *PlaybackStore) SetTrack(e protocol.QueueEntry) protocol.PlaybackState {
	return p.mutate(func(s *protocol.PlaybackState) {
		s.TrackID = e.TrackID
		s.Title = e.Title
		s.Artist = e.Artist
		s.ImageRef = e.ImageRef
		s.PositionSeconds = 0
		s.DurationSeconds = 0
		s.Phase = protocol.PhaseChangeTrack
		s.PhaseArg = 0
	})
}

// MediaReady auto-advances CHANGE_TRACK to PLAY once the platform
// media primitive has the resource.
func (p *PlaybackStore) MediaReady(durationSeconds float64) protocol.PlaybackState {
	return p.mutate(func(s *protocol.PlaybackState) {
		if s.Phase != protocol.PhaseChangeTrack {
			return
		}
		s.DurationSeconds = durationSeconds
		s.Phase = protocol.PhasePlay
	})
}

func (p *PlaybackStore) Play() protocol.PlaybackState {
	return p.mutate(func(s *protocol.PlaybackState) {
		if s.Phase == protocol.PhasePause {
			s.Phase = protocol.PhasePlay
		}
	})
}

func (p *PlaybackStore) Pause() protocol.PlaybackState {
	return p.mutate(func(s *protocol.PlaybackState) {
		if s.Phase == protocol.PhasePlay {
			s.Phase = protocol.PhasePause
		}
	})
}

// Seek moves the position. The stored state keeps whichever of
// PLAY/PAUSE was active; the returned broadcast snapshot carries SEEK
// with the offset in PhaseArg so remote media elements jump.
func (p *PlaybackStore) Seek(offsetSeconds float64) (protocol.PlaybackState, protocol.PlaybackState) {
	p.mu.Lock()
	if p.s.Phase != protocol.PhasePlay && p.s.Phase != protocol.PhasePause {
		s := p.s
		p.mu.Unlock()
		return s, s
	}
	p.s.PositionSeconds = offsetSeconds
	p.s.PhaseArg = offsetSeconds
	stored := p.s
	wire := stored
	wire.Phase = protocol.PhaseSeek
	listeners := p.listeners
	p.mu.Unlock()
	p.save(stored)
	for _, fn := range listeners {
		fn(stored)
	}
	return stored, wire
}

// SetVolume mutates the personal volume preference. Volume is never
// replicated to other lobby members.
func (p *PlaybackStore) SetVolume(percent int) protocol.PlaybackState {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return p.mutate(func(s *protocol.PlaybackState) {
		s.VolumePercent = percent
	})
}

// Position updates elapsed time as the media plays. Not broadcast.
func (p *PlaybackStore) Position(seconds float64) protocol.PlaybackState {
	return p.mutate(func(s *protocol.PlaybackState) {
		if s.Phase == protocol.PhasePlay || s.Phase == protocol.PhasePause {
			s.PositionSeconds = seconds
		}
	})
}

// Clear drops to EMPTY, keeping the volume preference.
func (p *PlaybackStore) Clear() protocol.PlaybackState {
	return p.mutate(func(s *protocol.PlaybackState) {
		vol := s.VolumePercent
		*s = protocol.EmptyPlayback()
		s.VolumePercent = vol
	})
}

// Apply adopts a remote snapshot. SEEK snapshots are interpreted (jump
// to PhaseArg, keep the local PLAY/PAUSE); everything else is adopted
// verbatim, volume excepted. Applying the same snapshot twice is a
// no-op the second time.
func (p *PlaybackStore) Apply(remote protocol.PlaybackState) error {
	if !remote.Valid() {
		return ErrInvalidSnapshot
	}
	p.mutate(func(s *protocol.PlaybackState) {
		vol := s.VolumePercent
		if remote.Phase == protocol.PhaseSeek {
			s.PositionSeconds = remote.PhaseArg
			s.PhaseArg = remote.PhaseArg
			if s.Phase != protocol.PhasePlay && s.Phase != protocol.PhasePause {
				s.Phase = protocol.PhasePlay
			}
			s.TrackID = remote.TrackID
			s.Title = remote.Title
			s.Artist = remote.Artist
			s.ImageRef = remote.ImageRef
			s.DurationSeconds = remote.DurationSeconds
		} else {
			*s = remote
		}
		s.VolumePercent = vol
	})
	return nil
}

func (p *PlaybackStore) mutate(fn func(*protocol.PlaybackState)) protocol.PlaybackState {
	p.mu.Lock()
	fn(&p.s)
	s := p.s
	listeners := p.listeners
	p.mu.Unlock()
	p.save(s)
	for _, l := range listeners {
		l(s)
	}
	return s
}

func (p *PlaybackStore) save(s protocol.PlaybackState) {
	if p.persist == nil {
		return
	}
	if err := p.persist.Save(slotPlayback, s); err != nil {
		log.Printf("session: playback persist failed: %v", err)
	}
}
