package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"auxlobby/internal/protocol"
	"auxlobby/internal/queue"
	"auxlobby/internal/session"
	"auxlobby/internal/transport"
)

type fakeDirectory struct {
	failDetail map[string]bool
}

func (d *fakeDirectory) LobbyDetail(_ context.Context, lobbyID string) (protocol.LobbySummary, error) {
	if d.failDetail[lobbyID] {
		return protocol.LobbySummary{}, errors.New("detail unavailable")
	}
	return protocol.LobbySummary{LobbyID: lobbyID, Name: "Lobby " + lobbyID, Listeners: 1}, nil
}

func (d *fakeDirectory) Profile(_ context.Context, userID string) (protocol.Profile, error) {
	return protocol.Profile{UserID: userID, DisplayName: "Name " + userID}, nil
}

type fixture struct {
	conn       *transport.Fake
	identity   *session.IdentityStore
	membership *session.MembershipStore
	playback   *session.PlaybackStore
	queue      *queue.Store
	engine     *Engine
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	f := &fixture{
		conn:       transport.NewFake(),
		identity:   session.NewIdentityStore(nil),
		membership: session.NewMembershipStore(nil),
		playback:   session.NewPlaybackStore(nil),
		queue:      queue.NewStore(),
	}
	f.identity.Set(protocol.Identity{UserID: userID, DisplayName: "User " + userID})
	f.engine = NewEngine(f.conn, f.identity, f.membership, f.playback, f.queue, &fakeDirectory{})
	f.conn.Open(context.Background())
	f.engine.Start(context.Background())
	return f
}

func (f *fixture) sentOps() []protocol.OpTag {
	var ops []protocol.OpTag
	for _, e := range f.conn.Sent() {
		ops = append(ops, e.Op)
	}
	return ops
}

func TestCreateBecomesHost(t *testing.T) {
	f := newFixture(t, "alice")

	var gotLobby string
	f.engine.Create(context.Background(), "Friday Mix", func(id string) { gotLobby = id })
	f.conn.Deliver(protocol.OpOK, protocol.OpCreateLobby, protocol.LobbyAck{LobbyID: "l1"})

	if gotLobby != "l1" {
		t.Fatalf("expected create callback with l1, got %q", gotLobby)
	}
	m := f.membership.Current()
	if !m.Joined || !m.IsHost || m.LobbyID != "l1" {
		t.Errorf("creator should be host of l1, got %+v", m)
	}
	if s := f.playback.Current(); s.Phase != protocol.PhaseEmpty {
		t.Errorf("playback should be cleared on create, got %s", s.Phase)
	}
}

func TestJoinMidSession(t *testing.T) {
	f := newFixture(t, "bob")

	f.engine.Join(context.Background(), "l1", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l1"})

	// Joining must fire the reconciliation request.
	var sawSync bool
	for _, op := range f.sentOps() {
		if op == protocol.OpSyncMusic {
			sawSync = true
		}
	}
	if !sawSync {
		t.Fatal("join must send a playback-sync request")
	}

	hostState := protocol.PlaybackState{
		TrackID: "t1", Title: "Song", Artist: "Band",
		PositionSeconds: 42, DurationSeconds: 300,
		VolumePercent: 100, Phase: protocol.PhasePlay,
	}
	f.conn.Deliver(protocol.OpSyncMusic, protocol.OpSyncMusic,
		protocol.MusicStatePayload{LobbyID: "l1", State: hostState})

	got := f.playback.Current()
	if got.TrackID != "t1" || got.Phase != protocol.PhasePlay || got.PositionSeconds != 42 {
		t.Errorf("joiner should adopt the host snapshot verbatim, got %+v", got)
	}

	// Non-host transport controls produce no outbound envelope.
	before := len(f.conn.Sent())
	if err := f.engine.Play(); !errors.Is(err, ErrNotHost) {
		t.Errorf("expected ErrNotHost, got %v", err)
	}
	if err := f.engine.Seek(10); !errors.Is(err, ErrNotHost) {
		t.Errorf("expected ErrNotHost, got %v", err)
	}
	if got := len(f.conn.Sent()); got != before {
		t.Errorf("non-host controls sent %d envelopes", got-before)
	}
}

func TestHostBroadcastsTransitions(t *testing.T) {
	f := newFixture(t, "alice")
	f.engine.Create(context.Background(), "Mix", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpCreateLobby, protocol.LobbyAck{LobbyID: "l1"})
	f.conn.Reset()

	if err := f.engine.SelectTrack(protocol.QueueEntry{TrackID: "t1", Title: "Song"}); err != nil {
		t.Fatalf("host select: %v", err)
	}
	sent := f.conn.Sent()
	if len(sent) != 1 || sent[0].Op != protocol.OpSetMusicState {
		t.Fatalf("host transition should broadcast SET_MUSIC_STATE, got %v", f.sentOps())
	}
}

func TestSoloControlsDoNotBroadcast(t *testing.T) {
	f := newFixture(t, "alice")
	f.conn.Reset()

	if err := f.engine.SelectTrack(protocol.QueueEntry{TrackID: "t1"}); err != nil {
		t.Fatalf("solo select: %v", err)
	}
	if got := len(f.conn.Sent()); got != 0 {
		t.Errorf("solo playback must stay local, sent %d envelopes", got)
	}
}

func TestVolumeNeverBroadcast(t *testing.T) {
	f := newFixture(t, "alice")
	f.engine.Create(context.Background(), "Mix", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpCreateLobby, protocol.LobbyAck{LobbyID: "l1"})
	f.conn.Reset()

	f.engine.SetVolume(15)
	if got := len(f.conn.Sent()); got != 0 {
		t.Errorf("volume is personal, sent %d envelopes", got)
	}
	if got := f.playback.Current().VolumePercent; got != 15 {
		t.Errorf("expected volume 15, got %d", got)
	}
}

func TestLeaveDisambiguation(t *testing.T) {
	f := newFixture(t, "bob")
	f.engine.Join(context.Background(), "l1", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l1"})

	rosterLen := make(chan int, 8)
	f.engine.SubscribeRoster(func(roster []protocol.Profile) { rosterLen <- len(roster) })
	f.conn.Deliver(protocol.OpOK, protocol.OpGetLobbyMembers,
		protocol.MembersPayload{LobbyID: "l1", MemberIDs: []string{"alice", "bob"}})
	waitForRoster(t, rosterLen, 2)

	// Someone else leaves: roster shrinks, membership is untouched.
	f.conn.Deliver(protocol.OpLeaveLobby, protocol.OpLeaveLobby,
		protocol.LeavePayload{LobbyID: "l1", UserID: "alice"})
	if m := f.membership.Current(); !m.Joined || m.LobbyID != "l1" {
		t.Fatalf("another member's leave must not evict us, got %+v", m)
	}
	if got := len(f.engine.Roster()); got != 1 {
		t.Errorf("roster should drop alice, got %d members", got)
	}

	// Our own leave echo clears everything.
	f.conn.Deliver(protocol.OpLeaveLobby, protocol.OpLeaveLobby,
		protocol.LeavePayload{LobbyID: "l1", UserID: "bob"})
	if m := f.membership.Current(); m.Joined || m.LobbyID != "" {
		t.Errorf("own leave should clear membership, got %+v", m)
	}
	if s := f.playback.Current(); s.Phase != protocol.PhaseEmpty {
		t.Errorf("own leave should clear playback, got %s", s.Phase)
	}
}

func waitForRoster(t *testing.T, ch chan int, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-ch:
			if n == want {
				return
			}
		case <-deadline:
			t.Fatalf("roster never reached %d members", want)
		}
	}
}

func TestStaleSnapshotDropped(t *testing.T) {
	f := newFixture(t, "bob")

	// Not in any lobby: a late broadcast must not apply.
	f.conn.Deliver(protocol.OpSetMusicState, protocol.OpSetMusicState,
		protocol.MusicStatePayload{LobbyID: "l1", State: protocol.PlaybackState{
			TrackID: "t1", Phase: protocol.PhasePlay}})
	if s := f.playback.Current(); s.Phase != protocol.PhaseEmpty {
		t.Errorf("stale snapshot applied: %+v", s)
	}

	// In a different lobby: same story.
	f.engine.Join(context.Background(), "l2", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l2"})
	f.conn.Deliver(protocol.OpSetMusicState, protocol.OpSetMusicState,
		protocol.MusicStatePayload{LobbyID: "l1", State: protocol.PlaybackState{
			TrackID: "t1", Phase: protocol.PhasePlay}})
	if s := f.playback.Current(); s.TrackID != "" {
		t.Errorf("snapshot for the wrong lobby applied: %+v", s)
	}
}

func TestQueueSyncAdoption(t *testing.T) {
	f := newFixture(t, "bob")
	f.engine.Join(context.Background(), "l1", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l1"})

	f.conn.Deliver(protocol.OpSyncQueue, protocol.OpSyncQueue, protocol.QueuePayload{
		LobbyID: "l1",
		Entries: []protocol.QueueEntry{{TrackID: "x"}, {TrackID: "y"}},
	})
	snap := f.queue.Snapshot()
	if len(snap) != 2 || snap[0].TrackID != "x" {
		t.Errorf("queue snapshot not adopted: %v", snap)
	}
}

func TestEnqueueBroadcastsSnapshot(t *testing.T) {
	f := newFixture(t, "bob")
	f.engine.Join(context.Background(), "l1", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l1"})
	f.conn.Reset()

	f.engine.Enqueue(protocol.QueueEntry{TrackID: "t9"})
	sent := f.conn.Sent()
	if len(sent) != 1 || sent[0].Op != protocol.OpSyncQueue {
		t.Fatalf("member enqueue should broadcast SYNC_QUEUE, got %v", f.sentOps())
	}
}

func TestTrackEndedAdvancesQueue(t *testing.T) {
	f := newFixture(t, "alice")
	f.engine.Create(context.Background(), "Mix", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpCreateLobby, protocol.LobbyAck{LobbyID: "l1"})
	f.engine.Enqueue(protocol.QueueEntry{TrackID: "next"})
	f.conn.Reset()

	f.engine.TrackEnded()
	if s := f.playback.Current(); s.TrackID != "next" || s.Phase != protocol.PhaseChangeTrack {
		t.Fatalf("expected CHANGE_TRACK to next, got %+v", s)
	}
	ops := f.sentOps()
	if len(ops) != 2 || ops[0] != protocol.OpSyncQueue || ops[1] != protocol.OpSetMusicState {
		t.Errorf("host pop should broadcast queue then state, got %v", ops)
	}

	// Nothing queued: drop to EMPTY.
	f.engine.TrackEnded()
	if s := f.playback.Current(); s.Phase != protocol.PhaseEmpty {
		t.Errorf("expected EMPTY when the queue runs dry, got %s", s.Phase)
	}
}

func TestSkipTo(t *testing.T) {
	f := newFixture(t, "alice")
	f.engine.Create(context.Background(), "Mix", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpCreateLobby, protocol.LobbyAck{LobbyID: "l1"})
	for _, id := range []string{"a", "b", "c", "d"} {
		f.engine.Enqueue(protocol.QueueEntry{TrackID: id})
	}

	if err := f.engine.SkipTo("c"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if s := f.playback.Current(); s.TrackID != "c" {
		t.Errorf("expected to be playing c, got %q", s.TrackID)
	}
	snap := f.queue.Snapshot()
	if len(snap) != 1 || snap[0].TrackID != "d" {
		t.Errorf("expected [d] left, got %v", snap)
	}
}

func TestDiscoverOmitsFailedDetails(t *testing.T) {
	f := newFixture(t, "bob")
	f.engine = NewEngine(f.conn, f.identity, f.membership, f.playback, f.queue,
		&fakeDirectory{failDetail: map[string]bool{"l2": true}})
	f.engine.Start(context.Background())

	results := make(chan []protocol.LobbySummary, 1)
	f.engine.Discover(context.Background(), func(s []protocol.LobbySummary) { results <- s })
	f.conn.Deliver(protocol.OpOK, protocol.OpGetLobbyIDs,
		protocol.LobbyIDsPayload{LobbyIDs: []string{"l1", "l2", "l3"}})

	select {
	case got := <-results:
		if len(got) != 2 {
			t.Fatalf("expected 2 summaries with l2 omitted, got %v", got)
		}
		for _, s := range got {
			if s.LobbyID == "l2" {
				t.Error("failed lobby must be omitted, not included empty")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("discovery callback never fired")
	}
}

func TestChatRoundTrip(t *testing.T) {
	f := newFixture(t, "bob")
	f.engine.Join(context.Background(), "l1", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l1"})

	var seen []string
	f.engine.SubscribeChat(func(m protocol.ChatMessage) { seen = append(seen, m.Body) })

	if _, err := f.engine.SendChat("hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	f.conn.Deliver(protocol.OpMessage, protocol.OpMessage, protocol.ChatMessage{
		LobbyID: "l1", SenderID: "alice", Sender: "Alice", Body: "hey"})
	f.conn.Deliver(protocol.OpMessage, protocol.OpMessage, protocol.ChatMessage{
		LobbyID: "lX", SenderID: "eve", Sender: "Eve", Body: "wrong lobby"})

	if len(seen) != 1 || seen[0] != "hey" {
		t.Errorf("expected only the matching lobby's message, got %v", seen)
	}
	if got := len(f.engine.Chat()); got != 1 {
		t.Errorf("expected 1 stored chat line, got %d", got)
	}
}

func TestOperationsRequireIdentity(t *testing.T) {
	f := &fixture{
		conn:       transport.NewFake(),
		identity:   session.NewIdentityStore(nil),
		membership: session.NewMembershipStore(nil),
		playback:   session.NewPlaybackStore(nil),
		queue:      queue.NewStore(),
	}
	f.engine = NewEngine(f.conn, f.identity, f.membership, f.playback, f.queue, &fakeDirectory{})
	f.conn.Open(context.Background())

	if _, err := f.engine.Create(context.Background(), "Mix", nil); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
	if _, err := f.engine.Join(context.Background(), "l1", nil); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
}

func TestLobbyDeletedClearsSession(t *testing.T) {
	f := newFixture(t, "bob")
	f.engine.Join(context.Background(), "l1", nil)
	f.conn.Deliver(protocol.OpOK, protocol.OpJoinLobby, protocol.LobbyAck{LobbyID: "l1"})

	f.conn.Deliver(protocol.OpDeleteLobby, protocol.OpDeleteLobby, protocol.LobbyAck{LobbyID: "l1"})
	if m := f.membership.Current(); m.Joined {
		t.Errorf("forced removal should clear membership, got %+v", m)
	}
}
