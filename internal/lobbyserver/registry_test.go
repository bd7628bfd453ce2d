package lobbyserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"auxlobby/internal/protocol"
)

func TestCreateLobbyAttachesHost(t *testing.T) {
	reg := NewRegistry()
	host := NewMember("alice")

	l := reg.CreateLobby(context.Background(), "Friday Mix", host)
	if l.HostID() != "alice" {
		t.Errorf("expected alice as host, got %q", l.HostID())
	}
	if got := l.MemberCount(); got != 1 {
		t.Errorf("expected 1 member after create, got %d", got)
	}
	if got := len(reg.IDs()); got != 1 {
		t.Errorf("expected 1 active lobby, got %d", got)
	}
	if s := l.StateSnapshot(time.Now()); s.Phase != protocol.PhaseEmpty {
		t.Errorf("new lobby should start EMPTY, got %s", s.Phase)
	}
}

func TestJoinAndRemove(t *testing.T) {
	reg := NewRegistry()
	l := reg.CreateLobby(context.Background(), "Mix", NewMember("alice"))

	if _, err := reg.Join(context.Background(), "deadbeef", NewMember("bob")); !errors.Is(err, ErrLobbyNotFound) {
		t.Errorf("expected ErrLobbyNotFound, got %v", err)
	}

	joined, err := reg.Join(context.Background(), l.ID(), NewMember("bob"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := joined.MemberCount(); got != 2 {
		t.Errorf("expected 2 members, got %d", got)
	}

	reg.Remove(l.ID())
	if _, err := reg.Lobby(l.ID()); !errors.Is(err, ErrLobbyNotFound) {
		t.Errorf("removed lobby still resolvable: %v", err)
	}
}

func TestStateSnapshotElapsed(t *testing.T) {
	l := newLobby("l1", "Mix", "alice", time.Now())
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	l.ApplyMusicState(protocol.PlaybackState{
		TrackID: "t1", Title: "Song", Artist: "Band",
		PositionSeconds: 10, DurationSeconds: 180,
		Phase: protocol.PhasePlay, VolumePercent: 100,
	}, t0)

	if got := l.StateSnapshot(t0.Add(5 * time.Second)).PositionSeconds; got != 15 {
		t.Errorf("expected position 15 after 5s of PLAY, got %v", got)
	}

	// The offset never runs past the end of the track.
	if got := l.StateSnapshot(t0.Add(time.Hour)).PositionSeconds; got != 180 {
		t.Errorf("expected position capped at 180, got %v", got)
	}

	// A paused lobby does not drift.
	l.ApplyMusicState(protocol.PlaybackState{
		TrackID: "t1", PositionSeconds: 30, DurationSeconds: 180,
		Phase: protocol.PhasePause, VolumePercent: 100,
	}, t0)
	if got := l.StateSnapshot(t0.Add(time.Hour)).PositionSeconds; got != 30 {
		t.Errorf("expected PAUSE to hold at 30, got %v", got)
	}
}

func TestSummary(t *testing.T) {
	reg := NewRegistry()
	l := reg.CreateLobby(context.Background(), "Late Night", NewMember("alice"))
	reg.Join(context.Background(), l.ID(), NewMember("bob"))

	s, err := reg.Summary(l.ID())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Name != "Late Night" || s.Listeners != 2 || s.NowPlaying != "" {
		t.Errorf("unexpected idle summary: %+v", s)
	}

	l.ApplyMusicState(protocol.PlaybackState{
		TrackID: "t1", Title: "Song", Artist: "Band",
		Phase: protocol.PhasePlay, VolumePercent: 100,
	}, time.Now())
	s, _ = reg.Summary(l.ID())
	if s.NowPlaying != "Band - Song" {
		t.Errorf("expected now-playing line, got %q", s.NowPlaying)
	}

	if _, err := reg.Summary("deadbeef"); !errors.Is(err, ErrLobbyNotFound) {
		t.Errorf("expected ErrLobbyNotFound, got %v", err)
	}
}

func TestBroadcastSkipsAuthor(t *testing.T) {
	l := newLobby("l1", "Mix", "alice", time.Now())
	alice := NewMember("alice")
	bob := NewMember("bob")
	l.attach(alice)
	l.attach(bob)

	l.Broadcast(map[string]string{"op": "MESSAGE"}, "alice")

	select {
	case <-alice.Outbox():
		t.Error("author must not receive its own skipped broadcast")
	default:
	}
	select {
	case data := <-bob.Outbox():
		var frame map[string]string
		if err := json.Unmarshal(data, &frame); err != nil || frame["op"] != "MESSAGE" {
			t.Errorf("bad broadcast frame: %s", data)
		}
	default:
		t.Error("bob should have received the broadcast")
	}
}

func TestBroadcastDropsWhenMemberStalls(t *testing.T) {
	l := newLobby("l1", "Mix", "alice", time.Now())
	slow := NewMember("slow")
	l.attach(slow)

	// Fill the outbox past its buffer; the lobby must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			l.Broadcast(protocol.OKPayload{Message: "x"}, "")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a stalled member")
	}
}

func TestChatRing(t *testing.T) {
	l := newLobby("l1", "Mix", "alice", time.Now())
	for i := 0; i < chatHistoryCap+25; i++ {
		l.AppendChat(protocol.ChatMessage{LobbyID: "l1", SenderID: "alice", Body: "line"})
	}
	if got := len(l.Chat()); got != chatHistoryCap {
		t.Errorf("expected chat trimmed to %d, got %d", chatHistoryCap, got)
	}
}

func TestQueueLastWriterWins(t *testing.T) {
	l := newLobby("l1", "Mix", "alice", time.Now())
	l.ReplaceQueue([]protocol.QueueEntry{{TrackID: "a"}, {TrackID: "b"}})
	l.ReplaceQueue([]protocol.QueueEntry{{TrackID: "c"}})
	q := l.Queue()
	if len(q) != 1 || q[0].TrackID != "c" {
		t.Errorf("expected [c], got %v", q)
	}
}

func TestPushReachesOnlyOnlineUsers(t *testing.T) {
	reg := NewRegistry()
	bob := NewMember("bob")
	reg.setOnline("bob", bob)

	if !reg.Push("bob", protocol.OKPayload{Message: "hi"}) {
		t.Error("push to an online user should succeed")
	}
	select {
	case <-bob.Outbox():
	default:
		t.Error("pushed frame not queued")
	}

	if reg.Push("carol", protocol.OKPayload{Message: "hi"}) {
		t.Error("push to an offline user should report false")
	}

	// A stale connection must not knock a newer one offline.
	bob2 := NewMember("bob")
	reg.setOnline("bob", bob2)
	reg.setOffline("bob", bob)
	if !reg.Push("bob", protocol.OKPayload{Message: "again"}) {
		t.Error("newer connection should still be online")
	}
}

func TestDirectoryNotifications(t *testing.T) {
	dir := NewDirectory()
	n, err := dir.AddNotification("bob", protocol.NotifFriendRequest,
		protocol.FriendRequestPayload{FromUserID: "alice", FromName: "Alice"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if n.ID == "" {
		t.Fatal("notification id not assigned")
	}

	list := dir.Notifications("bob")
	if len(list) != 1 || list[0].ID != n.ID {
		t.Fatalf("expected the stored notification, got %v", list)
	}
	if got := dir.Notifications("alice"); len(got) != 0 {
		t.Errorf("notification leaked to the wrong user: %v", got)
	}

	if err := dir.DeleteNotification(n.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := dir.Notifications("bob"); len(got) != 0 {
		t.Errorf("deleted notification still listed: %v", got)
	}
	if err := dir.DeleteNotification(n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete should fail, got %v", err)
	}
}

func TestDirectoryFriendship(t *testing.T) {
	dir := NewDirectory()
	dir.AddFriend("alice", "bob")
	if !dir.AreFriends("alice", "bob") || !dir.AreFriends("bob", "alice") {
		t.Error("friendship must be mutual")
	}
	dir.RemoveFriend("bob", "alice")
	if dir.AreFriends("alice", "bob") {
		t.Error("friendship not removed")
	}
}
