package queue

import (
	"testing"

	"auxlobby/internal/protocol"
)

func entry(id string) protocol.QueueEntry {
	return protocol.QueueEntry{TrackID: id, Title: "t-" + id, Artist: "a-" + id}
}

func TestFIFO(t *testing.T) {
	s := NewStore()
	s.Enqueue(entry("a"))
	s.Enqueue(entry("b"))

	first := s.Dequeue()
	if first == nil || first.TrackID != "a" {
		t.Fatalf("expected a, got %v", first)
	}
	second := s.Dequeue()
	if second == nil || second.TrackID != "b" {
		t.Fatalf("expected b, got %v", second)
	}
	if s.Dequeue() != nil {
		t.Error("expected nil from empty queue")
	}
}

func TestDuplicatesAllowed(t *testing.T) {
	s := NewStore()
	s.Enqueue(entry("a"))
	s.Enqueue(entry("a"))
	if s.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Len())
	}
}

func TestDequeueUntil(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Enqueue(entry(id))
	}

	if !s.DequeueUntil("c") {
		t.Fatal("expected a match for c")
	}
	rest := s.Snapshot()
	if len(rest) != 1 || rest[0].TrackID != "d" {
		t.Fatalf("expected [d], got %v", rest)
	}
}

func TestDequeueUntilNoMatch(t *testing.T) {
	s := NewStore()
	s.Enqueue(entry("a"))
	s.Enqueue(entry("b"))

	if s.DequeueUntil("zzz") {
		t.Fatal("expected no match")
	}
	if s.Len() != 2 {
		t.Errorf("queue should be untouched, got %d entries", s.Len())
	}
}

func TestReplaceWholesale(t *testing.T) {
	s := NewStore()
	s.Enqueue(entry("a"))
	s.Replace([]protocol.QueueEntry{entry("x"), entry("y")})

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].TrackID != "x" || snap[1].TrackID != "y" {
		t.Fatalf("expected [x y], got %v", snap)
	}
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Enqueue(entry("a"))
	s.Clear()
	if s.Len() != 0 {
		t.Error("expected empty queue after clear")
	}
}

func TestSubscribeSeesSnapshot(t *testing.T) {
	s := NewStore()
	var last []protocol.QueueEntry
	s.Subscribe(func(entries []protocol.QueueEntry) { last = entries })

	s.Enqueue(entry("a"))
	if len(last) != 1 || last[0].TrackID != "a" {
		t.Fatalf("subscriber expected [a], got %v", last)
	}
}
