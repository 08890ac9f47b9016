package group

import (
	"sync"
	"testing"
)

type recordingSender struct {
	mu       sync.Mutex
	id       string
	payloads [][]byte
}

func (r *recordingSender) UserID() string { return r.id }

func (r *recordingSender) Send(payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return true
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	hub := NewHub()
	a := &recordingSender{id: "a"}
	b := &recordingSender{id: "b"}
	hub.Join("room-1", a)
	hub.Join("room-1", b)

	hub.Broadcast("room-1", []byte("tick"))

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected one payload each, got %d and %d", a.count(), b.count())
	}
}

func TestUnicastTargetsSingleMember(t *testing.T) {
	hub := NewHub()
	a := &recordingSender{id: "a"}
	b := &recordingSender{id: "b"}
	hub.Join("room-1", a)
	hub.Join("room-1", b)

	if !hub.Unicast("room-1", "b", []byte("secret")) {
		t.Fatalf("unicast to subscribed member failed")
	}
	if hub.Unicast("room-1", "c", []byte("secret")) {
		t.Fatalf("unicast to absent member should report false")
	}
	if a.count() != 0 || b.count() != 1 {
		t.Fatalf("unexpected delivery counts: %d and %d", a.count(), b.count())
	}
}

func TestLeaveRemovesEmptyGroups(t *testing.T) {
	hub := NewHub()
	a := &recordingSender{id: "a"}
	hub.Join("room-1", a)
	hub.Leave("room-1", "a")

	if hub.Size("room-1") != 0 {
		t.Fatalf("expected empty group after leave")
	}
	hub.Broadcast("room-1", []byte("tick"))
	if a.count() != 0 {
		t.Fatalf("left member should not receive broadcasts")
	}
}

func TestDropDiscardsWholeGroup(t *testing.T) {
	hub := NewHub()
	a := &recordingSender{id: "a"}
	b := &recordingSender{id: "b"}
	hub.Join("room-1", a)
	hub.Join("room-1", b)
	hub.Drop("room-1")

	if hub.Contains("room-1", "a") || hub.Contains("room-1", "b") {
		t.Fatalf("dropped group still has members")
	}
}
