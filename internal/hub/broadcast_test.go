package hub

import "testing"

func TestBroadcaster_EmptyRoomIsSilent(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)

	// Must not panic or error; there is simply nobody to tell.
	b.Broadcast("empty-room", "message-received", map[string]any{"x": 1})
}

func TestBroadcaster_ExceptSkipsAuthor(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)

	author, authorTransport := newConn("c1", "alice")
	other, otherTransport := newConn("c2", "bob")
	r.Register(author)
	r.Register(other)
	r.JoinRoom("c1", "conv1")
	r.JoinRoom("c2", "conv1")

	b.BroadcastExcept("conv1", "typing-changed", nil, "c1")

	if got := authorTransport.sent(); len(got) != 0 {
		t.Fatalf("author received %v, want nothing", got)
	}
	if got := otherTransport.sent(); len(got) != 1 || got[0].Event != "typing-changed" {
		t.Fatalf("other received %v, want one typing-changed", got)
	}
}

func TestBroadcaster_FailedSendDoesNotStallRoom(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)

	bad, badTransport := newConn("c1", "alice")
	badTransport.fail = true
	good, goodTransport := newConn("c2", "bob")
	r.Register(bad)
	r.Register(good)
	r.JoinRoom("c1", "conv1")
	r.JoinRoom("c2", "conv1")

	b.Broadcast("conv1", "message-received", nil)

	if got := goodTransport.sent(); len(got) != 1 {
		t.Fatalf("healthy member received %d events, want 1", len(got))
	}
}

func TestBroadcaster_SendToUserOfflineIsSilent(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)

	delivered, err := b.SendToUser("nobody", "new-notification", nil)
	if err != nil {
		t.Fatalf("SendToUser to an offline user = %v, want nil", err)
	}
	if delivered {
		t.Fatal("SendToUser reported delivery with no live connection")
	}
}

func TestBroadcaster_SendToUserDeliversToCurrentConnection(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)

	stale, staleTransport := newConn("c1", "alice")
	live, liveTransport := newConn("c2", "alice")
	r.Register(stale)
	r.Register(live)

	delivered, err := b.SendToUser("alice", "new-notification", nil)
	if err != nil || !delivered {
		t.Fatalf("SendToUser = %v, %v; want delivered", delivered, err)
	}
	if got := staleTransport.sent(); len(got) != 0 {
		t.Fatalf("stale connection received %v, want nothing", got)
	}
	if got := liveTransport.sent(); len(got) != 1 {
		t.Fatalf("live connection received %d events, want 1", len(got))
	}
}
