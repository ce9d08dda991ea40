package hub

import (
	"sort"
	"testing"
)

func TestTypingTracker_StartStop(t *testing.T) {
	tr := NewTypingTracker()

	if !tr.Start("conv1", "alice") {
		t.Fatal("first Start should report a change")
	}
	if tr.Start("conv1", "alice") {
		t.Fatal("repeated Start should report no change")
	}
	if got := tr.Typing("conv1"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("Typing(conv1) = %v, want [alice]", got)
	}

	if !tr.Stop("conv1", "alice") {
		t.Fatal("Stop of a typing user should report a change")
	}
	if tr.Stop("conv1", "alice") {
		t.Fatal("Stop of a non-typing user should be a no-op")
	}
	if tr.Stop("nowhere", "alice") {
		t.Fatal("Stop in an unknown conversation should be a no-op")
	}
}

func TestTypingTracker_DisconnectAffectedOnce(t *testing.T) {
	tr := NewTypingTracker()
	tr.Start("conv1", "alice")
	tr.Start("conv2", "alice")
	tr.Start("conv3", "alice")
	tr.Start("conv2", "bob")

	affected := tr.Disconnect("alice")
	sort.Strings(affected)
	want := []string{"conv1", "conv2", "conv3"}
	if len(affected) != len(want) {
		t.Fatalf("Disconnect(alice) = %v, want %v", affected, want)
	}
	for i := range want {
		if affected[i] != want[i] {
			t.Fatalf("Disconnect(alice) = %v, want %v", affected, want)
		}
	}

	// Bob's state is untouched, and a second disconnect is empty.
	if got := tr.Typing("conv2"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("Typing(conv2) = %v, want [bob]", got)
	}
	if again := tr.Disconnect("alice"); len(again) != 0 {
		t.Fatalf("second Disconnect(alice) = %v, want empty", again)
	}
}

func TestTypingTracker_DisconnectIdleUser(t *testing.T) {
	tr := NewTypingTracker()
	tr.Start("conv1", "bob")

	if affected := tr.Disconnect("alice"); len(affected) != 0 {
		t.Fatalf("Disconnect of an idle user = %v, want empty", affected)
	}
}
