package server

import (
	"net"
	"sort"
	"testing"
	"time"

	"github.com/sealchat/sealchat/internal/crypto"
	"github.com/sealchat/sealchat/internal/wire"
)

var testKey = crypto.DeriveKey("test-password")

// newMember wires a registry-side session to a peer session over net.Pipe
// and streams everything the peer receives into the returned channel.
func newMember(t *testing.T, r *Registry, id, name string) <-chan string {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	sess := wire.New(serverEnd, testKey)
	peer := wire.New(clientEnd, testKey)
	t.Cleanup(func() {
		sess.Close()
		peer.Close()
	})

	r.Add(id, sess)
	if name != "" {
		r.Resolve(id, name)
	}

	lines := make(chan string, 16)
	go func() {
		for {
			line, err := peer.Recv()
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()
	return lines
}

func recvOne(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a broadcast line")
		return ""
	}
}

func TestBroadcastReachesEveryResolvedSession(t *testing.T) {
	r := NewRegistry()
	a := newMember(t, r, "a", "alice")
	b := newMember(t, r, "b", "bob")
	c := newMember(t, r, "c", "carol")

	r.Broadcast("hello room")

	for who, ch := range map[string]<-chan string{"alice": a, "bob": b, "carol": c} {
		if got := recvOne(t, ch); got != "hello room" {
			t.Errorf("%s received %q, want %q", who, got, "hello room")
		}
	}
}

func TestBroadcastSkipsUnresolvedSessions(t *testing.T) {
	r := NewRegistry()
	resolved := newMember(t, r, "a", "alice")
	pending := newMember(t, r, "b", "") // username not yet resolved

	r.Broadcast("members only")

	if got := recvOne(t, resolved); got != "members only" {
		t.Errorf("resolved member received %q", got)
	}
	select {
	case line := <-pending:
		t.Errorf("unresolved session received %q", line)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastPrunesFailedSessions(t *testing.T) {
	r := NewRegistry()
	alive := newMember(t, r, "a", "alice")

	deadEnd, deadPeer := net.Pipe()
	dead := wire.New(deadEnd, testKey)
	r.Add("b", dead)
	r.Resolve("b", "bob")
	deadPeer.Close()
	dead.Close()

	r.Broadcast("anyone there?")

	if got := recvOne(t, alive); got != "anyone there?" {
		t.Errorf("healthy member received %q", got)
	}
	if n := r.Count(); n != 1 {
		t.Errorf("Count after pruning = %d, want 1", n)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	newMember(t, r, "a", "alice")

	if name, ok := r.Remove("a"); !ok || name != "alice" {
		t.Errorf("Remove = (%q, %v), want (alice, true)", name, ok)
	}
	if _, ok := r.Remove("a"); ok {
		t.Error("second Remove reported a live entry")
	}
	if _, ok := r.Remove("never-added"); ok {
		t.Error("Remove of unknown id reported a live entry")
	}
}

func TestAnnounceRosterExcludesNewcomer(t *testing.T) {
	r := NewRegistry()
	newMember(t, r, "a", "alice")
	newMember(t, r, "b", "bob")
	newcomer := newMember(t, r, "c", "carol")

	r.AnnounceRosterTo("c")

	got := []string{recvOne(t, newcomer), recvOne(t, newcomer)}
	sort.Strings(got)
	want := []string{joinNotice("alice"), joinNotice("bob")}
	sort.Strings(want)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("roster notice %d = %q, want %q", i, got[i], want[i])
		}
	}
	select {
	case line := <-newcomer:
		t.Errorf("newcomer got extra roster line %q", line)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAnnounceRosterToleratesDeadNewcomer(t *testing.T) {
	r := NewRegistry()
	alice := newMember(t, r, "a", "alice")
	newMember(t, r, "b", "bob")

	// A newcomer whose transport died right after the username frame:
	// every roster send fails, but the roster pass must neither abort nor
	// disturb the rest of the room.
	deadEnd, deadPeer := net.Pipe()
	dead := wire.New(deadEnd, testKey)
	r.Add("c", dead)
	r.Resolve("c", "carol")
	deadPeer.Close()
	dead.Close()

	r.AnnounceRosterTo("c")

	// The join still goes out to the rest of the room afterward.
	r.Broadcast(joinNotice("carol"))
	if got := recvOne(t, alice); got != joinNotice("carol") {
		t.Errorf("alice received %q, want %q", got, joinNotice("carol"))
	}
}
