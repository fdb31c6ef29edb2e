package server

import (
	"log/slog"
	"sync"

	"github.com/sealchat/sealchat/internal/wire"
)

// member is one registry entry: a live session plus its username once the
// first frame has resolved it.
type member struct {
	sess     *wire.Session
	name     string
	resolved bool
}

// Registry is the one structure shared across connection handlers. All
// mutation and iteration happens under a single mutex so broadcasts never
// race with joins and leaves; sends happen against a snapshot taken under
// the lock, so a concurrent join either fully receives a message or fully
// misses it.
type Registry struct {
	mu      sync.Mutex
	members map[string]*member // session id -> member
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[string]*member)}
}

// Add registers a session before its username is known. It is invisible to
// broadcasts and roster snapshots until Resolve.
func (r *Registry) Add(id string, sess *wire.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[id] = &member{sess: sess}
}

// Resolve records the username decoded from the session's first frame and
// makes the session visible to broadcasts. Duplicate names are allowed; two
// sessions may share a display name.
func (r *Registry) Resolve(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.name = name
		m.resolved = true
	}
}

// Remove deletes the entry and reports the resolved username, if any.
// Removing an absent id is a no-op.
func (r *Registry) Remove(id string) (name string, resolved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return "", false
	}
	delete(r.members, id)
	return m.name, m.resolved
}

// Count returns the number of registered sessions, resolved or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Broadcast relays text to every resolved session, the originating sender
// included — clients render their own messages from the relay echo so there
// is a single source of truth for history ordering. A failed send never
// aborts the pass; failed sessions are closed and dropped afterward.
func (r *Registry) Broadcast(text string) {
	type target struct {
		id   string
		sess *wire.Session
	}
	r.mu.Lock()
	targets := make([]target, 0, len(r.members))
	for id, m := range r.members {
		if m.resolved {
			targets = append(targets, target{id, m.sess})
		}
	}
	r.mu.Unlock()

	var failed []target
	for _, tgt := range targets {
		if err := tgt.sess.Send(text); err != nil {
			slog.Warn("broadcast send failed", "session", tgt.id, "err", err)
			failed = append(failed, tgt)
		}
	}
	for _, tgt := range failed {
		r.Remove(tgt.id)
		tgt.sess.Close()
	}
}

// AnnounceRosterTo sends the session one synthetic join notice per
// already-resolved member, itself excluded, so a newcomer sees the current
// roster before the live broadcast stream begins. A failed roster send is
// logged and skipped rather than aborting the join; a dead newcomer is
// caught by its own read loop.
func (r *Registry) AnnounceRosterTo(id string) {
	r.mu.Lock()
	names := make([]string, 0, len(r.members))
	for otherID, m := range r.members {
		if otherID != id && m.resolved {
			names = append(names, m.name)
		}
	}
	newcomer, ok := r.members[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, name := range names {
		if err := newcomer.sess.Send(joinNotice(name)); err != nil {
			slog.Warn("roster notice failed", "session", id, "err", err)
		}
	}
}

// CloseAll closes every session and empties the registry. Used on server
// shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.members = make(map[string]*member)
	r.mu.Unlock()

	for _, m := range members {
		m.sess.Close()
	}
}

func joinNotice(name string) string {
	return "🟢 " + name + " has joined the chat"
}

func leaveNotice(name string) string {
	return "🔴 " + name + " has left the chat"
}
