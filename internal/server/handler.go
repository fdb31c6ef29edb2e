package server

import (
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/sealchat/sealchat/internal/wire"
)

const decryptErrNotice = "[Server] Failed to decrypt your message"

// handleConn runs the per-connection state machine: read one frame as the
// joining username, announce presence, then relay every decrypted frame
// through the registry until the connection dies. One goroutine per
// connection; a panic here is confined to this session.
func (s *Server) handleConn(conn net.Conn) {
	id := uuid.NewString()
	log := slog.With("session", id, "remote", conn.RemoteAddr())

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", "panic", r)
		}
	}()

	sess := wire.New(conn, s.key)
	s.registry.Add(id, sess)

	// The leave notice is gated on the handler's own record of the
	// resolved name, never on registry membership at exit time: a failed
	// broadcast send may already have pruned the entry, and the room is
	// still owed exactly one leave notice.
	var (
		username string
		resolved bool
	)
	defer func() {
		s.teardown(id, sess, username, resolved, log)
	}()

	// First frame is the encrypted username. EOF or a decrypt failure here
	// ends the session with no broadcast side effects.
	name, err := sess.Recv()
	if err != nil {
		log.Info("closed before username resolved", "err", err)
		return
	}
	log = log.With("user", name)
	log.Info("user joined")

	username, resolved = name, true
	s.registry.Resolve(id, name)

	// The newcomer must see the full roster before its own join notice
	// arrives through the live broadcast stream. Roster send failures are
	// tolerated; the join is announced regardless and the read loop below
	// notices a dead connection on its own.
	s.registry.AnnounceRosterTo(id)
	s.registry.Broadcast(joinNotice(name))

	for {
		line, err := sess.Recv()
		switch {
		case errors.Is(err, wire.ErrDecrypt):
			// Private notice to the offender only; the loop continues.
			log.Warn("inbound frame failed to decrypt", "err", err)
			if sendErr := sess.Send(decryptErrNotice); sendErr != nil {
				log.Warn("could not deliver decrypt notice", "err", sendErr)
				return
			}
		case err != nil:
			log.Info("session ended", "err", err, "lastActivity", sess.LastActivity())
			return
		default:
			log.Debug("relaying message", "text", line)
			s.registry.Broadcast(line)
		}
	}
}

// teardown deregisters the session and, if a username was ever resolved,
// broadcasts the leave notice. Safe to reach from any handler exit path,
// including after the entry was pruned by a failed broadcast send.
func (s *Server) teardown(id string, sess *wire.Session, name string, resolved bool, log *slog.Logger) {
	s.registry.Remove(id)
	sess.Close()
	if resolved {
		s.registry.Broadcast(leaveNotice(name))
		log.Info("user left", "active", s.registry.Count())
	}
}
