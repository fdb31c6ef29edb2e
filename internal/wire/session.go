package wire

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sealchat/sealchat/internal/crypto"
)

const (
	readIdleTimeout = 60 * time.Second
	writeTimeout    = 10 * time.Second
)

// ErrDecrypt reports an inbound frame that arrived intact but would not
// decrypt under the session key. It is a per-message event; the connection
// stays up and the caller substitutes a notice for the lost message.
var ErrDecrypt = errors.New("inbound frame did not decrypt")

// Session owns one transport connection and speaks the wire protocol over
// it: newline-delimited frames, each base64(iv || AES-CBC ciphertext) of one
// UTF-8 message. Send is safe for concurrent use; Recv belongs to a single
// reader goroutine.
type Session struct {
	conn   net.Conn
	key    []byte
	reader *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	lastActivity atomic.Int64 // unix nanos
}

// New wraps conn. On TCP connections keepalive is enabled and Nagle
// coalescing disabled; other conn types (net.Pipe in tests) skip the tuning.
func New(conn net.Conn, key []byte) *Session {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetNoDelay(true)
	}
	s := &Session{
		conn:   conn,
		key:    key,
		reader: bufio.NewReader(conn),
		closed: make(chan struct{}),
	}
	s.touch()
	return s
}

// Send encrypts text and writes it as one newline-terminated frame.
func (s *Session) Send(text string) error {
	frame, err := crypto.Encrypt(text, s.key)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Closed() {
		return net.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write([]byte(frame + "\n")); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.touch()
	return nil
}

// Recv blocks for the next frame and returns its plaintext. A frame that
// fails to decrypt returns ErrDecrypt and leaves the session usable; any
// other error (idle timeout, EOF, closed conn) is connection-fatal.
func (s *Session) Recv() (string, error) {
	s.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}
	s.touch()
	frame := strings.TrimRight(line, "\r\n")
	text, err := crypto.Decrypt(frame, s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return text, nil
}

// Close tears down the transport. Idempotent, and unblocks any goroutine
// parked in Recv or Send.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the session closes. Lets owners select against a
// shutdown without polling.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// LastActivity returns the time of the most recent successful send or
// receive on this session.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}
