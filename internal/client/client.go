// Package client maintains one outbound connection to the relay, feeding
// every decrypted inbound line to a caller-supplied handler and recovering
// from transport drops with bounded backoff.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sealchat/sealchat/internal/crypto"
	"github.com/sealchat/sealchat/internal/wire"
)

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 2 * time.Second
	dialTimeout          = 10 * time.Second
)

// ErrNotConnected is returned by Send while no live session exists.
var ErrNotConnected = errors.New("not connected")

// errClosed marks a connect that lost a race with an explicit Close; the
// fresh session has already been torn down again.
var errClosed = errors.New("client closed")

// Client drives a session against the relay. Inbound lines — relayed chat,
// roster notices, and the client's own status notices — all arrive through
// the same Handler callback so the caller has a single rendering path.
//
// After a mid-session drop the client retries up to 5 times, attempt n
// waiting n×2s, then gives up until the caller dials again. An initial Dial
// failure is returned directly and never retried.
type Client struct {
	addr     string
	username string
	key      []byte
	handler  func(string)

	retryBase time.Duration

	mu   sync.Mutex
	sess *wire.Session

	connected  atomic.Bool
	reconnect  atomic.Bool
	recovering atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
}

// New derives the shared key from password and prepares a client for addr.
// handler receives every inbound line; it must not block for long, since it
// is called from the read loop.
func New(addr, username, password string, handler func(string)) *Client {
	c := &Client{
		addr:      addr,
		username:  username,
		key:       crypto.DeriveKey(password),
		handler:   handler,
		retryBase: reconnectBaseDelay,
		done:      make(chan struct{}),
	}
	c.reconnect.Store(true)
	return c
}

// Dial opens the session and authenticates by sending the encrypted
// username. Failure here leaves the client disconnected with no automatic
// retry; only drops after a successful connect trigger reconnection.
func (c *Client) Dial() error {
	return c.connect()
}

func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	sess := wire.New(conn, c.key)
	if err := sess.Send(c.username); err != nil {
		sess.Close()
		return fmt.Errorf("authenticate: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.connected.Store(true)

	// Close may have run while the dial was in flight, closing whatever
	// session was current at that instant. Never leave this fresh one live
	// after an explicit shutdown.
	select {
	case <-c.done:
		c.connected.Store(false)
		sess.Close()
		return errClosed
	default:
	}

	go c.readLoop(sess)
	return nil
}

func (c *Client) readLoop(sess *wire.Session) {
	for {
		line, err := sess.Recv()
		if err == nil {
			c.deliver(line)
			continue
		}
		if errors.Is(err, wire.ErrDecrypt) {
			// Lost message, live connection.
			c.deliver("[Decryption failed]")
			continue
		}
		// Transport fault. The CAS keeps a concurrent send failure from
		// starting a second recovery, and explicit Close already cleared
		// the flag.
		if c.reconnect.Load() && c.connected.CompareAndSwap(true, false) {
			c.deliver("[Connection lost - attempting to reconnect...]")
			go c.recover()
		}
		return
	}
}

// recover runs the bounded-backoff reconnection loop in its own goroutine so
// a stuck prior reader can never stall the timer.
func (c *Client) recover() {
	if !c.recovering.CompareAndSwap(false, true) {
		return
	}
	defer c.recovering.Store(false)

	bo := Backoff{Base: c.retryBase}
	for n := 1; n <= maxReconnectAttempts; n++ {
		if !c.reconnect.Load() {
			return
		}
		delay := bo.Next()
		c.deliver(fmt.Sprintf("[Reconnection attempt %d/%d...]", n, maxReconnectAttempts))
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.closeSession()
		err := c.connect()
		if errors.Is(err, errClosed) {
			return
		}
		if err != nil {
			c.deliver(fmt.Sprintf("[Reconnection attempt %d failed: %v]", n, err))
			continue
		}
		c.deliver("[Reconnected successfully!]")
		return
	}
	c.deliver(fmt.Sprintf("[Failed to reconnect after %d attempts]", maxReconnectAttempts))
}

// Send relays an already-composed plaintext line. While disconnected the
// line is rejected, not queued. A send that fails mid-flight starts the same
// recovery path a reader-detected drop would.
func (c *Client) Send(text string) error {
	if !c.connected.Load() {
		c.deliver("[Cannot send message - not connected]")
		return ErrNotConnected
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if err := sess.Send(text); err != nil {
		c.deliver("[Message send failed - connection error]")
		if c.reconnect.Load() && c.connected.CompareAndSwap(true, false) {
			go c.recover()
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close shuts the client down for good: no further reconnection, the reader
// unblocked, the session released. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.reconnect.Store(false)
		c.connected.Store(false)
		close(c.done)
		c.closeSession()
	})
	return nil
}

// Connected reports whether a live session currently exists.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) closeSession() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (c *Client) deliver(line string) {
	if c.handler != nil {
		c.handler(line)
	}
}
