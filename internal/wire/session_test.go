package wire

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sealchat/sealchat/internal/crypto"
)

func pipePair(t *testing.T, key []byte) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	sa, sb := New(a, key), New(b, key)
	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func TestSendRecv(t *testing.T) {
	key := crypto.DeriveKey("pw")
	a, b := pipePair(t, key)

	go func() {
		a.Send("hello over the wire")
	}()

	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got != "hello over the wire" {
		t.Errorf("Recv = %q", got)
	}
}

func TestRecvDecryptFailureIsRecoverable(t *testing.T) {
	key := crypto.DeriveKey("pw")
	a, b := net.Pipe()
	sess := New(b, key)
	t.Cleanup(func() {
		a.Close()
		sess.Close()
	})

	// One garbage line, then a valid frame. The session must survive the
	// first and deliver the second.
	go func() {
		a.Write([]byte("complete garbage\n"))
		frame, _ := crypto.Encrypt("still alive", key)
		a.Write([]byte(frame + "\n"))
	}()

	_, err := sess.Recv()
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("garbage line: err = %v, want ErrDecrypt", err)
	}
	got, err := sess.Recv()
	if err != nil {
		t.Fatalf("frame after garbage: %v", err)
	}
	if got != "still alive" {
		t.Errorf("Recv = %q", got)
	}
}

func TestRecvWrongKey(t *testing.T) {
	a, b := net.Pipe()
	sender := New(a, crypto.DeriveKey("pw1"))
	receiver := New(b, crypto.DeriveKey("pw2"))
	t.Cleanup(func() {
		sender.Close()
		receiver.Close()
	})

	go sender.Send("secret")

	if _, err := receiver.Recv(); !errors.Is(err, ErrDecrypt) {
		t.Errorf("mismatched keys: err = %v, want ErrDecrypt", err)
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	key := crypto.DeriveKey("pw")
	_, b := pipePair(t, key)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Recv()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Recv returned nil after Close")
		}
		if errors.Is(err, ErrDecrypt) {
			t.Errorf("Recv after Close = ErrDecrypt, want transport error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv still blocked after Close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	key := crypto.DeriveKey("pw")
	a, _ := pipePair(t, key)

	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !a.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestSendAfterClose(t *testing.T) {
	key := crypto.DeriveKey("pw")
	a, _ := pipePair(t, key)
	a.Close()

	if err := a.Send("too late"); err == nil {
		t.Error("Send after Close returned nil")
	}
}
