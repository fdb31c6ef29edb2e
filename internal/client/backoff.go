package client

import "time"

// Backoff paces reconnection attempts: attempt n waits n times the base
// delay, so with the 2s default the waits run 2s, 4s, 6s, 8s, 10s.
type Backoff struct {
	Base    time.Duration
	attempt int
}

func (b *Backoff) Next() time.Duration {
	b.attempt++
	return b.Base * time.Duration(b.attempt)
}

func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
