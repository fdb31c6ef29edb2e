// Package server implements the relay: a TCP accept loop, a per-connection
// handler, and the registry that fans every message out to all connected
// clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Server accepts TCP connections and relays frames between them. All clients
// implicitly authenticate by possessing the shared key; there is no identity
// check beyond that.
type Server struct {
	addr     string
	key      []byte
	registry *Registry

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func New(addr string, key []byte) *Server {
	return &Server{
		addr:     addr,
		key:      key,
		registry: NewRegistry(),
	}
}

// ListenAndServe blocks accepting connections until ctx is cancelled or the
// listener fails. On cancellation it stops accepting, closes every live
// session, and waits for the handlers to drain.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	slog.Info("server listening", "addr", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.registry.CloseAll()
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("server shut down")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		slog.Info("connection accepted", "remote", conn.RemoteAddr(), "active", s.registry.Count())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the bound listen address, or nil before ListenAndServe.
// Useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ClientCount reports the number of currently registered sessions.
func (s *Server) ClientCount() int {
	return s.registry.Count()
}
