// Package socket serves the CAD host over TCP with length-prefixed frames.
// The server loop runs on the host goroutine: accept, read, execute and
// write are strictly serialized, and one connection is served at a time.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewiresh/cadwire/internal/connection"
	"github.com/codewiresh/cadwire/internal/executor"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
)

// State is the observable lifecycle state of the server.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateConnected
	StateAwaitingRequest
	StateExecuting
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateExecuting:
		return "executing"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options tune a Server.
type Options struct {
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

// Server is the socket transport adapter for one host.
type Server struct {
	addr string
	exec *executor.Executor
	hc   *host.Context
	opts Options

	state atomic.Int32

	mu     sync.Mutex
	ln     net.Listener
	active net.Conn
	closed bool
}

// New returns a server that will listen on addr.
func New(addr string, exec *executor.Executor, hc *host.Context, opts Options) *Server {
	return &Server{addr: addr, exec: exec, hc: hc, opts: opts}
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) { s.state.Store(int32(st)) }

// Listen binds the listener without serving. Serve calls it when needed;
// calling it first lets the caller learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.setState(StateListening)
	slog.Info("socket transport listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts and serves connections one at a time until ctx is
// cancelled or Stop is called. It must run on the host goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	for {
		s.setState(StateListening)
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.setState(StateClosed)
				return nil
			}
			slog.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.serveConn(ctx, conn)
		if s.isClosed() {
			s.setState(StateClosed)
			return nil
		}
	}
}

// Stop closes the listener and the active connection. Serve returns soon
// after.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	if s.active != nil {
		s.active.Close()
	}
	if s.ln == nil {
		s.setState(StateClosed)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.active = conn
	s.mu.Unlock()

	remote := conn.RemoteAddr().String()
	s.setState(StateConnected)
	slog.Info("client connected", "remote", remote)

	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		conn.Close()
		slog.Info("client disconnected", "remote", remote)
	}()

	reader := connection.NewStreamReader(conn)
	writer := connection.NewStreamWriter(conn)

	for {
		s.setState(StateAwaitingRequest)
		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		payload, err := reader.ReadFrame()
		if err != nil {
			var pe *protocol.Error
			switch {
			case errors.As(err, &pe):
				slog.Warn("framing violation, closing connection", "remote", remote, "err", err)
			case errors.Is(err, os.ErrDeadlineExceeded):
				slog.Info("idle timeout, closing connection", "remote", remote)
			case !s.isClosed():
				slog.Error("read error", "remote", remote, "err", err)
			}
			return
		}
		if payload == nil {
			return
		}
		conn.SetReadDeadline(time.Time{})

		var resp protocol.CommandResponse
		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			resp = protocol.Fail(protocol.PeekID(payload), protocol.AsError(err))
		} else {
			s.setState(StateExecuting)
			resp = s.exec.Execute(ctx, s.hc, req)
		}

		s.setState(StateResponding)
		if err := writer.SendResponse(resp); err != nil {
			if !s.isClosed() {
				slog.Error("write error", "remote", remote, "err", err)
			}
			return
		}
	}
}
