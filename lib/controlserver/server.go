// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlserver implements the control server (spec §4.6,
// component C6): the daemon's Unix-domain socket accept loop, request
// dispatch by [wire.Op], and the event-stream upgrade used by chat,
// logs --follow, and queues --follow.
package controlserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/wire"
)

// requestReadTimeout bounds how long a client has to send its Request
// after connecting.
const requestReadTimeout = 30 * time.Second

// Stream lets a streaming handler (chat, logs --follow, queues
// --follow) emit Event frames to the client before its terminal
// Response. A plain request/response handler never touches this.
type Stream interface {
	// Send writes an Event frame. ctx cancellation (client disconnect,
	// server shutdown) should stop the handler from calling Send again.
	Send(event wire.Event) error
	// Context is cancelled when the underlying connection closes, so a
	// long-running streaming handler (chat, logs --follow) can stop
	// producing events rather than blocking forever on a dead socket.
	Context() context.Context
}

// Handler processes one Request and returns the terminal Response. A
// handler that wants to stream Events first receives a [Stream] to
// call Send on; handlers that never stream can ignore it.
type Handler func(stream Stream, req wire.Request) wire.Response

// Server accepts connections on a Unix-domain socket and dispatches
// each to the Handler registered for the request's Op, following the
// teacher's SocketServer accept-loop shape but framed per lib/wire
// instead of one-CBOR-value-per-connection.
type Server struct {
	socketPath string
	logger     *slog.Logger

	handlers map[wire.Op]Handler

	activeConnections sync.WaitGroup
}

// New constructs a Server listening at socketPath once Serve is
// called. Register handlers with Handle before calling Serve.
func New(socketPath string, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		handlers:   make(map[wire.Op]Handler),
	}
}

// Handle registers handler for op. Panics on duplicate registration —
// this is a programming error caught at daemon startup, not a runtime
// condition.
func (s *Server) Handle(op wire.Op, handler Handler) {
	if _, exists := s.handlers[op]; exists {
		panic(fmt.Sprintf("controlserver: duplicate handler for op %q", op))
	}
	s.handlers[op] = handler
}

// Serve listens on the configured socket and dispatches connections
// until ctx is cancelled, then waits for in-flight handlers to finish.
// Any stale socket file from a previous run is removed first; the
// socket file is removed again on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return agoerr.Wrap(agoerr.BindFailed, fmt.Errorf("removing stale socket %s: %w", s.socketPath, err))
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return agoerr.Wrap(agoerr.BindFailed, fmt.Errorf("listening on %s: %w", s.socketPath, err))
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	kind, body, err := wire.ReadFrame(conn)
	if err != nil {
		if !errors.Is(err, wire.ErrClosed) {
			s.logger.Debug("failed reading request frame", "error", err)
		}
		return
	}
	conn.SetReadDeadline(time.Time{})

	if kind != wire.KindRequest {
		s.writeError(conn, agoerr.New(agoerr.DecodeFailure, "expected a request frame, got %s", kind))
		return
	}

	var req wire.Request
	if err := wire.Decode(body, &req); err != nil {
		s.writeError(conn, agoerr.Wrap(agoerr.DecodeFailure, err))
		return
	}

	handler, ok := s.handlers[req.Op]
	if !ok {
		s.writeError(conn, agoerr.New(agoerr.UnknownOp, "unknown operation %q", req.Op))
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := &connStream{ctx: connCtx, conn: conn}

	response := handler(stream, req)
	if err := wire.WriteFrame(conn, wire.KindResponse, response); err != nil {
		s.logger.Debug("failed writing response frame", "op", req.Op, "error", err)
	}
}

func (s *Server) writeError(conn net.Conn, err error) {
	kind, ok := agoerr.KindOf(err)
	if !ok {
		kind = agoerr.SocketIO
	}
	response := wire.Response{Status: wire.StatusError, ErrorKind: string(kind), ErrorMessage: err.Error()}
	if writeErr := wire.WriteFrame(conn, wire.KindResponse, response); writeErr != nil {
		s.logger.Debug("failed writing error response frame", "error", writeErr)
	}
}

// connStream is the [Stream] implementation backing every handled
// connection.
type connStream struct {
	ctx  context.Context
	conn net.Conn
}

func (c *connStream) Send(event wire.Event) error {
	return wire.WriteFrame(c.conn, wire.KindEvent, event)
}

func (c *connStream) Context() context.Context {
	return c.ctx
}
