// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package agoclient is the thin control-socket client agoctl's
// subcommands share: one dial, one Request frame out, a sequence of
// Event frames in (for streaming ops), and a terminal Response.
package agoclient

import (
	"context"
	"fmt"
	"net"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/codec"
	"github.com/agoctl/ago/lib/wire"
)

// Client dials a single daemon or worker control socket per Call.
// There is no persistent connection or pooling — every control-socket
// operation in this system is a short-lived request/response (or
// request/event-stream/response) exchange, per spec §4.1.
type Client struct {
	SocketPath string
}

// New returns a Client bound to socketPath.
func New(socketPath string) *Client {
	return &Client{SocketPath: socketPath}
}

// Call sends a Request carrying op and args (marshaled to CBOR if
// non-nil), invoking onEvent for every Event frame the server sends
// before its terminal Response. onEvent may be nil for non-streaming
// ops.
func (c *Client) Call(ctx context.Context, op wire.Op, args any, onEvent func(wire.Event)) (wire.Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return wire.Response{}, fmt.Errorf("agoclient: dialing %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	req := wire.Request{Op: op}
	if args != nil {
		body, err := codec.Marshal(args)
		if err != nil {
			return wire.Response{}, fmt.Errorf("agoclient: encoding %s args: %w", op, err)
		}
		req.Args = body
	}

	if err := wire.WriteFrame(conn, wire.KindRequest, req); err != nil {
		return wire.Response{}, fmt.Errorf("agoclient: writing request: %w", err)
	}

	for {
		kind, body, err := wire.ReadFrame(conn)
		if err != nil {
			return wire.Response{}, fmt.Errorf("agoclient: reading frame: %w", err)
		}

		switch kind {
		case wire.KindEvent:
			var event wire.Event
			if err := wire.Decode(body, &event); err != nil {
				return wire.Response{}, fmt.Errorf("agoclient: decoding event: %w", err)
			}
			if onEvent != nil {
				onEvent(event)
			}
		case wire.KindResponse:
			var resp wire.Response
			if err := wire.Decode(body, &resp); err != nil {
				return wire.Response{}, fmt.Errorf("agoclient: decoding response: %w", err)
			}
			if resp.Status == wire.StatusError {
				return resp, agoerr.New(agoerr.Kind(resp.ErrorKind), "%s", resp.ErrorMessage)
			}
			return resp, nil
		default:
			return wire.Response{}, fmt.Errorf("agoclient: unexpected frame kind %s", kind)
		}
	}
}

// Decode unmarshals resp.Payload into dst. A thin wrapper kept here
// (rather than making every subcommand import lib/wire directly for
// this one call) so command bodies read as plain Go.
func Decode(resp wire.Response, dst any) error {
	return wire.Decode(resp.Payload, dst)
}
