// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/controlserver"
	"github.com/agoctl/ago/lib/wire"
)

// Register wires the four ops a worker's own control socket answers —
// OpPing (health probe from the daemon), OpSend (inbound delivery from
// the router or a chat client), OpRecordOutgoing (mirror an outgoing
// message the daemon just routed on this instance's behalf), and
// OpShutdown (graceful-stop request) — onto server. cmd/agoworker
// calls this once at startup alongside controlserver.Server.Serve.
func Register(server *controlserver.Server, w *Worker, shutdown func()) {
	server.Handle(wire.OpPing, func(controlserver.Stream, wire.Request) wire.Response {
		return wire.Response{Status: wire.StatusOK}
	})

	server.Handle(wire.OpSend, func(_ controlserver.Stream, req wire.Request) wire.Response {
		var args wire.SendArgs
		if err := wire.DecodeArgs(req, &args); err != nil {
			return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
		}
		// A message routed from another instance is tagged RoleAgent;
		// one opened by a chat client (From empty, or the CLI's own
		// sentinel sender) keeps RoleUser.
		role := RoleAgent
		if args.From == "" || args.From == "cli" {
			role = RoleUser
		}
		if err := w.Submit(ConversationEntry{Role: role, Content: args.Message, At: now()}); err != nil {
			return errResponse(agoerr.Wrap(agoerr.QueueFull, err))
		}
		return wire.Response{Status: wire.StatusOK}
	})

	server.Handle(wire.OpRecordOutgoing, func(_ controlserver.Stream, req wire.Request) wire.Response {
		var args wire.RecordOutgoingArgs
		if err := wire.DecodeArgs(req, &args); err != nil {
			return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
		}
		w.appendConversation(ConversationEntry{Role: RoleOutgoing, Content: args.Message, At: now()})
		return wire.Response{Status: wire.StatusOK}
	})

	server.Handle(wire.OpShutdown, func(controlserver.Stream, wire.Request) wire.Response {
		go shutdown()
		return wire.Response{Status: wire.StatusOK}
	})
}

func errResponse(err error) wire.Response {
	kind, ok := agoerr.KindOf(err)
	if !ok {
		kind = agoerr.SocketIO
	}
	return wire.Response{Status: wire.StatusError, ErrorKind: string(kind), ErrorMessage: err.Error()}
}

// encodeConversation renders one conversation entry as the line
// appendConversation writes to the worker's output — the worker's own
// stdout, which processmgr redirects into the instance's log file, the
// same file the daemon's `logs`/`chat` streaming tails.
func encodeConversation(entry ConversationEntry) string {
	return fmt.Sprintf("%s: %s", entry.Role, entry.Content)
}
