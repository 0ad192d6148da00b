// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "github.com/agoctl/ago/lib/codec"

// Op identifies a control-server operation. The set is small and
// stable (spec §9 calls for a closed tagged union over open
// polymorphism), so dispatch in lib/controlserver is a plain map
// lookup keyed by Op rather than any reflection-based routing.
type Op string

const (
	OpCreate    Op = "create"
	OpRun       Op = "run"
	OpPS        Op = "ps"
	OpInspect   Op = "inspect"
	OpChat      Op = "chat"
	OpSend      Op = "send"
	OpLogs      Op = "logs"
	OpStop      Op = "stop"
	OpQueues    Op = "queues"
	OpTemplates Op = "templates"
	OpPull      Op = "pull"
	OpConfig    Op = "config"
	OpRegistry  Op = "registry"
	OpShutdown  Op = "shutdown"
	OpPing      Op = "ping"

	// OpRecordOutgoing is daemon-to-worker only: it tells a sending
	// instance's own worker to append an outgoing record to its
	// conversation log, so an agent can see what it itself sent (spec
	// §4.7). It never appears on agoctl's CLI surface.
	OpRecordOutgoing Op = "record-outgoing"
)

// Request is the record a control client sends to open an operation.
// Args carries op-specific fields as a raw CBOR map; handlers decode
// the fields they expect from it. Also used for the daemon→worker
// and daemon→daemon (health check) direction: Op "ping"/"shutdown"
// frames sent to a worker's per-instance socket use the same shape.
type Request struct {
	Op   Op               `cbor:"op"`
	Args codec.RawMessage `cbor:"args,omitempty"`
}

// Status is the outcome of a completed operation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response is the terminal record for an operation. For short
// request/response ops (ps, inspect, send, stop, config, templates,
// pull) it is the only record written. For streaming ops (chat,
// logs --follow, queues --follow) it follows a sequence of Event
// frames and signals the stream is done.
type Response struct {
	Status Status `cbor:"status"`

	// Payload carries the op's result on success. Shape is
	// op-specific; see lib/controlserver/handlers.go for each op's
	// result type.
	Payload codec.RawMessage `cbor:"payload,omitempty"`

	// ErrorKind and ErrorMessage are set when Status is StatusError.
	// ErrorKind is one of the agoerr.Kind string values so clients can
	// branch on category without string-matching ErrorMessage.
	ErrorKind    string `cbor:"error_kind,omitempty"`
	ErrorMessage string `cbor:"error_message,omitempty"`
}

// EventKind tags the payload shape of an Event frame.
type EventKind string

const (
	EventReady         EventKind = "ready"
	EventTurnComplete  EventKind = "turn-complete"
	EventTurnTruncated EventKind = "turn-truncated"
	EventLogEntry      EventKind = "log-entry"
	EventQueueSnapshot EventKind = "queue-snapshot"
	EventError         EventKind = "error"
)

// Event is an out-of-band record emitted during a streaming operation,
// before the terminal Response. A control client upgrading a
// connection to event-stream mode (chat, logs --follow, queues
// --follow) reads a sequence of these, then one final Response.
type Event struct {
	Kind    EventKind        `cbor:"kind"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}
