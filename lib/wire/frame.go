// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the Unix-domain framing codec (spec §4.1)
// and the request/response/event record types that flow over it.
//
// Every frame is a big-endian 32-bit length prefix followed by that
// many bytes of CBOR-encoded [Envelope]. No newline or JSON-boundary
// heuristics are used: an earlier prototype of this system framed
// records as newline-delimited JSON and suffered "incomplete input"
// failures once a single message exceeded a socket read buffer. A
// length prefix sidesteps that class of bug entirely, at the cost of
// needing to know (or cap) a message's size before the first byte
// goes out — which CBOR's streaming encoder makes easy since we
// buffer the body before prefixing it.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/agoctl/ago/lib/codec"
)

// MaxFrameSize is the largest frame body this codec will decode. The
// spec requires accepting frames up to at least 16 MiB; ago uses
// exactly that ceiling rather than an unbounded read, so a corrupt or
// hostile peer cannot force unbounded memory growth by lying about a
// huge length prefix.
const MaxFrameSize = 16 << 20

// RecordKind tags which of the three record shapes an [Envelope]
// carries. A closed, stable set — spec §9 explicitly prefers a closed
// tagged union with static dispatch over open polymorphism here.
type RecordKind uint8

const (
	KindRequest RecordKind = iota + 1
	KindResponse
	KindEvent
)

func (k RecordKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("RecordKind(%d)", k)
	}
}

// Envelope is the outer shape of every frame: a kind tag plus the
// CBOR-encoded body specific to that kind (Request, Response, or
// Event, all defined in records.go).
type Envelope struct {
	Kind RecordKind       `cbor:"kind"`
	Body codec.RawMessage `cbor:"body"`
}

// ErrClosed is returned by ReadFrame when the peer closed the
// connection cleanly between frames (a terminal condition, not an
// error the caller should log loudly — spec §4.1's "short read /
// closed peer" case).
var ErrClosed = io.EOF

// WriteFrame encodes kind+payload as an Envelope, CBOR-marshals it,
// and writes the big-endian length prefix followed by the body to w
// in a single buffered write so a concurrent reader never observes a
// torn frame.
func WriteFrame(w io.Writer, kind RecordKind, payload any) error {
	body, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wire: marshaling %s body: %w", kind, err)
	}

	envelope, err := codec.Marshal(Envelope{Kind: kind, Body: body})
	if err != nil {
		return fmt.Errorf("wire: marshaling envelope: %w", err)
	}
	if len(envelope) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds %d byte limit", len(envelope), MaxFrameSize)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(envelope)))

	buffered := bufio.NewWriterSize(w, len(prefix)+len(envelope))
	if _, err := buffered.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := buffered.Write(envelope); err != nil {
		return fmt.Errorf("wire: writing frame body: %w", err)
	}
	return buffered.Flush()
}

// ReadFrame reads one length-prefixed Envelope from r and returns its
// kind and its still-encoded body; the caller decodes the body into
// the Request, Response, or Event the kind names. Returning the kind
// first lets callers
// that accept more than one record shape (the control server's
// accept loop, which reads one Request per connection but a worker
// loop that must distinguish inbound Events from a terminal Response)
// can dispatch before decoding the body.
//
// Returns [ErrClosed] (== io.EOF) when the peer closed the connection
// before writing a complete length prefix — the normal end of a
// request/response cycle, not a protocol violation. Any other error
// (a malformed length prefix, a body that fails to decode) means the
// frame was corrupt; per spec §4.1 the caller must drop the
// connection rather than attempt to resynchronize.
func ReadFrame(r io.Reader) (RecordKind, codec.RawMessage, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return 0, nil, ErrClosed
		}
		return 0, nil, fmt.Errorf("wire: reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return 0, nil, fmt.Errorf("wire: zero-length frame")
	}
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("wire: frame length %d exceeds %d byte limit", length, MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: reading frame body: %w", err)
	}

	var envelope Envelope
	if err := codec.Unmarshal(body, &envelope); err != nil {
		return 0, nil, fmt.Errorf("wire: decoding envelope: %w", err)
	}

	return envelope.Kind, envelope.Body, nil
}

// Decode unmarshals a frame body (as returned by ReadFrame) into out.
func Decode(body codec.RawMessage, out any) error {
	if err := codec.Unmarshal(body, out); err != nil {
		return fmt.Errorf("wire: decoding body: %w", err)
	}
	return nil
}
