// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/agoctl/ago/lib/codec"
)

func TestWriteReadFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer

	request := Request{Op: OpRun, Args: mustMarshal(t, map[string]string{"template": "researcher"})}
	if err := WriteFrame(&buf, KindRequest, request); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	kind, body, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if kind != KindRequest {
		t.Fatalf("kind = %v, want %v", kind, KindRequest)
	}

	var decoded Request
	if err := Decode(body, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Op != OpRun {
		t.Errorf("Op = %q, want %q", decoded.Op, OpRun)
	}
}

// TestFrameUpTo16MiB exercises property 5 from spec §8: for any framed
// payload up to the 16 MiB ceiling, encode∘decode is the identity.
func TestFrameUpTo16MiB(t *testing.T) {
	large := strings.Repeat("x", (15<<20)+(512<<10)) // well under 16 MiB after CBOR overhead

	var buf bytes.Buffer
	event := Event{Kind: EventLogEntry, Payload: mustMarshal(t, large)}
	if err := WriteFrame(&buf, KindEvent, event); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	kind, body, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if kind != KindEvent {
		t.Fatalf("kind = %v, want %v", kind, KindEvent)
	}

	var decoded Event
	if err := Decode(body, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var payload string
	if err := Decode(decoded.Payload, &payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload != large {
		t.Error("payload mismatch after roundtrip")
	}
}

func TestReadFrameOnClosedPeer(t *testing.T) {
	_, _, err := ReadFrame(bytes.NewReader(nil))
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestReadFrameMalformedLength(t *testing.T) {
	// Length prefix claims more than MaxFrameSize; decoder must reject
	// rather than attempt to read that many bytes.
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	_, _, err := ReadFrame(bytes.NewReader(buf))
	if err == nil {
		t.Fatal("expected error for oversized length prefix")
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, KindResponse, Response{Status: StatusOK}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-2]
	_, _, err := ReadFrame(bytes.NewReader(truncated))
	if err == nil || err == io.EOF {
		t.Fatalf("expected a body-read error, got %v", err)
	}
}

func mustMarshal(t *testing.T, v any) codec.RawMessage {
	t.Helper()
	data, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("codec.Marshal: %v", err)
	}
	return data
}
