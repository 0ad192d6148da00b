// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides ago's standard CBOR encoding configuration.
// Every wire body in lib/wire — Request, Response, and Event payloads
// carried inside the length-prefixed frames described there — is
// serialized through this package so that every component (daemon,
// worker, client) encodes identically without duplicating
// configuration.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical value always produces identical bytes.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// ago never uses non-string map keys. Decoding into an
		// any-typed field (Message.Payload decoded generically in
		// tests, RawMessage bodies) should produce map[string]any,
		// not CBOR's default map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of a
// frame body until the op/kind tag has been inspected.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder writing to w using ago's standard
// encoding configuration. Socket frames do not use it — they go
// through lib/wire's explicit length-prefix framing instead, per spec
// §4.1's requirement to avoid self-delimiting-format boundary bugs.
// The registry file (processes/registry.json) is JSON, written by
// lib/identity with encoding/json.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder reading from r using ago's
// standard decoding configuration.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
