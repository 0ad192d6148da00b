// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package agoerr defines the typed error kinds shared across the
// orchestration core. Every handler in lib/controlserver renders one
// of these into the wire Response envelope; every caller that needs
// to branch on failure category tests with [Is] rather than string
// matching.
package agoerr

import (
	"errors"
	"fmt"
)

// Kind identifies an error category. See spec §7: client-facing
// recoverable errors, infrastructure errors, and fatal daemon-abort
// errors are all represented the same way so the control server can
// render any of them into a Response{status: error} envelope without
// a type switch per caller.
type Kind string

const (
	// Client-facing, recoverable.
	NoSuchAgent       Kind = "NoSuchAgent"
	AmbiguousAgent    Kind = "AmbiguousAgent"
	NoSuchTemplate    Kind = "NoSuchTemplate"
	BadTemplate       Kind = "BadTemplate"
	QueueFull         Kind = "QueueFull"
	ToolTimeout       Kind = "ToolTimeout"
	ReasonerParseErr  Kind = "ReasonerParseError"
	ConfigInvalid     Kind = "ConfigInvalid"
	AlreadyRunning    Kind = "AlreadyRunning"
	NotRunning        Kind = "NotRunning"
	UnknownOp         Kind = "UnknownOp"

	// Infrastructure.
	SocketIO        Kind = "SocketIO"
	DecodeFailure   Kind = "DecodeFailure"
	RegistryCorrupt Kind = "RegistryCorrupt"
	SpawnFailed     Kind = "SpawnFailed"
	ChildCrashed    Kind = "ChildCrashed"

	// Fatal — the daemon aborts startup rather than serving degraded.
	BindFailed          Kind = "BindFailed"
	BaseDirInaccessible Kind = "BaseDirInaccessible"
)

// Error is a typed error carrying a [Kind] and a human-readable
// message. The control server's response envelope (lib/wire) copies
// Kind and Message verbatim into the error payload: a framed
// Response{status: error} record never silently drops a command, per
// spec §7.
type Error struct {
	Kind    Kind
	Message string

	// wrapped is the underlying cause, if any. Not serialized on the
	// wire — only Kind and Message cross the socket.
	wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps an existing
// error, preserving it for errors.Is/As chains while still exposing a
// clean Kind to callers that only care about category.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), wrapped: err}
}

// Is reports whether err (or any error it wraps) is an *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// ok=true. Infrastructure code that needs to render an arbitrary error
// onto the wire without knowing its category should fall back to
// SocketIO when ok is false.
func KindOf(err error) (kind Kind, ok bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	return "", false
}
