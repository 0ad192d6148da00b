// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/agoctl/ago/lib/codec"
)

// SendArgs is the Args payload for OpSend: a plain-text message
// delivered into an instance's inbound queue. Per spec §4.7, messages
// carry no nested envelope of their own — From/timestamp bookkeeping
// happens once on the worker side when the message is appended to the
// conversation log, not in the wire frame.
type SendArgs struct {
	InstanceID string `cbor:"instance_id,omitempty"`
	From       string `cbor:"from,omitempty"`
	Message    string `cbor:"message"`
}

// EncodeSendArgs marshals a SendArgs carrying from and message, for
// the router's instance-to-instance delivery path where the recipient
// is already implied by which socket the frame is sent to.
func EncodeSendArgs(from, message string) (codec.RawMessage, error) {
	return codec.Marshal(SendArgs{From: from, Message: message})
}

// RecordOutgoingArgs is the Args payload for OpRecordOutgoing: tells a
// worker to append an outgoing entry to its own conversation log for
// a message it just sent to another instance.
type RecordOutgoingArgs struct {
	To      string `cbor:"to"`
	Message string `cbor:"message"`
}

// CreateArgs is the Args payload for OpCreate.
type CreateArgs struct {
	TemplateName string `cbor:"template_name"`
	InstanceName string `cbor:"instance_name,omitempty"`
}

// CreateResult is the Payload of a successful OpCreate Response.
type CreateResult struct {
	InstanceID string `cbor:"instance_id"`
}

// TargetArgs is the Args payload for OpInspect, which acts on a single
// instance by name or ID. stop, send, logs and chat carry their target
// in their own Args types.
type TargetArgs struct {
	Target string `cbor:"target"`
}

// ChatArgs is the Args payload for OpChat: target plus the initial
// user message that opens the conversation.
type ChatArgs struct {
	Target  string `cbor:"target"`
	Message string `cbor:"message,omitempty"`
}

// StopArgs is the Args payload for OpStop.
type StopArgs struct {
	Target string `cbor:"target,omitempty"`
	All    bool   `cbor:"all,omitempty"`
}

// LogsArgs is the Args payload for OpLogs.
type LogsArgs struct {
	Target string `cbor:"target"`
	Follow bool   `cbor:"follow,omitempty"`
	Tail   int    `cbor:"tail,omitempty"`
}

// QueuesArgs is the Args payload for OpQueues.
type QueuesArgs struct {
	Follow bool `cbor:"follow,omitempty"`
}

// PullArgs is the Args payload for OpPull.
type PullArgs struct {
	Registry string `cbor:"registry"`
	Template string `cbor:"template"`
}

// ConfigArgs is the Args payload for OpConfig.
type ConfigArgs struct {
	Action string `cbor:"action"` // "get", "set", or "show"
	Key    string `cbor:"key,omitempty"`
	Value  string `cbor:"value,omitempty"`
}

// ConfigValue is the Payload of a successful `config get` OpConfig
// Response: just the one requested key's value, distinct from `show`
// which returns the whole merged [config.Config].
type ConfigValue struct {
	Value string `cbor:"value"`
}

// RegistryArgs is the Args payload for OpRegistry.
type RegistryArgs struct {
	Action   string `cbor:"action"` // "add", "list", or "remove"
	Name     string `cbor:"name,omitempty"`
	URL      string `cbor:"url,omitempty"`
	Kind     string `cbor:"kind,omitempty"`
	Priority int    `cbor:"priority,omitempty"`
}

// RegistryEntryView is one entry of a `registry list` result payload.
type RegistryEntryView struct {
	Name     string `cbor:"name"`
	URL      string `cbor:"url,omitempty"`
	Kind     string `cbor:"kind"`
	Priority int    `cbor:"priority"`
	Enabled  bool   `cbor:"enabled"`
}

// RegistryListResult is the Payload of a successful `registry list`
// OpRegistry Response.
type RegistryListResult struct {
	Entries []RegistryEntryView `cbor:"entries"`
}

// InstanceSummary is one entry of a `ps`/`inspect` result payload.
type InstanceSummary struct {
	InstanceID   string `cbor:"instance_id"`
	TemplateName string `cbor:"template_name"`
	State        string `cbor:"state"`
	PID          int    `cbor:"pid"`
	SpawnTime    string `cbor:"spawn_time"`
}

// PSResult is the Payload of a successful OpPS Response.
type PSResult struct {
	Instances []InstanceSummary `cbor:"instances"`
}

// DecodeArgs is a small helper that decodes req.Args into dst,
// wrapping the codec error with the operation name so handlers don't
// all repeat the same boilerplate.
func DecodeArgs(req Request, dst any) error {
	if err := codec.Unmarshal(req.Args, dst); err != nil {
		return fmt.Errorf("wire: decoding %s args: %w", req.Op, err)
	}
	return nil
}
