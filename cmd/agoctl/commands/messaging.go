// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agoctl/ago/lib/agoclient"
	"github.com/agoctl/ago/lib/cli"
	"github.com/agoctl/ago/lib/wire"
	"github.com/spf13/pflag"
)

// logEntryPayload mirrors the anonymous struct controlserver encodes
// into EventLogEntry payloads.
type logEntryPayload struct {
	Line string `cbor:"line"`
}

// queueSnapshotPayload mirrors the anonymous struct controlserver
// encodes into EventQueueSnapshot payloads.
type queueSnapshotPayload struct {
	InstanceID string `cbor:"instance_id"`
	Depth      int    `cbor:"depth"`
}

// turnEventPayload mirrors the anonymous struct controlserver encodes
// into EventTurnComplete/EventTurnTruncated payloads.
type turnEventPayload struct {
	Text string `cbor:"text"`
}

func printLogEvent(event wire.Event) {
	if event.Kind != wire.EventLogEntry {
		return
	}
	var entry logEntryPayload
	if err := wire.Decode(event.Payload, &entry); err != nil {
		return
	}
	fmt.Print(strings.TrimRight(entry.Line, "\n") + "\n")
}

// printChatEvent relays log lines as-is and prints a visible notice
// when a turn is truncated. A completed turn prints nothing extra: its
// final answer has already arrived as an assistant log line, and the
// stream ends right after it.
func printChatEvent(event wire.Event) {
	switch event.Kind {
	case wire.EventLogEntry:
		printLogEvent(event)
	case wire.EventTurnComplete, wire.EventTurnTruncated:
		var turn turnEventPayload
		if err := wire.Decode(event.Payload, &turn); err != nil {
			return
		}
		if event.Kind == wire.EventTurnTruncated {
			fmt.Printf("-- turn truncated: %s\n", turn.Text)
		}
	}
}

func printQueueEvent(event wire.Event) {
	if event.Kind != wire.EventQueueSnapshot {
		return
	}
	var snapshot queueSnapshotPayload
	if err := wire.Decode(event.Payload, &snapshot); err != nil {
		return
	}
	fmt.Printf("%s\t%d\n", snapshot.InstanceID, snapshot.Depth)
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:    "chat",
		Summary: "Open an interactive chat stream with an instance",
		Usage:   "agoctl chat <instance> [message]",
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) < 1 {
				return fmt.Errorf("chat requires an instance name or ID")
			}
			message := ""
			if len(args) > 1 {
				message = strings.Join(args[1:], " ")
			}
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpChat,
				wire.ChatArgs{Target: args[0], Message: message}, printChatEvent)
			return err
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:    "send",
		Summary: "Send one message from one instance to another without attaching",
		Usage:   "agoctl send <from> <to> <message>",
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) < 3 {
				return fmt.Errorf("send requires a sender, a recipient, and a message")
			}
			from, to, message := args[0], args[1], strings.Join(args[2:], " ")
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpSend,
				wire.SendArgs{InstanceID: to, From: from, Message: message}, nil)
			return err
		},
	}
}

func logsCommand() *cli.Command {
	var follow bool
	var tail int
	return &cli.Command{
		Name:    "logs",
		Summary: "Show an instance's combined stdout/stderr log",
		Usage:   "agoctl logs <instance> [--follow] [--tail N]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			fs.BoolVar(&follow, "follow", false, "stream new log lines as they are written")
			fs.IntVar(&tail, "tail", 0, "show only the last N lines before following")
			return fs
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("logs requires exactly one instance name or ID")
			}
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpLogs,
				wire.LogsArgs{Target: args[0], Follow: follow, Tail: tail}, printLogEvent)
			return err
		},
	}
}

func queuesCommand() *cli.Command {
	var follow bool
	return &cli.Command{
		Name:    "queues",
		Summary: "Show inbound message queue depth for every instance",
		Usage:   "agoctl queues [--follow]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("queues", pflag.ContinueOnError)
			fs.BoolVar(&follow, "follow", false, "keep printing updated queue depths")
			return fs
		},
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			fmt.Println("INSTANCE\tDEPTH")
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpQueues, wire.QueuesArgs{Follow: follow}, printQueueEvent)
			return err
		},
	}
}
