// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agoctl/ago/lib/cli"
)

// Root builds and returns the complete agoctl CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "agoctl",
		Description: `agoctl: control client for the ago agent orchestration daemon.

Create, inspect, and message long-running agent worker processes
supervised by agod.`,
		Subcommands: []*cli.Command{
			createCommand(),
			runCommand(),
			psCommand(),
			inspectCommand(),
			chatCommand(),
			sendCommand(),
			logsCommand(),
			stopCommand(),
			queuesCommand(),
			templatesCommand(),
			pullCommand(),
			configCommand(),
			registryCommand(),
			daemonCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Println("agoctl v1")
					return nil
				},
			},
		},
	}
}
