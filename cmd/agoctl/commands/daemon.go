// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/agoctl/ago/lib/agoclient"
	"github.com/agoctl/ago/lib/cli"
	"github.com/agoctl/ago/lib/wire"
	"github.com/fatih/color"
)

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Summary: "Start, stop, or check the resident daemon",
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Summary: "Launch agod in the background, if it is not already running",
				Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
					if _, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpPing, nil, nil); err == nil {
						fmt.Println("agod is already running")
						return nil
					}

					cmd := exec.Command("agod")
					if err := cmd.Start(); err != nil {
						return fmt.Errorf("starting agod: %w", err)
					}
					go cmd.Wait()

					deadline := time.Now().Add(5 * time.Second)
					for time.Now().Before(deadline) {
						if _, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpPing, nil, nil); err == nil {
							color.Green("agod started (pid %d)\n", cmd.Process.Pid)
							return nil
						}
						time.Sleep(100 * time.Millisecond)
					}
					return fmt.Errorf("agod did not answer its control socket within 5s")
				},
			},
			{
				Name:    "stop",
				Summary: "Ask the running daemon to shut down",
				Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
					_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpShutdown, nil, nil)
					return err
				},
			},
			{
				Name:    "status",
				Summary: "Report whether the daemon is reachable",
				Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
					if _, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpPing, nil, nil); err != nil {
						fmt.Println("agod is not running")
						return nil
					}
					color.Green("agod is running\n")
					return nil
				},
			},
		},
	}
}
