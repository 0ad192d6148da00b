// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/agoctl/ago/lib/agoclient"
	"github.com/agoctl/ago/lib/cli"
	"github.com/agoctl/ago/lib/wire"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

func createCommand() *cli.Command {
	var name string
	return &cli.Command{
		Name:    "create",
		Summary: "Create a new agent instance from a template",
		Usage:   "agoctl create <template> [--name NAME]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
			fs.StringVar(&name, "name", "", "instance name (defaults to the template name)")
			return fs
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("create requires exactly one template name")
			}
			resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpCreate,
				wire.CreateArgs{TemplateName: args[0], InstanceName: name}, nil)
			if err != nil {
				return err
			}
			var result wire.CreateResult
			if err := agoclient.Decode(resp, &result); err != nil {
				return err
			}
			color.Green("created %s\n", result.InstanceID)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	var name string
	return &cli.Command{
		Name:    "run",
		Summary: "Create an instance and immediately attach to its chat stream",
		Usage:   "agoctl run <template> [--name NAME]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
			fs.StringVar(&name, "name", "", "instance name (defaults to the template name)")
			return fs
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("run requires exactly one template name")
			}
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpRun,
				wire.CreateArgs{TemplateName: args[0], InstanceName: name}, printChatEvent)
			return err
		},
	}
}

func psCommand() *cli.Command {
	return &cli.Command{
		Name:    "ps",
		Summary: "List running agent instances",
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpPS, nil, nil)
			if err != nil {
				return err
			}
			var result wire.PSResult
			if err := agoclient.Decode(resp, &result); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tTEMPLATE\tSTATE\tPID")
			for _, inst := range result.Instances {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", inst.InstanceID, inst.TemplateName, inst.State, inst.PID)
			}
			return tw.Flush()
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:    "inspect",
		Summary: "Show detailed state for one instance",
		Usage:   "agoctl inspect <instance>",
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("inspect requires exactly one instance name or ID")
			}
			resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpInspect, wire.TargetArgs{Target: args[0]}, nil)
			if err != nil {
				return err
			}
			var inst wire.InstanceSummary
			if err := agoclient.Decode(resp, &inst); err != nil {
				return err
			}
			fmt.Printf("instance:  %s\ntemplate:  %s\nstate:     %s\npid:       %d\n",
				inst.InstanceID, inst.TemplateName, inst.State, inst.PID)
			return nil
		},
	}
}

func stopCommand() *cli.Command {
	var all bool
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop one or all running instances",
		Usage:   "agoctl stop <instance> | --all",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			fs.BoolVar(&all, "all", false, "stop every running instance")
			return fs
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			stopArgs := wire.StopArgs{All: all}
			if !all {
				if len(args) != 1 {
					return fmt.Errorf("stop requires an instance name or ID, or --all")
				}
				stopArgs.Target = args[0]
			}
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpStop, stopArgs, nil)
			return err
		},
	}
}
