// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/agoctl/ago/lib/agoclient"
	"github.com/agoctl/ago/lib/cli"
	"github.com/agoctl/ago/lib/config"
	"github.com/agoctl/ago/lib/wire"
	"github.com/spf13/pflag"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "Inspect or change daemon configuration",
		Subcommands: []*cli.Command{
			{
				Name:    "show",
				Summary: "Print the full merged configuration",
				Run:     configShowRun,
			},
			{
				Name:    "get",
				Summary: "Print one configuration value",
				Usage:   "agoctl config get <key>",
				Run:     configGetRun,
			},
			{
				Name:    "set",
				Summary: "Set one configuration value",
				Usage:   "agoctl config set <key> <value>",
				Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
					if len(args) != 2 {
						return fmt.Errorf("config set requires a key and a value")
					}
					_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpConfig,
						wire.ConfigArgs{Action: "set", Key: args[0], Value: args[1]}, nil)
					return err
				},
			},
		},
	}
}

func configGetRun(ctx context.Context, args []string, _ *slog.Logger) error {
	if len(args) != 1 {
		return fmt.Errorf("config get requires exactly one key")
	}
	resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpConfig, wire.ConfigArgs{Action: "get", Key: args[0]}, nil)
	if err != nil {
		return err
	}
	var value wire.ConfigValue
	if err := agoclient.Decode(resp, &value); err != nil {
		return err
	}
	fmt.Println(value.Value)
	return nil
}

func configShowRun(ctx context.Context, _ []string, _ *slog.Logger) error {
	resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpConfig, wire.ConfigArgs{Action: "show"}, nil)
	if err != nil {
		return err
	}
	var cfg config.Config
	if err := agoclient.Decode(resp, &cfg); err != nil {
		return err
	}
	fmt.Printf("default_model:            %s\n", cfg.DefaultModel)
	fmt.Printf("template_resolution_order: %v\n", cfg.TemplateResolutionOrder)
	return nil
}

func registryCommand() *cli.Command {
	var url, kind string
	var priority int
	return &cli.Command{
		Name:    "registry",
		Summary: "Manage remote template registries",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "List configured registries",
				Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
					resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpRegistry, wire.RegistryArgs{Action: "list"}, nil)
					if err != nil {
						return err
					}
					var result wire.RegistryListResult
					if err := agoclient.Decode(resp, &result); err != nil {
						return err
					}
					tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
					fmt.Fprintln(tw, "NAME\tKIND\tPRIORITY\tENABLED\tURL")
					for _, entry := range result.Entries {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
							entry.Name, entry.Kind, entry.Priority, strconv.FormatBool(entry.Enabled), entry.URL)
					}
					return tw.Flush()
				},
			},
			{
				Name:    "add",
				Summary: "Add or replace a named registry",
				Usage:   "agoctl registry add <name> [--url URL] [--kind KIND] [--priority N]",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
					fs.StringVar(&url, "url", "", "registry base URL")
					fs.StringVar(&kind, "kind", string(config.RegistryHTTP), "registry flavor: http, github-like, gitlab-like")
					fs.IntVar(&priority, "priority", 0, "precedence among configured registries")
					return fs
				},
				Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
					if len(args) != 1 {
						return fmt.Errorf("registry add requires exactly one name")
					}
					_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpRegistry,
						wire.RegistryArgs{Action: "add", Name: args[0], URL: url, Kind: kind, Priority: priority}, nil)
					return err
				},
			},
			{
				Name:    "remove",
				Summary: "Remove a named registry",
				Usage:   "agoctl registry remove <name>",
				Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
					if len(args) != 1 {
						return fmt.Errorf("registry remove requires exactly one name")
					}
					_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpRegistry,
						wire.RegistryArgs{Action: "remove", Name: args[0]}, nil)
					return err
				},
			},
		},
	}
}
