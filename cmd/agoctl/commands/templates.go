// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/agoctl/ago/lib/agoclient"
	"github.com/agoctl/ago/lib/cli"
	"github.com/agoctl/ago/lib/template"
	"github.com/agoctl/ago/lib/wire"
)

func templatesCommand() *cli.Command {
	return &cli.Command{
		Name:    "templates",
		Summary: "List templates visible across all discovery layers",
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			resp, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpTemplates, nil, nil)
			if err != nil {
				return err
			}
			var result struct {
				Templates []template.Summary `cbor:"templates"`
			}
			if err := agoclient.Decode(resp, &result); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tLAYER\tDESCRIPTION")
			for _, t := range result.Templates {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Version, t.Layer, t.Description)
			}
			return tw.Flush()
		},
	}
}

func pullCommand() *cli.Command {
	return &cli.Command{
		Name:    "pull",
		Summary: "Copy a locally resolvable template into the pulled layer (no remote fetch)",
		Usage:   "agoctl pull <registry>:<template>",
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("pull requires a single <registry>:<template> argument")
			}
			registry, name, ok := strings.Cut(args[0], ":")
			if !ok {
				return fmt.Errorf("pull argument must be of the form <registry>:<template>, got %q", args[0])
			}
			_, err := agoclient.New(daemonSocket()).Call(ctx, wire.OpPull,
				wire.PullArgs{Registry: registry, Template: name}, nil)
			return err
		},
	}
}
