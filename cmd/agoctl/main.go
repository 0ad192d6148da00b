// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/agoctl/ago/cmd/agoctl/commands"
	"github.com/fatih/color"
)

func main() {
	if err := run(); err != nil {
		color.Red("error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return commands.Root().Execute(context.Background(), os.Args[1:], logger)
}
