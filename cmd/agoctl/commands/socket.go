// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds agoctl's complete CLI command tree: one
// [cli.Command] per control-socket operation, each dialing the
// daemon (or, for chat/send, resolving through the daemon to a
// worker) via lib/agoclient.
package commands

import (
	"os"
	"path/filepath"
)

// baseDir resolves the daemon's base directory: $AGO_HOME if set,
// otherwise $HOME/.ago, matching cmd/agod's own resolution (spec §6).
func baseDir() string {
	if home := os.Getenv("AGO_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ago"
	}
	return filepath.Join(home, ".ago")
}

// daemonSocket returns the path to the daemon's control socket.
func daemonSocket() string {
	return filepath.Join(baseDir(), "daemon.sock")
}
