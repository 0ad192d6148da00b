// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/identity"
)

// layout resolves every path agod reads or writes under its base
// directory (default $HOME/.ago, overridden by $AGO_HOME), per spec
// §6's filesystem layout.
type layout struct {
	baseDir string

	globalConfig     string
	daemonSocket     string
	daemonLog        string
	processDir       string
	logDir           string
	registryFile     string
	builtinTemplates string
	pulledTemplates  string
}

func newLayout(baseDir string) layout {
	return layout{
		baseDir:          baseDir,
		globalConfig:     filepath.Join(baseDir, "config.yaml"),
		daemonSocket:     filepath.Join(baseDir, "daemon.sock"),
		daemonLog:        filepath.Join(baseDir, "logs", "daemon.log"),
		processDir:       filepath.Join(baseDir, "processes"),
		logDir:           filepath.Join(baseDir, "logs"),
		registryFile:     filepath.Join(baseDir, "processes", "registry.json"),
		builtinTemplates: filepath.Join(baseDir, "registry", "templates", "builtin"),
		pulledTemplates:  filepath.Join(baseDir, "registry", "templates", "pulled"),
	}
}

// socketFor returns the per-instance worker socket path, matching
// processmgr.Manager's own SocketPath convention.
func (l layout) socketFor(id identity.ID) string {
	return filepath.Join(l.processDir, string(id)+".sock")
}

// ensureDirs creates every directory agod needs before it opens its
// log file or binds its control socket. Failure here is fatal per
// spec §7's BaseDirInaccessible.
func (l layout) ensureDirs() error {
	dirs := []string{
		l.baseDir,
		l.processDir,
		l.logDir,
		l.builtinTemplates,
		l.pulledTemplates,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return agoerr.Wrap(agoerr.BaseDirInaccessible, fmt.Errorf("creating %s: %w", dir, err))
		}
	}
	return nil
}
