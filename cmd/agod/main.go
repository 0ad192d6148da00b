// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Agod is the resident daemon: it supervises agent worker processes,
// resolves templates, and serves the control socket that agoctl talks
// to. Exactly one agod runs per base directory (default $HOME/.ago).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agoctl/ago/lib/config"
	"github.com/agoctl/ago/lib/controlserver"
	"github.com/agoctl/ago/lib/identity"
	"github.com/agoctl/ago/lib/process"
	"github.com/agoctl/ago/lib/processmgr"
	"github.com/agoctl/ago/lib/router"
	"github.com/agoctl/ago/lib/template"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		baseDir     string
		workerBin   string
		showVersion bool
	)

	flag.StringVar(&baseDir, "base-dir", defaultBaseDir(), "base directory for daemon state (overridden by $AGO_HOME)")
	flag.StringVar(&workerBin, "worker-binary", "agoworker", "path to the agoworker executable")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("agod v1")
		return nil
	}

	if home := os.Getenv("AGO_HOME"); home != "" {
		baseDir = home
	}

	layout := newLayout(baseDir)
	if err := layout.ensureDirs(); err != nil {
		return fmt.Errorf("agod: %w", err)
	}

	logFile, err := os.OpenFile(layout.daemonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("agod: opening daemon log: %w", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configStore, err := config.NewStore(layout.globalConfig, filepath.Join(".ago", "config.yaml"))
	if err != nil {
		return fmt.Errorf("agod: loading config: %w", err)
	}

	templates := template.New(
		layersFor(configStore.Get().TemplateResolutionOrder),
		map[template.Layer]string{
			template.LayerLocal:   ".",
			template.LayerBuiltin: layout.builtinTemplates,
			template.LayerPulled:  layout.pulledTemplates,
		},
	)

	idIndex := identity.NewIndex()
	idRegistry := identity.NewRegistry(layout.registryFile)

	router := router.New(socketDeliverer(layout), logger)

	dispatcher := &controlserver.Dispatcher{
		Index:              idIndex,
		Registry:           idRegistry,
		Router:             router,
		Templates:          templates,
		Config:             configStore,
		WorkerBin:          workerBin,
		ConfigPath:         layout.globalConfig,
		PulledTemplatesDir: layout.pulledTemplates,
		Logger:             logger,
	}

	dispatcher.Processes = processmgr.New(idRegistry, logger, layout.processDir, layout.logDir, func(id identity.ID) {
		logger.Warn("instance crashed", "instance", id)
		router.Close(id)
	})

	server := controlserver.New(layout.daemonSocket, logger)
	dispatcher.Register(server)

	ctx, cancel := context.WithCancel(ctx)
	dispatcher.Shutdown = cancel

	purged, err := dispatcher.Processes.PurgeOrphans()
	if err != nil {
		logger.Warn("orphan cleanup failed", "error", err)
	}
	for _, rec := range purged {
		logger.Info("purged stale registry entry", "instance", rec.InstanceID, "pid", rec.PID)
	}

	logger.Info("agod starting", "base_dir", baseDir, "socket", layout.daemonSocket)
	return server.Serve(ctx)
}

func layersFor(order []string) []template.Layer {
	layers := make([]template.Layer, 0, len(order))
	for _, name := range order {
		layers = append(layers, template.Layer(name))
	}
	return layers
}

// socketDeliverer builds the router's message transport: dialing a
// recipient instance's per-instance socket and sending a framed
// OpSend request, per spec §5.
func socketDeliverer(layout layout) router.Deliverer {
	return router.SocketDeliverer(
		func(id identity.ID) string { return layout.socketFor(id) },
		func(ctx context.Context, network, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, address)
		},
	)
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ago"
	}
	return filepath.Join(home, ".ago")
}
