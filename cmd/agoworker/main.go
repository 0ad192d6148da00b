// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Agoworker is the per-instance worker process agod spawns for every
// running agent. It loads its assigned template, wires a Reasoner and
// ToolInvoker, and runs the single-threaded event loop (lib/worker)
// behind its own control socket until told to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agoctl/ago/lib/config"
	"github.com/agoctl/ago/lib/controlserver"
	"github.com/agoctl/ago/lib/process"
	"github.com/agoctl/ago/lib/reasoner"
	"github.com/agoctl/ago/lib/template"
	"github.com/agoctl/ago/lib/tool"
	"github.com/agoctl/ago/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		instance     string
		templateName string
		socketPath   string
		configPath   string
	)

	flag.StringVar(&instance, "instance", "", "instance ID assigned by agod")
	flag.StringVar(&templateName, "template", "", "template name to load")
	flag.StringVar(&socketPath, "socket", "", "path to bind this instance's control socket")
	flag.StringVar(&configPath, "config", "", "path to the daemon's global config file")
	flag.Parse()

	if instance == "" || templateName == "" || socketPath == "" {
		return fmt.Errorf("agoworker: -instance, -template, and -socket are required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("instance", instance, "template", templateName)
	slog.SetDefault(logger)

	cfg, err := config.LoadMerged(configPath, filepath.Join(".ago", "config.yaml"))
	if err != nil {
		return fmt.Errorf("agoworker: loading config: %w", err)
	}

	tmpl, err := loadTemplate(templateName)
	if err != nil {
		return fmt.Errorf("agoworker: loading template: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reasonerOpts := []reasoner.Option{}
	if tmpl.Temperature != 0 {
		reasonerOpts = append(reasonerOpts, reasoner.WithTemperature(tmpl.Temperature))
	}
	model := tmpl.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	brain, err := reasoner.NewAnthropic(model, reasonerOpts...)
	if err != nil {
		return fmt.Errorf("agoworker: constructing reasoner: %w", err)
	}

	tools, err := connectTools(ctx, tmpl.Tools, cfg, logger)
	if err != nil {
		return fmt.Errorf("agoworker: connecting tools: %w", err)
	}
	if tools != nil {
		defer tools.Close()
	}

	w := worker.New(tmpl.Prompt, brain, toolInvoker(tools), worker.Config{}, logger)
	w.SetOutput(os.Stdout)

	server := controlserver.New(socketPath, logger)
	worker.Register(server, w, stop)

	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("worker loop exited with error", "error", err)
		}
	}()

	logger.Info("agoworker starting", "socket", socketPath)
	return server.Serve(ctx)
}

// loadTemplate resolves templateName against the local (working
// directory), pulled and builtin layers under the daemon's default
// base directory ($AGO_HOME, else $HOME/.ago), always in the default
// local → pulled → builtin order. agoworker only ever needs the
// single template it was spawned with, so it builds a single-purpose
// registry rather than sharing the daemon's in-memory one across the
// process boundary.
func loadTemplate(templateName string) (*template.Template, error) {
	baseDir := os.Getenv("AGO_HOME")
	if baseDir == "" {
		baseDir = ".ago"
		if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".ago")
		}
	}
	registry := template.New(
		[]template.Layer{template.LayerLocal, template.LayerPulled, template.LayerBuiltin},
		map[template.Layer]string{
			template.LayerLocal:   ".",
			template.LayerBuiltin: filepath.Join(baseDir, "registry", "templates", "builtin"),
			template.LayerPulled:  filepath.Join(baseDir, "registry", "templates", "pulled"),
		},
	)
	return registry.Resolve(templateName)
}

// connectTools launches one MCP subprocess per tool-server name the
// template declares, per spec §4.2's Tools field. A template with no
// tools returns a nil *tool.MCP, and toolInvoker adapts that to a
// worker.ToolInvoker that always reports an empty tool list.
func connectTools(ctx context.Context, names []string, cfg *config.Config, logger *slog.Logger) (*tool.MCP, error) {
	if len(names) == 0 {
		return nil, nil
	}

	specs := make([]tool.ServerSpec, 0, len(names))
	for _, name := range names {
		server, ok := cfg.ToolServers[name]
		if !ok {
			return nil, fmt.Errorf("template references undeclared tool server %q", name)
		}
		specs = append(specs, tool.ServerSpec{Name: name, Command: server.Command, Args: server.Args})
	}
	return tool.Connect(ctx, specs, logger)
}

func toolInvoker(m *tool.MCP) worker.ToolInvoker {
	if m == nil {
		return noTools{}
	}
	return m
}

// noTools is the worker.ToolInvoker for templates that declare no
// tools at all, so lib/worker never has to special-case a nil
// invoker.
type noTools struct{}

func (noTools) List(context.Context) ([]string, error) { return nil, nil }

func (noTools) Invoke(context.Context, worker.ToolCall) (worker.ToolResult, error) {
	return worker.ToolResult{}, fmt.Errorf("agoworker: this instance has no tools configured")
}
