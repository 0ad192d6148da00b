// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool provides the concrete [worker.ToolInvoker] ago ships
// with: an adapter over Model Context Protocol servers via the
// official Go SDK (component C10). Each configured server runs as a
// subprocess; tool names are flattened across servers the way a
// template declares them.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/worker"
)

// ServerSpec names one MCP server subprocess a template wants
// available: a command plus arguments, e.g. {"npx", []string{"-y",
// "@modelcontextprotocol/server-filesystem", "/workspace"}}.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
}

// server holds one live MCP connection and the tools it advertises.
type server struct {
	name    string
	cmd     *exec.Cmd
	session *mcp.ClientSession
	tools   map[string]struct{}
}

// MCP implements [worker.ToolInvoker] by dispatching each call to
// whichever connected server advertises that tool name.
type MCP struct {
	logger *slog.Logger

	mu      sync.RWMutex
	servers []*server
	byTool  map[string]*server
}

// Connect starts every server in specs as a subprocess and discovers
// its tools. A server that fails to start or list its tools aborts
// the whole connect — a template with a broken tool server should
// fail instance creation loudly rather than silently run short a
// tool.
func Connect(ctx context.Context, specs []ServerSpec, logger *slog.Logger) (*MCP, error) {
	m := &MCP{
		logger: logger,
		byTool: make(map[string]*server),
	}

	for _, spec := range specs {
		srv, err := connectOne(ctx, spec)
		if err != nil {
			m.Close()
			return nil, agoerr.Wrap(agoerr.SpawnFailed, fmt.Errorf("tool: connecting to %q: %w", spec.Name, err))
		}
		m.servers = append(m.servers, srv)
		for name := range srv.tools {
			m.byTool[name] = srv
		}
		logger.Info("mcp server connected", "server", spec.Name, "tools", len(srv.tools))
	}

	return m, nil
}

func connectOne(ctx context.Context, spec ServerSpec) (*server, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stderr = os.Stderr

	client := mcp.NewClient(&mcp.Implementation{Name: "agoworker", Version: "v1"}, nil)
	session, err := client.Connect(ctx, mcp.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, fmt.Errorf("connecting: %w", err)
	}

	srv := &server{name: spec.Name, cmd: cmd, session: session, tools: make(map[string]struct{})}

	params := &mcp.ListToolsParams{}
	for {
		list, err := session.ListTools(ctx, params)
		if err != nil {
			session.Close()
			cmd.Process.Kill()
			return nil, fmt.Errorf("listing tools: %w", err)
		}
		for _, t := range list.Tools {
			srv.tools[t.Name] = struct{}{}
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	return srv, nil
}

// List returns the names of every tool available across all connected
// servers.
func (m *MCP) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.byTool))
	for name := range m.byTool {
		names = append(names, name)
	}
	return names, nil
}

// Invoke dispatches call to the server that advertised it. A caller
// that wraps ctx with a deadline (the worker does, per its
// ToolTimeout config) gets [agoerr.ToolTimeout] back when that
// deadline fires during the underlying RPC.
func (m *MCP) Invoke(ctx context.Context, call worker.ToolCall) (worker.ToolResult, error) {
	m.mu.RLock()
	srv, ok := m.byTool[call.Name]
	m.mu.RUnlock()
	if !ok {
		return worker.ToolResult{}, agoerr.New(agoerr.BadTemplate, "no server advertises tool %q", call.Name)
	}

	result, err := srv.session.CallTool(ctx, &mcp.CallToolParams{Name: call.Name, Arguments: call.Params})
	if err != nil {
		if ctx.Err() != nil {
			return worker.ToolResult{}, agoerr.Wrap(agoerr.ToolTimeout, ctx.Err())
		}
		return worker.ToolResult{}, fmt.Errorf("tool: invoking %q on %q: %w", call.Name, srv.name, err)
	}

	var output string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			output += text.Text
		}
	}
	if result.IsError {
		return worker.ToolResult{Err: fmt.Errorf("%s", output)}, nil
	}
	return worker.ToolResult{Output: output}, nil
}

// Close terminates every connected server subprocess.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, srv := range m.servers {
		srv.session.Close()
		if srv.cmd.Process != nil {
			srv.cmd.Process.Kill()
		}
	}
	m.servers = nil
	m.byTool = make(map[string]*server)
	return nil
}
