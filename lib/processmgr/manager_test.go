// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package processmgr

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agoctl/ago/lib/identity"
	"github.com/agoctl/ago/lib/wire"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	registry := identity.NewRegistry(filepath.Join(dir, "registry.json"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	return New(registry, logger, filepath.Join(dir, "processes"), filepath.Join(dir, "logs"), nil)
}

// startMockWorker listens on socketPath and answers every request with
// the Response respond returns for it, mirroring startMockAdminServer's role in the
// teacher's health-check tests but speaking the framed wire protocol
// instead of HTTP.
func startMockWorker(t *testing.T, socketPath string, respond func(wire.Request) wire.Response) net.Listener {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Listen(%s): %v", socketPath, err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				kind, body, err := wire.ReadFrame(conn)
				if err != nil || kind != wire.KindRequest {
					return
				}
				var req wire.Request
				if err := wire.Decode(body, &req); err != nil {
					return
				}
				wire.WriteFrame(conn, wire.KindResponse, respond(req))
			}()
		}
	}()

	t.Cleanup(func() { listener.Close() })
	return listener
}

func TestPingHealthyWorker(t *testing.T) {
	t.Parallel()
	socketPath := filepath.Join(t.TempDir(), "worker.sock")
	startMockWorker(t, socketPath, func(wire.Request) wire.Response {
		return wire.Response{Status: wire.StatusOK}
	})

	if err := Ping(socketPath, time.Second); err != nil {
		t.Errorf("Ping() = %v, want nil", err)
	}
}

func TestPingMissingSocket(t *testing.T) {
	t.Parallel()
	if err := Ping(filepath.Join(t.TempDir(), "nonexistent.sock"), 200*time.Millisecond); err == nil {
		t.Error("Ping() = nil for a nonexistent socket, want error")
	}
}

func TestPingRejectedResponse(t *testing.T) {
	t.Parallel()
	socketPath := filepath.Join(t.TempDir(), "worker.sock")
	startMockWorker(t, socketPath, func(wire.Request) wire.Response {
		return wire.Response{Status: wire.StatusError, ErrorMessage: "not ready"}
	})

	if err := Ping(socketPath, time.Second); err == nil {
		t.Error("Ping() = nil for an error response, want error")
	}
}

func TestCheckHealthReflectsPingability(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	socketPath := filepath.Join(t.TempDir(), "worker.sock")

	child := &ChildHandle{InstanceID: "researcher-aaaaaaaa", SocketPath: socketPath}
	if m.checkHealth(child) {
		t.Error("checkHealth() = true before any listener exists")
	}

	startMockWorker(t, socketPath, func(wire.Request) wire.Response {
		return wire.Response{Status: wire.StatusOK}
	})
	if !m.checkHealth(child) {
		t.Error("checkHealth() = false for a responsive worker")
	}
}

// TestHealthMonitorDeclaresCrashedAfterThreshold covers spec §4.5: a
// worker whose socket stops answering is declared Crashed once
// FailureThreshold consecutive checks fail, and removed from the live
// children map.
func TestHealthMonitorDeclaresCrashedAfterThreshold(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	m.healthInterval = 20 * time.Millisecond

	var crashed identity.ID
	crashSeen := make(chan struct{})
	m.onCrash = func(id identity.ID) {
		crashed = id
		close(crashSeen)
	}

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "dead.sock")

	if err := m.registry.Mutate(func(records map[identity.ID]identity.Record) {
		records["ghost-aaaaaaaa"] = identity.Record{InstanceID: "ghost-aaaaaaaa", State: identity.StateReady}
	}); err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	child := &ChildHandle{
		InstanceID: "ghost-aaaaaaaa",
		SocketPath: socketPath, // nothing is listening
		state:      identity.StateReady,
		exited:     make(chan struct{}), // never closed in this test
	}
	m.mu.Lock()
	m.children[child.InstanceID] = child
	m.mu.Unlock()

	m.startHealthMonitor(child)
	t.Cleanup(func() {
		if child.healthCancel != nil {
			child.healthCancel()
		}
	})

	select {
	case <-crashSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for crash declaration")
	}

	if crashed != "ghost-aaaaaaaa" {
		t.Errorf("onCrash called with %q, want ghost-aaaaaaaa", crashed)
	}
	if _, ok := m.Get("ghost-aaaaaaaa"); ok {
		t.Error("crashed instance still tracked in children map")
	}

	loaded, err := m.registry.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded["ghost-aaaaaaaa"].State != identity.StateCrashed {
		t.Errorf("registry state = %v, want Crashed", loaded["ghost-aaaaaaaa"].State)
	}
}

func TestReapRemovesSocketAndRegistryEntry(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	id := identity.ID("researcher-aaaaaaaa")
	socketPath := m.SocketPath(id)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(socketPath, nil, 0o644); err != nil {
		t.Fatalf("writing fake socket file: %v", err)
	}
	if err := m.registry.Mutate(func(records map[identity.ID]identity.Record) {
		records[id] = identity.Record{InstanceID: id, State: identity.StateReady}
	}); err != nil {
		t.Fatalf("seeding registry: %v", err)
	}
	m.mu.Lock()
	m.children[id] = &ChildHandle{InstanceID: id}
	m.mu.Unlock()

	m.Reap(id)

	if _, ok := m.Get(id); ok {
		t.Error("Reap did not remove the children entry")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("Reap did not remove the socket file: %v", err)
	}
	loaded, err := m.registry.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := loaded[id]; ok {
		t.Error("Reap did not remove the registry entry")
	}
}

func TestPurgeOrphansProbesSocket(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	liveSocket := filepath.Join(t.TempDir(), "live.sock")
	startMockWorker(t, liveSocket, func(wire.Request) wire.Response {
		return wire.Response{Status: wire.StatusOK}
	})

	if err := m.registry.Mutate(func(records map[identity.ID]identity.Record) {
		records["live-aaaaaaaa"] = identity.Record{InstanceID: "live-aaaaaaaa", PID: os.Getpid(), SocketPath: liveSocket, State: identity.StateReady}
		records["stale-bbbbbbbb"] = identity.Record{InstanceID: "stale-bbbbbbbb", PID: os.Getpid(), SocketPath: "/nonexistent.sock", State: identity.StateReady}
	}); err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	purged, err := m.PurgeOrphans()
	if err != nil {
		t.Fatalf("PurgeOrphans: %v", err)
	}
	if len(purged) != 1 || purged[0].InstanceID != "stale-bbbbbbbb" {
		t.Fatalf("purged = %+v, want exactly stale-bbbbbbbb", purged)
	}
}
