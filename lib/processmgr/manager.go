// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package processmgr implements the process manager (spec §4.5,
// component C5): spawning, health-checking, stopping, and reaping
// agent worker processes.
package processmgr

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/identity"
	"github.com/agoctl/ago/lib/wire"
)

// Defaults per spec §4.5.
const (
	DefaultHealthInterval = 2 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	DefaultKillTimeout    = 3 * time.Second
	DefaultStartupTimeout = 10 * time.Second
	FailureThreshold      = 2 // two consecutive non-responses ⇒ Crashed
)

// ChildHandle tracks one spawned worker process, mirroring the
// teacher's healthMonitor/layoutWatcher shape: a cancel func plus a
// done channel for lifecycle management, here wrapping the process
// itself rather than just a monitor goroutine.
type ChildHandle struct {
	InstanceID   identity.ID
	TemplateName string
	PID          int
	SocketPath   string
	LogPath      string

	cmd *exec.Cmd

	mu    sync.Mutex
	state identity.State

	healthCancel context.CancelFunc
	healthDone   chan struct{}

	exited chan struct{}
	waitErr error
}

func (c *ChildHandle) State() identity.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ChildHandle) setState(s identity.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Manager owns the live map of instance ID → ChildHandle. Per spec §9,
// this map is the single owner of mutable process state inside the
// daemon; the on-disk [identity.Registry] is written on every
// transition purely as a crash-recovery mirror.
type Manager struct {
	mu       sync.Mutex
	children map[identity.ID]*ChildHandle

	registry *identity.Registry
	logger   *slog.Logger

	socketDir string
	logDir    string

	healthInterval time.Duration
	gracePeriod    time.Duration
	killTimeout    time.Duration
	startupTimeout time.Duration

	// onCrash is invoked (outside any lock) whenever the health monitor
	// declares an instance Crashed, after repeated missed pings or on
	// seeing the process exit. cmd/agod's callback logs the crash and
	// closes the instance's router queue; clients already streaming the
	// instance's log are not sent any crash event.
	onCrash func(identity.ID)
}

// New constructs a Manager. socketDir and logDir are the
// `processes/` and `logs/` directories under the daemon's base
// directory (spec §6).
func New(registry *identity.Registry, logger *slog.Logger, socketDir, logDir string, onCrash func(identity.ID)) *Manager {
	return &Manager{
		children:       make(map[identity.ID]*ChildHandle),
		registry:       registry,
		logger:         logger,
		socketDir:      socketDir,
		logDir:         logDir,
		healthInterval: DefaultHealthInterval,
		gracePeriod:    DefaultGracePeriod,
		killTimeout:    DefaultKillTimeout,
		startupTimeout: DefaultStartupTimeout,
		onCrash:        onCrash,
	}
}

// SocketPath returns the per-instance socket path for id, per spec §6
// (`processes/<instance-id>.sock`).
func (m *Manager) SocketPath(id identity.ID) string {
	return filepath.Join(m.socketDir, string(id)+".sock")
}

func (m *Manager) logPath(id identity.ID) string {
	return filepath.Join(m.logDir, string(id)+".log")
}

// Spawn starts a worker process for instance id running template
// templateName, via workerBinary. args are appended after the
// standard instance/template/socket/config flags so callers can pass
// through additional worker flags.
//
// Spawn blocks until the worker answers a Ping on its socket (the
// startup handshake described in spec §4.5) or startupTimeout elapses,
// at which point it returns SpawnFailed and the partially-started
// process is killed.
func (m *Manager) Spawn(ctx context.Context, id identity.ID, templateName, workerBinary, configPath string, args ...string) (*ChildHandle, error) {
	if err := os.MkdirAll(m.socketDir, 0o755); err != nil {
		return nil, fmt.Errorf("processmgr: creating socket directory: %w", err)
	}
	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("processmgr: creating log directory: %w", err)
	}

	socketPath := m.SocketPath(id)
	logPath := m.logPath(id)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, agoerr.Wrap(agoerr.SpawnFailed, fmt.Errorf("opening log file: %w", err))
	}

	fullArgs := append([]string{
		"-instance", string(id),
		"-template", templateName,
		"-socket", socketPath,
		"-config", configPath,
	}, args...)

	cmd := exec.Command(workerBinary, fullArgs...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, agoerr.Wrap(agoerr.SpawnFailed, fmt.Errorf("starting worker process: %w", err))
	}

	child := &ChildHandle{
		InstanceID:   id,
		TemplateName: templateName,
		PID:          cmd.Process.Pid,
		SocketPath:   socketPath,
		LogPath:      logPath,
		cmd:          cmd,
		state:        identity.StateStarting,
		exited:       make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		logFile.Close()
		child.mu.Lock()
		child.waitErr = err
		child.mu.Unlock()
		close(child.exited)
	}()

	if err := m.registry.Mutate(func(records map[identity.ID]identity.Record) {
		records[id] = identity.Record{
			InstanceID:   id,
			PID:          child.PID,
			SocketPath:   socketPath,
			TemplateName: templateName,
			State:        identity.StateStarting,
			SpawnTime:    time.Now(),
		}
	}); err != nil {
		m.logger.Error("recording registry entry for spawned instance", "instance", id, "error", err)
	}

	if err := m.awaitReady(ctx, child); err != nil {
		m.killNow(child)
		m.cleanupFiles(id)
		return nil, err
	}

	child.setState(identity.StateReady)
	m.updateRegistryState(id, identity.StateReady)

	m.mu.Lock()
	m.children[id] = child
	m.mu.Unlock()

	m.startHealthMonitor(child)

	return child, nil
}

// awaitReady polls the worker's socket with Ping until it responds or
// startupTimeout elapses.
func (m *Manager) awaitReady(ctx context.Context, child *ChildHandle) error {
	deadline := time.Now().Add(m.startupTimeout)
	const pollInterval = 50 * time.Millisecond

	for {
		select {
		case <-child.exited:
			return agoerr.New(agoerr.SpawnFailed, "worker process for %s exited before becoming ready", child.InstanceID)
		case <-ctx.Done():
			return agoerr.Wrap(agoerr.SpawnFailed, ctx.Err())
		default:
		}

		if Ping(child.SocketPath, pollInterval) == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return agoerr.New(agoerr.SpawnFailed, "worker for %s did not become ready within %s", child.InstanceID, m.startupTimeout)
		}
		time.Sleep(pollInterval)
	}
}

// Ping dials socketPath and sends a Ping request, returning nil only
// if the instance responds within timeout. A worker answers Ping in
// every lifecycle state once its control socket is serving, including
// while it is Thinking or Observing.
func Ping(socketPath string, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if err := wire.WriteFrame(conn, wire.KindRequest, wire.Request{Op: wire.OpPing}); err != nil {
		return err
	}
	kind, body, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if kind != wire.KindResponse {
		return fmt.Errorf("processmgr: unexpected frame kind %v replying to ping", kind)
	}
	var resp wire.Response
	if err := wire.Decode(body, &resp); err != nil {
		return err
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("processmgr: ping rejected: %s", resp.ErrorMessage)
	}
	return nil
}

func (m *Manager) updateRegistryState(id identity.ID, state identity.State) {
	if err := m.registry.Mutate(func(records map[identity.ID]identity.Record) {
		rec, ok := records[id]
		if !ok {
			return
		}
		rec.State = state
		records[id] = rec
	}); err != nil {
		m.logger.Error("updating registry state", "instance", id, "state", state, "error", err)
	}
}

// Get returns the ChildHandle for id, if a worker is currently live.
func (m *Manager) Get(id identity.ID) (*ChildHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	child, ok := m.children[id]
	return child, ok
}

// List returns every currently-tracked ChildHandle. Satisfies spec §8
// property 1 when paired with the caller re-verifying liveness via
// Ping: for all instance IDs in `ps` output, the worker PID is alive
// and its socket responds.
func (m *Manager) List() []*ChildHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChildHandle, 0, len(m.children))
	for _, c := range m.children {
		out = append(out, c)
	}
	return out
}

func (m *Manager) cleanupFiles(id identity.ID) {
	os.Remove(m.SocketPath(id))
}

func (m *Manager) killNow(child *ChildHandle) {
	if child.cmd.Process != nil {
		child.cmd.Process.Signal(syscall.SIGKILL)
	}
	select {
	case <-child.exited:
	case <-time.After(2 * time.Second):
	}
}
