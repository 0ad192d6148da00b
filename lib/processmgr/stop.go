// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package processmgr

import (
	"context"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/identity"
	"github.com/agoctl/ago/lib/wire"
)

// Stop terminates the instance identified by id following the
// escalation spec §4.5 requires: a graceful Shutdown request over the
// worker's socket, then up to gracePeriod for it to exit on its own,
// then SIGTERM and up to killTimeout, then SIGKILL. Stop always
// reaches a terminal state — it never returns having left the process
// running.
func (m *Manager) Stop(ctx context.Context, id identity.ID) error {
	m.mu.Lock()
	child, ok := m.children[id]
	m.mu.Unlock()
	if !ok {
		return agoerr.New(agoerr.NotRunning, "instance %s is not running", id)
	}

	child.setState(identity.StateStopping)
	m.updateRegistryState(id, identity.StateStopping)

	if child.healthCancel != nil {
		child.healthCancel()
		<-child.healthDone
	}

	m.sendShutdown(child.SocketPath)

	if m.waitExit(child, m.gracePeriod) {
		m.finishStop(child)
		return nil
	}

	m.logger.Warn("instance did not exit gracefully, sending SIGTERM", "instance", id)
	if child.cmd.Process != nil {
		child.cmd.Process.Signal(syscall.SIGTERM)
	}

	if m.waitExit(child, m.killTimeout) {
		m.finishStop(child)
		return nil
	}

	m.logger.Warn("instance did not exit after SIGTERM, sending SIGKILL", "instance", id)
	m.killNow(child)
	m.finishStop(child)
	return nil
}

// sendShutdown best-effort notifies the worker to begin a graceful
// shutdown. A dial/write failure here just means the worker is
// already gone or unresponsive — the escalation below handles that.
func (m *Manager) sendShutdown(socketPath string) {
	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
	wire.WriteFrame(conn, wire.KindRequest, wire.Request{Op: wire.OpShutdown})
}

func (m *Manager) waitExit(child *ChildHandle, timeout time.Duration) bool {
	select {
	case <-child.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

// finishStop records the terminal state and reaps the instance's
// filesystem footprint (socket file, registry entry).
func (m *Manager) finishStop(child *ChildHandle) {
	child.setState(identity.StateStopped)
	m.Reap(child.InstanceID)
}

// Reap removes id's live tracking entry, socket file, and registry
// record. Safe to call on an instance that already exited on its own
// (e.g. after a crash) as well as after an explicit Stop.
func (m *Manager) Reap(id identity.ID) {
	m.mu.Lock()
	delete(m.children, id)
	m.mu.Unlock()

	os.Remove(m.SocketPath(id))

	if err := m.registry.Mutate(func(records map[identity.ID]identity.Record) {
		delete(records, id)
	}); err != nil {
		m.logger.Error("removing registry entry during reap", "instance", id, "error", err)
	}
}

// PurgeOrphans runs at daemon startup (spec §4.5): any registry entry
// left over from a previous daemon run whose PID is dead, or whose
// socket no longer answers a Ping, is purged so `ps` never reports a
// phantom instance.
func (m *Manager) PurgeOrphans() ([]identity.Record, error) {
	return m.registry.PurgeStale(func(rec identity.Record) bool {
		return Ping(rec.SocketPath, 200*time.Millisecond) == nil
	})
}
