// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package processmgr

import (
	"context"
	"time"

	"github.com/agoctl/ago/lib/identity"
)

// startHealthMonitor launches the per-instance health-check goroutine,
// modeled directly on the teacher's runHealthMonitor: a ticker loop
// under a cancelable context, tracking consecutive failures and
// declaring the instance Crashed once FailureThreshold is reached.
func (m *Manager) startHealthMonitor(child *ChildHandle) {
	ctx, cancel := context.WithCancel(context.Background())
	child.healthCancel = cancel
	child.healthDone = make(chan struct{})

	go m.runHealthMonitor(ctx, child)
}

func (m *Manager) runHealthMonitor(ctx context.Context, child *ChildHandle) {
	defer close(child.healthDone)

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-child.exited:
			// The exit-waiter goroutine already observed the process
			// die; treat that as an immediate crash unless we're mid
			// graceful Stop (which cancels ctx before the process
			// actually exits in the common case, racing harmlessly
			// against this select).
			select {
			case <-ctx.Done():
				return
			default:
			}
			m.declareCrashed(child)
			return
		case <-ticker.C:
			if m.checkHealth(child) {
				consecutiveFailures = 0
				continue
			}
			consecutiveFailures++
			m.logger.Warn("health check failed", "instance", child.InstanceID, "consecutive_failures", consecutiveFailures)
			if consecutiveFailures >= FailureThreshold {
				m.declareCrashed(child)
				return
			}
		}
	}
}

// checkHealth reports whether child's socket answered a Ping within
// half a health-check interval.
func (m *Manager) checkHealth(child *ChildHandle) bool {
	return Ping(child.SocketPath, m.healthInterval/2) == nil
}

func (m *Manager) declareCrashed(child *ChildHandle) {
	child.setState(identity.StateCrashed)
	m.updateRegistryState(child.InstanceID, identity.StateCrashed)
	m.logger.Error("instance crashed", "instance", child.InstanceID)

	m.mu.Lock()
	delete(m.children, child.InstanceID)
	m.mu.Unlock()
	m.cleanupFiles(child.InstanceID)

	if m.onCrash != nil {
		m.onCrash(child.InstanceID)
	}
}
