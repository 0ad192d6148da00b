// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// State is one instance's lifecycle state as recorded in the registry
// file and surfaced by `ps`/`inspect`.
type State string

const (
	StateStarting State = "Starting"
	StateReady    State = "Ready"
	StateStopping State = "Stopping"
	StateStopped  State = "Stopped"
	StateCrashed  State = "Crashed"
)

// Record is one instance's entry in the on-disk registry mirror (spec
// §3 RegistryRecord). The registry file exists purely for crash
// recovery — spec §9 is explicit that it must never become a live
// source of truth while the daemon that owns it is running; the
// daemon's in-memory process-manager state is authoritative until the
// daemon restarts, at which point [Load] plus PID liveness checks
// reconstruct reality.
type Record struct {
	InstanceID   ID        `json:"instance_id"`
	PID          int       `json:"pid"`
	SocketPath   string    `json:"socket_path"`
	TemplateName string    `json:"template_name"`
	State        State     `json:"state"`
	SpawnTime    time.Time `json:"spawn_time"`
}

// Registry is the advisory-locked on-disk mapping instance ID →
// Record, written on every instance-state change and read by control
// clients (and the daemon itself, at startup) for crash-robust `ps`.
type Registry struct {
	path string
}

// NewRegistry returns a Registry backed by the file at path. The file
// and its parent directory are created on first write if absent.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Load reads every record currently on disk. A missing file yields an
// empty map rather than an error.
func (r *Registry) Load() (map[ID]Record, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[ID]Record), nil
		}
		return nil, fmt.Errorf("identity: opening registry %s: %w", r.path, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("identity: locking registry for read: %w", err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	var records []Record
	if err := json.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("identity: decoding registry %s: %w", r.path, err)
	}

	result := make(map[ID]Record, len(records))
	for _, rec := range records {
		result[rec.InstanceID] = rec
	}
	return result, nil
}

// Mutate opens the registry under an exclusive advisory lock, loads
// the current contents, lets fn modify the in-memory map, and
// atomically rewrites the file. Every instance-state transition in
// the process manager goes through Mutate so concurrent daemon
// goroutines (and any external reader mid-flight) never observe a
// torn write.
func (r *Registry) Mutate(fn func(map[ID]Record)) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("identity: creating registry directory: %w", err)
	}

	file, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("identity: opening registry %s: %w", r.path, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("identity: locking registry for write: %w", err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	records := make(map[ID]Record)
	var existing []Record
	if info, statErr := file.Stat(); statErr == nil && info.Size() > 0 {
		if err := json.NewDecoder(file).Decode(&existing); err != nil {
			return fmt.Errorf("identity: decoding registry %s: %w", r.path, err)
		}
		for _, rec := range existing {
			records[rec.InstanceID] = rec
		}
	}

	fn(records)

	serialized := make([]Record, 0, len(records))
	for _, rec := range records {
		serialized = append(serialized, rec)
	}

	// Atomic rewrite under the lock: truncate and write from the start
	// rather than write-temp-rename, because renaming would drop the
	// flock held on the original file descriptor.
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("identity: seeking registry %s: %w", r.path, err)
	}
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("identity: truncating registry %s: %w", r.path, err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(serialized); err != nil {
		return fmt.Errorf("identity: encoding registry %s: %w", r.path, err)
	}
	return file.Sync()
}

// PurgeStale removes every record whose PID is no longer alive or
// whose socket does not respond, per spec §4.5's startup orphan-
// cleanup: the daemon purges registry entries for processes that died
// while it wasn't running to reap them. probe is called once per
// remaining-candidate record (after the liveness check) to confirm the
// socket answers a Ping; pass nil to skip the socket probe and rely on
// PID liveness alone.
func (r *Registry) PurgeStale(probe func(Record) bool) (purged []Record, err error) {
	if err := r.Mutate(func(records map[ID]Record) {
		for id, rec := range records {
			if !pidAlive(rec.PID) {
				purged = append(purged, rec)
				delete(records, id)
				continue
			}
			if probe != nil && !probe(rec) {
				purged = append(purged, rec)
				delete(records, id)
			}
		}
	}); err != nil {
		return nil, err
	}
	return purged, nil
}

// pidAlive reports whether pid names a live process. Sending signal 0
// performs existence/permission checks without actually signaling the
// process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
