// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
)

// TestMintProducesDistinctIDs covers spec §8 property 2: rapid
// successive runs of the same template never collide.
func TestMintProducesDistinctIDs(t *testing.T) {
	seen := make(map[ID]bool)
	exists := func(id ID) bool { return seen[id] }

	for i := 0; i < 100; i++ {
		id, err := Mint("researcher", exists)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if seen[id] {
			t.Fatalf("Mint produced duplicate ID %q", id)
		}
		seen[id] = true
	}
}

func TestIndexResolveAmbiguous(t *testing.T) {
	idx := NewIndex()
	idx.Add("researcher", "researcher-aaaaaaaa")
	idx.Add("researcher", "researcher-bbbbbbbb")

	_, err := idx.Resolve("researcher")
	if !agoerr.Is(err, agoerr.AmbiguousAgent) {
		t.Fatalf("err = %v, want AmbiguousAgent", err)
	}
}

func TestIndexResolveUniqueAndRemove(t *testing.T) {
	idx := NewIndex()
	idx.Add("researcher", "researcher-aaaaaaaa")

	id, err := idx.Resolve("researcher")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "researcher-aaaaaaaa" {
		t.Errorf("id = %q", id)
	}

	idx.Remove("researcher", "researcher-aaaaaaaa")
	if _, err := idx.Resolve("researcher"); !agoerr.Is(err, agoerr.NoSuchAgent) {
		t.Fatalf("err = %v, want NoSuchAgent after removal", err)
	}
}

func TestRegistryMutateAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg := NewRegistry(path)

	err := reg.Mutate(func(records map[ID]Record) {
		records["researcher-aaaaaaaa"] = Record{
			InstanceID:   "researcher-aaaaaaaa",
			PID:          os.Getpid(),
			SocketPath:   "/tmp/researcher-aaaaaaaa.sock",
			TemplateName: "researcher",
			State:        StateReady,
			SpawnTime:    time.Now(),
		}
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	loaded, err := reg.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d records, want 1", len(loaded))
	}
	if loaded["researcher-aaaaaaaa"].PID != os.Getpid() {
		t.Errorf("PID mismatch")
	}
}

// TestPurgeStaleRemovesDeadPIDs covers spec §4.5: orphan cleanup at
// daemon startup purges entries whose PID is no longer alive.
func TestPurgeStaleRemovesDeadPIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg := NewRegistry(path)

	if err := reg.Mutate(func(records map[ID]Record) {
		records["live-aaaaaaaa"] = Record{InstanceID: "live-aaaaaaaa", PID: os.Getpid(), State: StateReady}
		records["dead-bbbbbbbb"] = Record{InstanceID: "dead-bbbbbbbb", PID: 999999, State: StateReady}
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	purged, err := reg.PurgeStale(nil)
	if err != nil {
		t.Fatalf("PurgeStale: %v", err)
	}
	if len(purged) != 1 || purged[0].InstanceID != "dead-bbbbbbbb" {
		t.Fatalf("purged = %+v, want exactly dead-bbbbbbbb", purged)
	}

	remaining, err := reg.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := remaining["live-aaaaaaaa"]; !ok {
		t.Error("live entry was incorrectly purged")
	}
	if _, ok := remaining["dead-bbbbbbbb"]; ok {
		t.Error("dead entry was not purged")
	}
}
