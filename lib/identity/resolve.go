// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"sort"
	"sync"

	"github.com/agoctl/ago/lib/agoerr"
)

// Index maintains the daemon's human-friendly lookup: a name (either a
// bare template name or a custom per-instance name) may resolve to one
// or more instance IDs. resolveAgent("researcher") in spec §4.4 is
// [Index.Resolve] here.
type Index struct {
	mu sync.RWMutex
	// byName maps a display name to the set of instance IDs currently
	// registered under it. Most names map to exactly one ID; more than
	// one means the name is ambiguous until the caller disambiguates
	// with the full instance ID.
	byName map[string]map[ID]struct{}
}

// NewIndex returns an empty name index.
func NewIndex() *Index {
	return &Index{byName: make(map[string]map[ID]struct{})}
}

// Add registers id under name (typically the template name; callers
// may additionally register a custom per-instance name).
func (idx *Index) Add(name string, id ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.byName[name]
	if !ok {
		set = make(map[ID]struct{})
		idx.byName[name] = set
	}
	set[id] = struct{}{}
}

// Remove unregisters id from name. The daemon's reap paths do not call
// it, so a stopped or crashed instance's name stays registered.
func (idx *Index) Remove(name string, id ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.byName[name]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx.byName, name)
	}
}

// Resolve looks up name (template name or custom name) and returns the
// single matching instance ID. Returns AmbiguousAgent listing the
// candidates when more than one instance matches, and NoSuchAgent when
// none do. Callers that already hold a full instance ID should prefer
// [Index.ResolveExact], which skips name resolution entirely.
func (idx *Index) Resolve(name string) (ID, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set, ok := idx.byName[name]
	if !ok {
		return "", agoerr.New(agoerr.NoSuchAgent, "no agent named %q", name)
	}
	if len(set) == 1 {
		for id := range set {
			return id, nil
		}
	}

	candidates := make([]string, 0, len(set))
	for id := range set {
		candidates = append(candidates, string(id))
	}
	sort.Strings(candidates)
	return "", agoerr.New(agoerr.AmbiguousAgent, "%q matches %d instances: %v", name, len(candidates), candidates)
}

// ResolveExact reports whether id is currently a live instance ID in
// the index, without name resolution. Used to validate a
// client-supplied instance ID directly (the `send`/`stop` fast path
// when the caller already has the full ID).
func (idx *Index) ResolveExact(id ID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, set := range idx.byName {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
