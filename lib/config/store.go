// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store owns the merged view of the global and per-working-directory
// config files and exposes read accessors plus dedicated set
// operations. Writes always go through Set*, never direct field
// mutation — each Set rewrites the appropriate file on disk and
// signals Invalidated so long-lived daemon state (the template
// registry's configured layer order, in particular) knows to reload.
type Store struct {
	mu sync.RWMutex

	globalPath string
	localPath  string
	current    *Config

	invalidated chan struct{}
}

// NewStore loads globalPath and localPath and returns a Store backed
// by their merge. localPath may not exist; see [Load].
func NewStore(globalPath, localPath string) (*Store, error) {
	merged, err := LoadMerged(globalPath, localPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		globalPath:  globalPath,
		localPath:   localPath,
		current:     merged,
		invalidated: make(chan struct{}),
	}, nil
}

// Get returns the current merged configuration. The returned pointer
// must be treated as read-only by the caller.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Invalidated returns a channel that is closed the next time the
// store's configuration changes via a Set* call. Callers that need to
// react to every change (not just the first) must call Invalidated
// again after each signal — a channel closed exactly once per event,
// not a reusable broadcast.
func (s *Store) Invalidated() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalidated
}

// SetDefaultModel rewrites the per-working-directory config file with
// a new default model and reloads the merged view.
func (s *Store) SetDefaultModel(model string) error {
	return s.mutateLocal(func(cfg *Config) { cfg.DefaultModel = model })
}

// SetTemplateResolutionOrder rewrites the per-working-directory config
// file with a new layer order.
func (s *Store) SetTemplateResolutionOrder(order []string) error {
	return s.mutateLocal(func(cfg *Config) { cfg.TemplateResolutionOrder = order })
}

// SetRegistry adds or replaces a named registry entry in the
// per-working-directory config file (`registry add`).
func (s *Store) SetRegistry(entry RegistryEntry) error {
	return s.mutateLocal(func(cfg *Config) {
		if cfg.Registries == nil {
			cfg.Registries = make(map[string]RegistryEntry)
		}
		cfg.Registries[entry.Name] = entry
	})
}

// RemoveRegistry deletes a named registry entry (`registry remove`).
func (s *Store) RemoveRegistry(name string) error {
	return s.mutateLocal(func(cfg *Config) { delete(cfg.Registries, name) })
}

// mutateLocal loads the local overlay file fresh (so concurrent
// external edits aren't clobbered), applies mutate, writes it back,
// then recomputes the merged view and fires the invalidation signal.
func (s *Store) mutateLocal(mutate func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, err := Load(s.localPath)
	if err != nil {
		return err
	}
	mutate(local)

	if err := writeFile(s.localPath, local); err != nil {
		return err
	}

	merged, err := LoadMerged(s.globalPath, s.localPath)
	if err != nil {
		return err
	}
	s.current = merged

	close(s.invalidated)
	s.invalidated = make(chan struct{})
	return nil
}

func writeFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	temporaryPath := path + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temporary config file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming config file into place: %w", err)
	}
	return nil
}
