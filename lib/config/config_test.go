// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMergeScalarsOverwriteAndListsReplace(t *testing.T) {
	base := &Config{
		DefaultModel:             "claude-haiku",
		TemplateResolutionOrder:  []string{"builtin"},
		Registries:               map[string]RegistryEntry{"a": {Name: "a", Priority: 1}},
	}
	overlay := &Config{
		TemplateResolutionOrder: []string{"local", "builtin"},
		Registries:              map[string]RegistryEntry{"b": {Name: "b", Priority: 2}},
	}

	merged := Merge(base, overlay)

	if merged.DefaultModel != "claude-haiku" {
		t.Errorf("DefaultModel = %q, want unchanged claude-haiku (overlay left it zero)", merged.DefaultModel)
	}
	if len(merged.TemplateResolutionOrder) != 2 || merged.TemplateResolutionOrder[0] != "local" {
		t.Errorf("TemplateResolutionOrder = %v, want overlay's list to fully replace base's", merged.TemplateResolutionOrder)
	}
	if len(merged.Registries) != 2 {
		t.Errorf("Registries = %+v, want deep-merged map with both keys", merged.Registries)
	}
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestExpandEnvUnknownNameIsEmpty(t *testing.T) {
	t.Setenv("AGO_TEST_VAR", "resolved")

	cfg := &Config{DefaultModel: "${AGO_TEST_VAR}-${AGO_TEST_UNSET}"}
	expandEnv(cfg)

	if cfg.DefaultModel != "resolved-" {
		t.Errorf("DefaultModel = %q, want %q", cfg.DefaultModel, "resolved-")
	}
}

func TestStoreSetRegistryPersistsAndInvalidates(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "config.yaml")
	localPath := filepath.Join(dir, "local.yaml")

	if err := os.WriteFile(globalPath, []byte("default_model: claude-haiku\n"), 0o644); err != nil {
		t.Fatalf("writing global config: %v", err)
	}

	store, err := NewStore(globalPath, localPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	invalidated := store.Invalidated()

	if err := store.SetRegistry(RegistryEntry{Name: "mine", Kind: RegistryBuiltin, Priority: 1, Enabled: true}); err != nil {
		t.Fatalf("SetRegistry: %v", err)
	}

	select {
	case <-invalidated:
	default:
		t.Fatal("Invalidated channel was not closed after SetRegistry")
	}

	if _, ok := store.Get().Registries["mine"]; !ok {
		t.Fatal("registry entry not present in merged view")
	}

	// Reloading from disk should see the same entry — Set persisted it.
	reloaded, err := NewStore(globalPath, localPath)
	if err != nil {
		t.Fatalf("NewStore (reload): %v", err)
	}
	if reloaded.Get().DefaultModel != "claude-haiku" {
		t.Errorf("DefaultModel = %q, want claude-haiku from global file", reloaded.Get().DefaultModel)
	}
	if _, ok := reloaded.Get().Registries["mine"]; !ok {
		t.Fatal("registry entry did not survive reload from disk")
	}
}
