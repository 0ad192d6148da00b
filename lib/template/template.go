// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package template implements the agent template registry (spec §4.2,
// component C2): discovering, resolving, and loading immutable
// per-agent-kind declarations from a layered set of directories.
//
// Templates are resolved by name only — [Template.Version] is
// informational and never consulted by [Registry.Resolve] or
// [Registry.List], per spec §4.2's stated invariant.
package template

import "fmt"

// Layer identifies which discovery layer a Template was found in.
// Precedence between layers is configured, not hard-coded — see
// [Registry] — but the three layers themselves are fixed by spec §6.
type Layer string

const (
	LayerLocal   Layer = "local"
	LayerBuiltin Layer = "builtin"
	LayerPulled  Layer = "pulled"
)

// Template is the immutable, fully-parsed representation of one agent
// template file. Within one discovery layer a name maps to one file:
// when several extensions exist for the same name, the first of .yaml,
// .yml, .toml wins. Across layers, the higher-precedence layer's copy
// wins and the other is invisible to both [Registry.Resolve] and
// [Registry.List].
type Template struct {
	Name        string         `yaml:"name" toml:"name"`
	Version     string         `yaml:"version" toml:"version"`
	Description string         `yaml:"description" toml:"description"`
	Author      string         `yaml:"author" toml:"author"`
	Model       string         `yaml:"model" toml:"model"`
	Temperature float64        `yaml:"temperature" toml:"temperature"`
	Tools       []string       `yaml:"tools" toml:"tools"`
	Prompt      string         `yaml:"prompt" toml:"prompt"`
	Metadata    map[string]any `yaml:"metadata,omitempty" toml:"metadata,omitempty"`

	// Layer and SourcePath are populated by the registry when a
	// template is loaded; they are not part of the on-disk file and
	// carry no weight in equality or resolution. Layer is shown by
	// `templates`; SourcePath is the file `pull` copies.
	Layer      Layer  `yaml:"-" toml:"-"`
	SourcePath string `yaml:"-" toml:"-"`
}

// Summary is the projection of a Template returned by [Registry.List]:
// enough to render a `templates` table without loading every field.
type Summary struct {
	Name        string
	Version     string
	Description string
	Layer       Layer
}

func (t Template) Summary() Summary {
	return Summary{Name: t.Name, Version: t.Version, Description: t.Description, Layer: t.Layer}
}

// validate checks that the required keys spec §4.2 lists are present
// and well-typed, returning a BadTemplate error naming the offending
// field if not.
func (t Template) validate() error {
	if t.Name == "" {
		return fmt.Errorf("missing required field: name")
	}
	if t.Model == "" {
		return fmt.Errorf("missing required field: model")
	}
	if t.Prompt == "" {
		return fmt.Errorf("missing required field: prompt")
	}
	return nil
}
