// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/agoctl/ago/lib/agoerr"
	"gopkg.in/yaml.v3"
)

// extensions lists the file extensions a layer directory is searched
// for, in priority order. Bureau-style templates are YAML; the .toml
// form exists so a layer directory can host either without a naming
// collision, exactly as the spec's "fixed extension" becomes a fixed
// extension *set* once more than one serialization is in play.
var extensions = []string{".yaml", ".yml", ".toml"}

// Registry resolves template names against an ordered list of
// discovery layers. The order is supplied by the configuration store
// (spec §3: "template resolution order"); a missing layer directory is
// not an error — it is treated as empty, per spec §4.2.
type Registry struct {
	layers []layerDir
}

type layerDir struct {
	layer Layer
	dir   string
}

// New builds a Registry from an ordered list of (layer, directory)
// pairs. order[0] has the highest precedence.
func New(order []Layer, dirs map[Layer]string) *Registry {
	r := &Registry{}
	for _, layer := range order {
		dir, ok := dirs[layer]
		if !ok || dir == "" {
			continue
		}
		r.layers = append(r.layers, layerDir{layer: layer, dir: dir})
	}
	return r
}

// Resolve searches layers in configured precedence order and returns
// the first template named name. Within a layer, templates are
// located by exact filename match; the first layer to contain a file
// for name wins, satisfying spec §4.2's tie-break rule and property 6
// in spec §8 (local precedes builtin ⇒ local wins).
func (r *Registry) Resolve(name string) (*Template, error) {
	for _, ld := range r.layers {
		path, found := findTemplateFile(ld.dir, name)
		if !found {
			continue
		}
		tmpl, err := Load(path)
		if err != nil {
			return nil, err
		}
		tmpl.Layer = ld.layer
		tmpl.SourcePath = path
		return tmpl, nil
	}
	return nil, agoerr.New(agoerr.NoSuchTemplate, "no template named %q in any layer", name)
}

// List enumerates every layer's directory, deduplicating by name and
// keeping the highest-precedence entry (per spec §4.2). Returned
// summaries are sorted by name for stable CLI output.
func (r *Registry) List() ([]Summary, error) {
	seen := make(map[string]Summary)
	order := make([]string, 0)

	for _, ld := range r.layers {
		entries, err := os.ReadDir(ld.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("listing template layer %s (%s): %w", ld.layer, ld.dir, err)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name, ok := templateNameFromFilename(entry.Name())
			if !ok {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if _, exists := seen[name]; exists {
				// Higher-precedence layer already claimed this name.
				continue
			}
			path, found := findTemplateFile(ld.dir, name)
			if !found {
				continue
			}
			tmpl, err := Load(path)
			if err != nil {
				// A malformed template in a lower-priority layer
				// shouldn't hide the rest of the listing; surface it
				// as an unusable entry instead of aborting List.
				seen[name] = Summary{Name: name, Description: fmt.Sprintf("<invalid: %v>", err), Layer: ld.layer}
				order = append(order, name)
				continue
			}
			tmpl.Layer = ld.layer
			seen[name] = tmpl.Summary()
			order = append(order, name)
		}
	}

	sort.Strings(order)
	result := make([]Summary, 0, len(order))
	for _, name := range order {
		result = append(result, seen[name])
	}
	return result, nil
}

// Load parses a single template file into a Template. The
// serialization format is selected by file extension (.yaml/.yml or
// .toml). Required-field validation happens after parsing so a
// missing key is reported with the field name, per spec §4.2's
// BadTemplate contract.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}

	var tmpl Template
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return nil, agoerr.Wrap(agoerr.BadTemplate, fmt.Errorf("parsing %s: %w", path, err))
		}
	case ".toml":
		if err := toml.Unmarshal(data, &tmpl); err != nil {
			return nil, agoerr.Wrap(agoerr.BadTemplate, fmt.Errorf("parsing %s: %w", path, err))
		}
	default:
		return nil, agoerr.New(agoerr.BadTemplate, "unrecognized template extension %q", ext)
	}

	if err := tmpl.validate(); err != nil {
		return nil, agoerr.Wrap(agoerr.BadTemplate, fmt.Errorf("%s: %w", path, err))
	}

	tmpl.SourcePath = path
	return &tmpl, nil
}

// findTemplateFile looks for name+ext in dir for each extension in
// priority order, returning the first that exists.
func findTemplateFile(dir, name string) (path string, found bool) {
	for _, ext := range extensions {
		candidate := filepath.Join(dir, name+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// templateNameFromFilename strips a recognized template extension from
// a directory entry's name, returning ok=false for files that don't
// carry one of the recognized extensions.
func templateNameFromFilename(filename string) (name string, ok bool) {
	for _, ext := range extensions {
		if strings.HasSuffix(filename, ext) {
			return strings.TrimSuffix(filename, ext), true
		}
	}
	return "", false
}
