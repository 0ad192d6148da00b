// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides the two-level configuration store (spec
// §4.3, component C3): a global file under the user's home directory,
// overridden by an optional per-working-directory file.
//
// Merge rule: scalars overwrite, mappings deep-merge, lists fully
// replace. There is no cycle to
// detect — the merge is a one-shot fold of exactly two files, per
// spec §9's design note that config merging is not a graph problem.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RegistryKind identifies how a named template registry entry is
// fetched. "builtin" entries require no network access; the others
// name the forge flavor the (out-of-scope) remote-fetch layer speaks.
type RegistryKind string

const (
	RegistryBuiltin RegistryKind = "builtin"
	RegistryHTTP    RegistryKind = "http"
	RegistryGitHub  RegistryKind = "github-like"
	RegistryGitLab  RegistryKind = "gitlab-like"
)

// RegistryEntry is one named remote template source, as configured
// under the `registry` CLI subcommand (add/list/remove).
type RegistryEntry struct {
	Name     string       `yaml:"-"`
	URL      string       `yaml:"url,omitempty"`
	Kind     RegistryKind `yaml:"kind"`
	TokenRef string       `yaml:"token_ref,omitempty"`
	Priority int          `yaml:"priority"`
	Enabled  bool         `yaml:"enabled"`
}

// Config is the merged view of a daemon's configuration.
type Config struct {
	// DefaultModel names the model identifier used when a template
	// does not specify one explicitly.
	DefaultModel string `yaml:"default_model,omitempty"`

	// TemplateResolutionOrder lists layer names in precedence order,
	// drawn from {"local", "builtin", "pulled"}. See lib/template.
	TemplateResolutionOrder []string `yaml:"template_resolution_order,omitempty"`

	// Registries maps a registry name to its entry. Populated by the
	// `registry add/remove` operations.
	Registries map[string]RegistryEntry `yaml:"registries,omitempty"`

	// ToolServers maps a tool-server name (as referenced by a
	// template's Tools list) to the subprocess command that speaks
	// MCP over stdio for it. A template's Tools entry with no
	// matching key here makes agoworker exit at startup, which the
	// daemon reports as SpawnFailed.
	ToolServers map[string]ToolServerConfig `yaml:"tool_servers,omitempty"`
}

// ToolServerConfig names the subprocess agoworker launches to reach
// one MCP tool server.
type ToolServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// DefaultTemplateResolutionOrder is applied when a config specifies
// none, matching spec §4.2's stated default: local → pulled → builtin.
var DefaultTemplateResolutionOrder = []string{"local", "pulled", "builtin"}

// Default returns a Config with spec-mandated defaults applied.
func Default() *Config {
	return &Config{
		TemplateResolutionOrder: append([]string(nil), DefaultTemplateResolutionOrder...),
		Registries:              make(map[string]RegistryEntry),
		ToolServers:             make(map[string]ToolServerConfig),
	}
}

// Load reads a YAML config file from path. A missing file is not an
// error — it is treated as an empty Config, matching the layered
// resolver's "missing layer ⇒ empty" convention elsewhere in this
// system.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadMerged loads the global config and, if present, the
// per-working-directory overlay, and merges them with the overlay
// taking precedence. Defaults are applied to any field left unset by
// both files. Environment-variable substitution runs after the merge
// so overlay values can also reference ${VAR} placeholders.
func LoadMerged(globalPath, localPath string) (*Config, error) {
	global, err := Load(globalPath)
	if err != nil {
		return nil, err
	}
	local, err := Load(localPath)
	if err != nil {
		return nil, err
	}

	merged := Merge(global, local)
	applyDefaults(merged)
	expandEnv(merged)
	return merged, nil
}

// Merge applies overlay on top of base using the documented rule:
// scalars overwrite, mappings deep-merge (overlay wins on key
// conflict), lists fully replace (a non-empty overlay list replaces
// base's entirely — no element-wise dedup, because config lists like
// TemplateResolutionOrder are ordered precedence declarations where
// partial merging would silently reorder the operator's intent).
func Merge(base, overlay *Config) *Config {
	result := *base

	if overlay.DefaultModel != "" {
		result.DefaultModel = overlay.DefaultModel
	}
	if len(overlay.TemplateResolutionOrder) > 0 {
		result.TemplateResolutionOrder = overlay.TemplateResolutionOrder
	}

	if len(base.Registries) > 0 || len(overlay.Registries) > 0 {
		merged := make(map[string]RegistryEntry, len(base.Registries)+len(overlay.Registries))
		for name, entry := range base.Registries {
			entry.Name = name
			merged[name] = entry
		}
		for name, entry := range overlay.Registries {
			entry.Name = name
			merged[name] = entry
		}
		result.Registries = merged
	}

	if len(base.ToolServers) > 0 || len(overlay.ToolServers) > 0 {
		merged := make(map[string]ToolServerConfig, len(base.ToolServers)+len(overlay.ToolServers))
		for name, spec := range base.ToolServers {
			merged[name] = spec
		}
		for name, spec := range overlay.ToolServers {
			merged[name] = spec
		}
		result.ToolServers = merged
	}

	return &result
}

func applyDefaults(cfg *Config) {
	if len(cfg.TemplateResolutionOrder) == 0 {
		cfg.TemplateResolutionOrder = append([]string(nil), DefaultTemplateResolutionOrder...)
	}
	if cfg.Registries == nil {
		cfg.Registries = make(map[string]RegistryEntry)
	}
	if cfg.ToolServers == nil {
		cfg.ToolServers = make(map[string]ToolServerConfig)
	}
}

// varPattern matches ${NAME} placeholders. Unlike the teacher's
// expandVars, ago's spec (§4.3) specifies no "${VAR:-default}" form —
// unknown names simply evaluate to empty string.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv performs ${NAME} substitution on every string leaf in cfg,
// post-parse, per spec §4.3. Unknown names evaluate to empty.
func expandEnv(cfg *Config) {
	cfg.DefaultModel = expandString(cfg.DefaultModel)
	for i, layer := range cfg.TemplateResolutionOrder {
		cfg.TemplateResolutionOrder[i] = expandString(layer)
	}
	for name, entry := range cfg.Registries {
		entry.URL = expandString(entry.URL)
		entry.TokenRef = expandString(entry.TokenRef)
		cfg.Registries[name] = entry
	}
	for name, server := range cfg.ToolServers {
		server.Command = expandString(server.Command)
		for i, arg := range server.Args {
			server.Args[i] = expandString(arg)
		}
		cfg.ToolServers[name] = server
	}
}

func expandString(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
