// Package envfile parses and renders the environment interchange
// formats: environment YAML, @EXPLICIT lock files, and plain
// requirements text.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package envfile

import (
	"os"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	yaml "gopkg.in/yaml.v3"
)

type (
	// Environment is the parsed environment YAML after selector
	// evaluation. Pip dependencies pass through unresolved; this engine
	// does not manage them.
	Environment struct {
		Name     string
		Channels []string
		Specs    []string
		Pip      []string
		Platform string // not set by ParseEnvironmentYAML
	}

	// rawEnvironment matches the file shape: dependencies entries are
	// either strings, selector maps (sel(linux): spec), or a {pip: [...]}
	// map.
	rawEnvironment struct {
		Name         string      `yaml:"name"`
		Channels     []string    `yaml:"channels"`
		Dependencies []yaml.Node `yaml:"dependencies"`
	}
)

// Selector keys are include-if-true filters over the target platform.
var selectors = map[string]func(platform string) bool{
	"sel(linux)": func(p string) bool { return strings.HasPrefix(p, "linux") },
	"sel(osx)":   func(p string) bool { return strings.HasPrefix(p, "osx") },
	"sel(win)":   func(p string) bool { return strings.HasPrefix(p, "win") },
	"sel(unix)": func(p string) bool {
		return strings.HasPrefix(p, "linux") || strings.HasPrefix(p, "osx")
	},
}

// ParseEnvironmentYAML evaluates selectors against platform and splits
// conda specs from pip passthrough entries.
func ParseEnvironmentYAML(data []byte, platform string) (*Environment, error) {
	var raw rawEnvironment
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, cmn.NewWrapped(cmn.KindInvalidSpec, err, "malformed environment file")
	}
	env := &Environment{Name: raw.Name, Channels: raw.Channels}
	for i := range raw.Dependencies {
		if err := env.addDependency(&raw.Dependencies[i], platform); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (env *Environment) addDependency(node *yaml.Node, platform string) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return cmn.NewWrapped(cmn.KindInvalidSpec, err, "bad dependency entry")
		}
		if s = strings.TrimSpace(s); s != "" {
			env.Specs = append(env.Specs, s)
		}
		return nil
	case yaml.MappingNode:
		var m map[string]yaml.Node
		if err := node.Decode(&m); err != nil {
			return cmn.NewWrapped(cmn.KindInvalidSpec, err, "bad dependency entry")
		}
		for key, val := range m {
			switch {
			case key == "pip":
				var pips []string
				if err := val.Decode(&pips); err != nil {
					return cmn.NewWrapped(cmn.KindInvalidSpec, err, "bad pip block")
				}
				env.Pip = append(env.Pip, pips...)
			case strings.HasPrefix(key, "sel("):
				match, known := selectors[key]
				if !known {
					return cmn.New(cmn.KindInvalidSpec, "unknown selector %q", key)
				}
				if !match(platform) {
					continue
				}
				var s string
				if err := val.Decode(&s); err != nil {
					return cmn.NewWrapped(cmn.KindInvalidSpec, err, "bad selector entry %q", key)
				}
				env.Specs = append(env.Specs, strings.TrimSpace(s))
			default:
				return cmn.New(cmn.KindInvalidSpec, "unexpected dependency key %q", key)
			}
		}
		return nil
	}
	return cmn.New(cmn.KindInvalidSpec, "unexpected dependency node")
}

// ParseRequirements reads one spec per line; blank lines and # comments
// are skipped.
func ParseRequirements(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// FileKind sniffs a spec-file flavor by content and extension.
type FileKind int

const (
	KindRequirements FileKind = iota
	KindEnvironmentYAML
	KindExplicit
)

func DetectKind(path string, data []byte) FileKind {
	if IsExplicit(data) {
		return KindExplicit
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml") {
		return KindEnvironmentYAML
	}
	return KindRequirements
}

// ReadFile loads and classifies in one step.
func ReadFile(path string) (FileKind, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, cmn.Access(err, path)
	}
	return DetectKind(path, data), data, nil
}
