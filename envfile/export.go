// Package envfile parses and renders the environment interchange
// formats: environment YAML, @EXPLICIT lock files, and plain
// requirements text.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package envfile

import (
	"fmt"
	"io"
	"sort"

	"github.com/marmot-pm/marmot/prefix"
	yaml "gopkg.in/yaml.v3"
)

// ExportOpts mirror the CLI flags of `env export`.
type ExportOpts struct {
	Name          string
	Channels      []string
	Explicit      bool // URL-per-line with @EXPLICIT marker
	NoMD5         bool
	NoBuild       bool
	FromHistory   bool // only user-requested specs, via the journal
	ChannelSubdir bool // qualify specs with channel/subdir
	Platform      string
}

type exportedEnv struct {
	Name         string   `yaml:"name,omitempty"`
	Channels     []string `yaml:"channels,omitempty"`
	Dependencies []string `yaml:"dependencies"`
}

// Export renders the prefix in the selected format.
func Export(w io.Writer, pd *prefix.PrefixData, opts ExportOpts) error {
	if opts.Explicit {
		return exportExplicit(w, pd, opts)
	}
	return exportYAML(w, pd, opts)
}

func exportExplicit(w io.Writer, pd *prefix.PrefixData, opts ExportOpts) error {
	fmt.Fprintln(w, "# This file may be used to create an environment using:")
	fmt.Fprintln(w, "# $ marmot --name <env> create --file <this file>")
	if opts.Platform != "" {
		fmt.Fprintf(w, "# platform: %s\n", opts.Platform)
	}
	fmt.Fprintln(w, "@EXPLICIT")
	for _, rec := range pd.Records() {
		if rec.URL == "" {
			continue // virtual or locally imported records have no URL
		}
		line := rec.URL
		if !opts.NoMD5 && rec.MD5 != "" {
			line += "#" + rec.MD5
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func exportYAML(w io.Writer, pd *prefix.PrefixData, opts ExportOpts) error {
	out := exportedEnv{Name: opts.Name, Channels: opts.Channels}

	if opts.FromHistory {
		requested, err := pd.History().Requested()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(requested))
		for name := range requested {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out.Dependencies = append(out.Dependencies, requested[name].String())
		}
	} else {
		for _, rec := range pd.Records() {
			dep := rec.Name + "=" + rec.Version
			if !opts.NoBuild {
				dep += "=" + rec.Build
			}
			if opts.ChannelSubdir && rec.Channel != "" {
				dep = rec.Channel + "/" + rec.Subdir + "::" + dep
			}
			out.Dependencies = append(out.Dependencies, dep)
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return err
	}
	return enc.Close()
}
