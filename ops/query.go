// Package ops implements the user-level operations — install, create,
// update, remove, list, clean, info — on top of the engine packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package ops

import (
	"fmt"
	"regexp"
	"sort"

	humanize "github.com/dustin/go-humanize"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/vpkg"
)

// List prints the installed records, optionally filtered by a name regex.
func (op *Operation) List(pattern string) error {
	pd, err := prefix.Load(op.Config.TargetPrefix, op.Log)
	if err != nil {
		return err
	}
	var rx *regexp.Regexp
	if pattern != "" {
		if rx, err = regexp.Compile(pattern); err != nil {
			return cmn.NewWrapped(cmn.KindInvalidSpec, err, "bad list pattern %q", pattern)
		}
	}
	fmt.Fprintf(op.Out, "# packages in environment at %s:\n", pd.Root())
	fmt.Fprintf(op.Out, "#\n# %-24s %-14s %-16s %s\n", "Name", "Version", "Build", "Channel")
	for _, rec := range pd.Records() {
		if rx != nil && !rx.MatchString(rec.Name) {
			continue
		}
		fmt.Fprintf(op.Out, "  %-24s %-14s %-16s %s\n", rec.Name, rec.Version, rec.Build, rec.Channel)
	}
	return nil
}

// Info prints platform, prefixes, virtual packages, channels, and where
// the configuration came from.
func (op *Operation) Info(verbose bool) error {
	cfg := op.Config
	fmt.Fprintf(op.Out, "%16s : %s\n", "platform", cfg.Platform)
	fmt.Fprintf(op.Out, "%16s : %s\n", "root prefix", cfg.RootPrefix)
	fmt.Fprintf(op.Out, "%16s : %s\n", "target prefix", cfg.TargetPrefix)
	fmt.Fprintf(op.Out, "%16s : %v\n", "pkgs dirs", cfg.PkgsDirs)

	virtual := vpkg.Detect(cfg.Platform, vpkg.FromEnviron(op.env))
	names := make([]string, 0, len(virtual))
	for _, rec := range virtual {
		names = append(names, rec.Name+"="+rec.Version)
	}
	sort.Strings(names)
	fmt.Fprintf(op.Out, "%16s : %v\n", "virtual packages", names)

	channels, err := op.Channels(nil)
	if err == nil {
		for i, ch := range channels {
			label := ""
			if i == 0 {
				label = "channels"
			}
			fmt.Fprintf(op.Out, "%16s : %s (%s)\n", label, ch.DisplayName, cmn.StripURLAuth(ch.URL))
		}
	}
	if verbose {
		keys := make([]string, 0, len(cfg.Sources))
		for k := range cfg.Sources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(op.Out, "%16s : %s <- %s\n", "config", k, cfg.Sources[k])
		}
	}
	return nil
}

// EnvList renders the known prefixes.
func (op *Operation) EnvList() error {
	fmt.Fprintf(op.Out, "# environments:\n")
	for _, p := range op.KnownPrefixes() {
		marker := " "
		if p == op.Config.TargetPrefix {
			marker = "*"
		}
		fmt.Fprintf(op.Out, "%s %s\n", marker, p)
	}
	return nil
}

// sizeOf is shared by the clean reporters.
func sizeOf(path string) string {
	size, err := cmn.DirSize(path)
	if err != nil {
		return "?"
	}
	return humanize.IBytes(uint64(size))
}
