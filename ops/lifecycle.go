// Package ops implements the user-level operations — install, create,
// update, remove, list, clean, info — on top of the engine packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package ops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/solver"
	"github.com/marmot-pm/marmot/specs"
)

// Create makes a fresh prefix and installs into it. The prefix may be
// given by name (under envs/) or by path; args.Specs and args.Files may
// both be empty for a bare environment.
func (op *Operation) Create(ctx context.Context, name, path string, args InstallArgs) error {
	target, err := op.resolvePrefix(name, path)
	if err != nil {
		return err
	}
	if prefix.IsPrefix(target) {
		return cmn.New(cmn.KindConfiguration, "prefix %s already exists", target)
	}
	if err := os.MkdirAll(filepath.Join(target, prefix.MetaDirName), 0o755); err != nil {
		return cmn.Access(err, target)
	}
	op.Config.TargetPrefix = target
	if len(args.Specs) == 0 && len(args.Files) == 0 {
		op.Log.Infof("created empty prefix %s", target)
		return nil
	}
	return op.Install(ctx, args)
}

// Update re-solves the named packages (or everything) toward newer
// versions, honoring pins.
func (op *Operation) Update(ctx context.Context, args InstallArgs, all bool) error {
	var (
		jobs      []solver.Job
		requested = make(map[string]bool)
		rawSpecs  []string
	)
	if all {
		jobs = append(jobs, solver.Job{Kind: solver.JobUpdateAll})
	} else {
		if len(args.Specs) == 0 {
			return cmn.New(cmn.KindInvalidSpec, "update needs package names or --all")
		}
		for _, raw := range args.Specs {
			ms, err := specs.ParseMatchSpec(raw)
			if err != nil {
				return err
			}
			jobs = append(jobs, solver.Job{Kind: solver.JobUpdate, Spec: ms})
			requested[ms.Name] = true
			rawSpecs = append(rawSpecs, raw)
		}
	}
	return op.solveAndRun(ctx, jobs, requested, args.Cmd, args.Channels, rawSpecs, nil)
}

// Remove uninstalls the named packages and their orphaned dependents;
// with all set it deletes the entire prefix.
func (op *Operation) Remove(ctx context.Context, args InstallArgs, all bool) error {
	if all {
		return op.removePrefix()
	}
	if len(args.Specs) == 0 {
		return cmn.New(cmn.KindInvalidSpec, "remove needs package names or --all")
	}
	var (
		jobs      []solver.Job
		requested = make(map[string]bool)
		rawSpecs  []string
	)
	for _, raw := range args.Specs {
		ms, err := specs.ParseMatchSpec(raw)
		if err != nil {
			return err
		}
		jobs = append(jobs, solver.Job{Kind: solver.JobRemove, Spec: ms})
		requested[ms.Name] = true
		rawSpecs = append(rawSpecs, raw)
	}
	return op.solveAndRun(ctx, jobs, requested, args.Cmd, args.Channels, nil, rawSpecs)
}

func (op *Operation) removePrefix() error {
	target := op.Config.TargetPrefix
	if target == op.Config.RootPrefix {
		return cmn.New(cmn.KindConfiguration, "refusing to delete the root prefix")
	}
	if !prefix.IsPrefix(target) {
		return cmn.New(cmn.KindConfiguration, "%s is not a prefix", target)
	}
	if op.Confirm != nil && !op.Confirm() {
		return cmn.ErrCancelled
	}
	if err := os.RemoveAll(target); err != nil {
		return cmn.Access(err, target)
	}
	op.Log.Infof("removed prefix %s", target)
	return nil
}

// resolvePrefix maps -n NAME to <root>/envs/NAME and keeps -p PATH as
// given (absolutized).
func (op *Operation) resolvePrefix(name, path string) (string, error) {
	switch {
	case name != "" && path != "":
		return "", cmn.New(cmn.KindConfiguration, "give either a name or a path, not both")
	case name != "":
		if name == "base" {
			return op.Config.RootPrefix, nil
		}
		return filepath.Join(op.Config.EnvsDir(), name), nil
	case path != "":
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	return "", cmn.New(cmn.KindConfiguration, "a prefix name or path is required")
}

// KnownPrefixes lists the root prefix plus every envs/ child that looks
// like a real prefix.
func (op *Operation) KnownPrefixes() []string {
	out := []string{op.Config.RootPrefix}
	entries, err := os.ReadDir(op.Config.EnvsDir())
	if err != nil {
		return out
	}
	for _, e := range entries {
		p := filepath.Join(op.Config.EnvsDir(), e.Name())
		if e.IsDir() && prefix.IsPrefix(p) {
			out = append(out, p)
		}
	}
	return out
}
