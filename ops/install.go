// Package ops implements the user-level operations — install, create,
// update, remove, list, clean, info — on top of the engine packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package ops

import (
	"context"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/envfile"
	"github.com/marmot-pm/marmot/pkgcache"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/solver"
	"github.com/marmot-pm/marmot/specs"
	"github.com/marmot-pm/marmot/txn"
)

// InstallArgs is shared by install, create, update and remove: raw specs,
// optional spec files, and the command line for the journal.
type InstallArgs struct {
	Specs    []string
	Files    []string
	Cmd      string
	Channels []string // extra channels from the command line
}

// Install resolves and applies the requested specs to the target prefix.
func (op *Operation) Install(ctx context.Context, args InstallArgs) error {
	specsList, explicit, extraChannels, err := op.readSpecFiles(args)
	if err != nil {
		return err
	}
	if explicit != nil {
		if len(specsList) > 0 {
			return cmn.New(cmn.KindInvalidSpec,
				"an explicit file cannot be combined with other specs")
		}
		return op.installExplicit(ctx, explicit, args.Cmd)
	}
	if len(specsList) == 0 {
		return cmn.New(cmn.KindInvalidSpec, "nothing to install")
	}

	jobs := make([]solver.Job, 0, len(specsList))
	requested := make(map[string]bool, len(specsList))
	var rawSpecs []string
	for _, raw := range specsList {
		ms, err := specs.ParseMatchSpec(raw)
		if err != nil {
			return err
		}
		jobs = append(jobs, solver.Job{Kind: solver.JobInstall, Spec: ms})
		requested[ms.Name] = true
		rawSpecs = append(rawSpecs, raw)
	}
	return op.solveAndRun(ctx, jobs, requested, args.Cmd,
		append(args.Channels, extraChannels...), rawSpecs, nil)
}

// readSpecFiles folds spec files into the request: explicit lists take a
// dedicated fast path, environment YAMLs contribute channels too.
func (op *Operation) readSpecFiles(args InstallArgs) (specsList []string,
	explicit *envfile.ExplicitList, channels []string, err error) {
	specsList = append(specsList, args.Specs...)
	for _, path := range args.Files {
		kind, data, rerr := envfile.ReadFile(path)
		if rerr != nil {
			return nil, nil, nil, rerr
		}
		switch kind {
		case envfile.KindExplicit:
			if explicit != nil {
				return nil, nil, nil, cmn.New(cmn.KindInvalidSpec,
					"multiple explicit files in one request")
			}
			if explicit, err = envfile.ParseExplicit(data); err != nil {
				return nil, nil, nil, err
			}
		case envfile.KindEnvironmentYAML:
			env, perr := envfile.ParseEnvironmentYAML(data, op.Config.Platform)
			if perr != nil {
				return nil, nil, nil, perr
			}
			if len(env.Pip) > 0 {
				op.Log.Warnf("%s: %d pip dependencies are not managed here and were skipped",
					path, len(env.Pip))
			}
			specsList = append(specsList, env.Specs...)
			channels = append(channels, env.Channels...)
		default:
			specsList = append(specsList, envfile.ParseRequirements(data)...)
		}
	}
	return specsList, explicit, channels, nil
}

// installExplicit bypasses the solver entirely.
func (op *Operation) installExplicit(ctx context.Context, list *envfile.ExplicitList, cmd string) error {
	if list.Platform != "" && list.Platform != op.Config.Platform {
		op.Log.Warnf("explicit file targets platform %s, host is %s",
			list.Platform, op.Config.Platform)
	}
	t := txn.FromExplicit(list.Records, cmd)
	return op.runTransaction(ctx, t, nil)
}

// solveAndRun is the shared resolve-plan-execute tail of install, update
// and remove.
func (op *Operation) solveAndRun(ctx context.Context, jobs []solver.Job,
	requested map[string]bool, cmd string, extraChannels, updateSpecs, removeSpecs []string) error {
	channels, err := op.Channels(extraChannels)
	if err != nil {
		return err
	}
	pd, err := prefix.Load(op.Config.TargetPrefix, op.Log)
	if err != nil {
		return err
	}

	solve := func() (*solver.Solution, error) {
		pool, err := op.loadPool(ctx, channels, pd)
		if err != nil {
			return nil, err
		}
		allJobs := append(op.pins(pd, requested), jobs...)
		s := solver.New(pool, solver.Flags{
			AllowDowngrade: op.Config.AllowDowngrade,
			AllowUninstall: op.Config.AllowUninstall,
		}, op.Log)
		return s.Solve(allJobs)
	}
	sol, err := solve()
	if err != nil && cmn.IsKind(err, cmn.KindUnsatisfiable) && op.Config.RetryCleanCache {
		op.Log.Infof("solve failed; flushing index caches and retrying once")
		if ierr := op.invalidateIndexCache(); ierr != nil {
			return ierr
		}
		sol, err = solve()
	}
	if err != nil {
		return err
	}

	t := txn.FromSolution(sol, cmd, updateSpecs, removeSpecs)
	return op.runTransaction(ctx, t, pd)
}

func (op *Operation) runTransaction(ctx context.Context, t *txn.Transaction, pd *prefix.PrefixData) error {
	t.Prompt(op.Out)
	if t.Empty() {
		return nil
	}
	if op.Confirm != nil && !op.Confirm() {
		return cmn.ErrCancelled
	}
	if pd == nil {
		var err error
		if pd, err = prefix.Load(op.Config.TargetPrefix, op.Log); err != nil {
			return err
		}
	}
	cache, err := pkgcache.Open(op.Config.FirstPkgsDir(), op.DL,
		op.Config.ExtraSafetyChecks, op.Log)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	hdr := op.Auth.BearerHeader(firstURL(t))
	return t.Execute(ctx, txn.ExecuteOpts{
		Prefix:    pd,
		Cache:     cache,
		Config:    op.Config,
		Header:    hdr,
		Interrupt: op.Interrupt,
		Log:       op.Log,
	})
}

func firstURL(t *txn.Transaction) string {
	for _, rec := range t.Install() {
		if rec.URL != "" {
			return rec.URL
		}
	}
	return ""
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}
