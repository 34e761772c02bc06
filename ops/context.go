// Package ops implements the user-level operations — install, create,
// update, remove, list, clean, info — on top of the engine packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package ops

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/marmot-pm/marmot/channel"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/dload"
	"github.com/marmot-pm/marmot/execution"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/repodata"
	"github.com/marmot-pm/marmot/solver"
	"github.com/marmot-pm/marmot/specs"
	"github.com/marmot-pm/marmot/vpkg"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Operation owns the engine objects for one top-level request. Nothing
// here is process-global: the CLI constructs an Operation, runs exactly
// one command through it, and closes it.
type Operation struct {
	Config    *conf.Config
	Log       *zap.SugaredLogger
	Interrupt *atomic.Bool

	Exec     *execution.Executor
	DL       *dload.Downloader
	Auth     *channel.AuthStore
	Resolver *channel.Resolver

	// Out receives plan renderings and listings; Confirm, when set, gates
	// prefix mutation after the plan prompt.
	Out     io.Writer
	Confirm func() bool

	guard *execution.SignalGuard
	env   map[string]string
}

// New wires an Operation from loaded configuration.
func New(cfg *conf.Config, env map[string]string, log *zap.SugaredLogger) (*Operation, error) {
	interrupt := atomic.NewBool(false)
	dl, err := dload.New(&cfg.Remote, interrupt, log)
	if err != nil {
		return nil, err
	}
	auth, err := channel.NewAuthStore(cfg.Auth)
	if err != nil {
		return nil, err
	}
	cwd, _ := os.Getwd()
	op := &Operation{
		Config:    cfg,
		Log:       log,
		Interrupt: interrupt,
		Exec:      execution.NewExecutor(cfg.Remote.ExtractThreads, log),
		DL:        dl,
		Auth:      auth,
		Resolver: &channel.Resolver{
			Alias:            cfg.ChannelAlias,
			Custom:           cfg.CustomChannels,
			Multi:            cfg.CustomMultichannels,
			Auth:             auth,
			DefaultPlatforms: []string{cfg.Platform, channel.PlatformNoarch},
			CWD:              cwd,
		},
		Out: os.Stdout,
		env: env,
	}
	op.guard = execution.NewSignalGuard(interrupt, nil, log)
	return op, nil
}

// Close releases the signal handler and drains the pool; idempotent via
// the executor.
func (op *Operation) Close() {
	op.guard.Close()
	op.Exec.Close()
}

// Channels resolves the effective channel list: explicit extras first,
// then the configured ones (unless override_channels drops them).
func (op *Operation) Channels(extra []string) ([]*channel.Channel, error) {
	var ucs []channel.UnresolvedChannel
	for _, raw := range extra {
		ucs = append(ucs, channel.ParseUnresolved(raw, nil))
	}
	if !op.Config.OverrideChannels || len(extra) == 0 {
		names := op.Config.Channels
		if len(names) == 0 {
			names = op.Config.DefaultChannels
		}
		for _, raw := range names {
			ucs = append(ucs, channel.ParseUnresolved(raw, nil))
		}
	}
	if len(ucs) == 0 {
		return nil, cmn.New(cmn.KindConfiguration, "no channels configured")
	}
	return op.Resolver.ResolveAll(ucs)
}

func (op *Operation) repodataOptions() repodata.Options {
	return repodata.Options{
		CacheDir:  filepath.Join(op.Config.FirstPkgsDir(), "cache"),
		TTL:       op.Config.RepodataTTL(),
		Offline:   op.Config.Offline,
		HeaderFor: func(ch *channel.Channel) http.Header { return op.Auth.BearerHeader(ch.URL) },
	}
}

// loadPool fetches every index, reads the prefix, and assembles the
// solver pool: indexed records by channel priority, installed records,
// virtual records.
func (op *Operation) loadPool(ctx context.Context, channels []*channel.Channel,
	pd *prefix.PrefixData) (*solver.Pool, error) {
	subdirs, err := repodata.LoadAll(ctx, channels, op.repodataOptions(),
		op.DL, op.Log, op.Config.Remote.DownloadThreads)
	if err != nil {
		return nil, err
	}
	pool := solver.NewPool(op.Config.ChannelPriority)
	chPrio := make(map[string]int, len(channels))
	for i, ch := range channels {
		chPrio[ch.URL] = len(channels) - i // first channel ranks highest
	}
	for _, sd := range subdirs {
		pool.AddIndexed(sd.Records(), chPrio[sd.Channel.URL],
			sd.Platform == channel.PlatformNoarch)
	}
	pool.AddInstalled(pd.PackageRecords())
	pool.AddVirtual(vpkg.Detect(op.Config.Platform, vpkg.FromEnviron(op.env)))
	return pool, nil
}

// invalidateIndexCache drops every cached index; used by clean and by the
// retry_clean_cache solver fallback.
func (op *Operation) invalidateIndexCache() error {
	dir := filepath.Join(op.Config.FirstPkgsDir(), "cache")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" || filepath.Ext(name) == ".state" {
			_ = cmn.RemoveFile(filepath.Join(dir, name))
		}
	}
	return nil
}

// pins assembles the hard constraints: configured pins, the prefix pin
// file, and the implicit python major.minor pin.
func (op *Operation) pins(pd *prefix.PrefixData, requested map[string]bool) []solver.Job {
	var jobs []solver.Job
	addPin := func(raw string) {
		ms, err := specs.ParseMatchSpec(raw)
		if err != nil {
			op.Log.Warnf("ignoring malformed pin %q: %v", raw, err)
			return
		}
		if requested[ms.Name] {
			return // an explicit request overrides the pin
		}
		jobs = append(jobs, solver.Job{Kind: solver.JobPin, Spec: ms})
	}
	for _, raw := range op.Config.PinnedPackages {
		addPin(raw)
	}
	pinFile := filepath.Join(pd.Root(), prefix.MetaDirName, "pinned")
	if data, err := os.ReadFile(pinFile); err == nil {
		for _, line := range splitLines(string(data)) {
			if line != "" && line[0] != '#' {
				addPin(line)
			}
		}
	}
	if py, ok := pd.Get("python"); ok && !requested["python"] {
		if v, err := specs.ParseVersion(py.Version); err == nil {
			if mm := majorMinor(v); mm != "" {
				addPin("python " + mm + ".*")
			}
		}
	}
	return jobs
}

func majorMinor(v *specs.Version) string {
	s := v.String()
	first := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			if first >= 0 {
				return s[:i]
			}
			first = i
		}
	}
	if first >= 0 {
		return s
	}
	return ""
}
