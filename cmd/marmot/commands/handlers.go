// Package commands wires the marmot CLI surface onto the ops layer.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package commands

import (
	"context"
	"os"

	"github.com/marmot-pm/marmot/envfile"
	"github.com/marmot-pm/marmot/ops"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/urfave/cli"
)

var (
	fileFlag = cli.StringSliceFlag{Name: "file, f", Usage: "read specs from file"}

	installCmd = cli.Command{
		Name:      "install",
		Usage:     "install packages into the active prefix",
		ArgsUsage: "[SPEC...]",
		Flags:     []cli.Flag{fileFlag},
		Action:    withOperation(runInstall),
	}
	createCmd = cli.Command{
		Name:      "create",
		Usage:     "create a new prefix and install into it",
		ArgsUsage: "[SPEC...]",
		Flags:     []cli.Flag{fileFlag},
		Action:    withOperation(runCreate),
	}
	updateCmd = cli.Command{
		Name:      "update",
		Usage:     "update named packages, or everything with --all",
		ArgsUsage: "[SPEC...]",
		Flags:     []cli.Flag{cli.BoolFlag{Name: "all, a"}, fileFlag},
		Action:    withOperation(runUpdate),
	}
	removeCmd = cli.Command{
		Name:      "remove",
		Usage:     "remove packages, or the whole prefix with --all",
		ArgsUsage: "[SPEC...]",
		Flags:     []cli.Flag{cli.BoolFlag{Name: "all, a"}},
		Action:    withOperation(runRemove),
	}
	listCmd = cli.Command{
		Name:      "list",
		Usage:     "list installed packages",
		ArgsUsage: "[REGEX]",
		Action:    withOperation(runList),
	}
	cleanCmd = cli.Command{
		Name:  "clean",
		Usage: "purge caches",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "all"},
			cli.BoolFlag{Name: "index-cache"},
			cli.BoolFlag{Name: "packages"},
			cli.BoolFlag{Name: "tarballs"},
			cli.BoolFlag{Name: "locks"},
		},
		Action: withOperation(runClean),
	}
	infoCmd = cli.Command{
		Name:   "info",
		Usage:  "print platform, prefixes, virtual packages and channels",
		Action: withOperation(runInfo),
	}
	envCmd = cli.Command{
		Name:  "env",
		Usage: "environment management",
		Subcommands: []cli.Command{
			{Name: "list", Action: withOperation(runEnvList)},
			{
				Name: "export",
				Flags: []cli.Flag{
					cli.BoolFlag{Name: "explicit, e"},
					cli.BoolFlag{Name: "no-md5"},
					cli.BoolFlag{Name: "no-build"},
					cli.BoolFlag{Name: "from-history"},
					cli.BoolFlag{Name: "channel-subdir"},
				},
				Action: withOperation(runEnvExport),
			},
			{Name: "create", Flags: []cli.Flag{fileFlag}, Action: withOperation(runCreate)},
			{Name: "update", Flags: []cli.Flag{cli.BoolFlag{Name: "all, a"}, fileFlag},
				Action: withOperation(runUpdate)},
			{Name: "remove", Flags: []cli.Flag{cli.BoolFlag{Name: "all, a"}},
				Action: withOperation(runRemove)},
		},
	}
)

// withOperation handles the build-run-close lifecycle shared by every
// command.
func withOperation(fn func(ctx context.Context, op *ops.Operation, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		op, err := newOperation(c)
		if err != nil {
			return err
		}
		defer op.Close()
		return fn(context.Background(), op, c)
	}
}

func installArgs(c *cli.Context) ops.InstallArgs {
	return ops.InstallArgs{
		Specs:    c.Args(),
		Files:    c.StringSlice("file"),
		Cmd:      cmdline(),
		Channels: c.GlobalStringSlice("channel"),
	}
}

func runInstall(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.Install(ctx, installArgs(c))
}

func runCreate(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.Create(ctx, c.GlobalString("name"), c.GlobalString("prefix"), installArgs(c))
}

func runUpdate(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.Update(ctx, installArgs(c), c.Bool("all"))
}

func runRemove(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.Remove(ctx, installArgs(c), c.Bool("all"))
}

func runList(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.List(c.Args().First())
}

func runClean(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.Clean(ops.CleanArgs{
		IndexCache: c.Bool("index-cache"),
		Packages:   c.Bool("packages"),
		Tarballs:   c.Bool("tarballs"),
		Locks:      c.Bool("locks"),
		All:        c.Bool("all"),
	})
}

func runInfo(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.Info(c.GlobalBool("verbose"))
}

func runEnvList(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	return op.EnvList()
}

func runEnvExport(ctx context.Context, op *ops.Operation, c *cli.Context) error {
	pd, err := prefix.Load(op.Config.TargetPrefix, op.Log)
	if err != nil {
		return err
	}
	channels, err := op.Channels(nil)
	var chNames []string
	if err == nil {
		for _, ch := range channels {
			chNames = append(chNames, ch.DisplayName)
		}
	}
	return envfile.Export(os.Stdout, pd, envfile.ExportOpts{
		Name:          c.GlobalString("name"),
		Channels:      chNames,
		Explicit:      c.Bool("explicit"),
		NoMD5:         c.Bool("no-md5"),
		NoBuild:       c.Bool("no-build"),
		FromHistory:   c.Bool("from-history"),
		ChannelSubdir: c.Bool("channel-subdir"),
		Platform:      op.Config.Platform,
	})
}
