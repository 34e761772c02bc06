// Package commands wires the marmot CLI surface onto the ops layer.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/ops"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appVersion = "0.9.0"

// Run builds and executes the CLI app.
func Run(args []string) error {
	app := cli.NewApp()
	app.Name = "marmot"
	app.Usage = "fast cross-platform package manager"
	app.Version = appVersion
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "yes, y", Usage: "answer yes to all prompts"},
		cli.BoolFlag{Name: "verbose, v", Usage: "verbose logging"},
		cli.BoolFlag{Name: "offline", Usage: "do not touch the network"},
		cli.StringFlag{Name: "prefix, p", Usage: "target prefix path"},
		cli.StringFlag{Name: "name, n", Usage: "target environment name"},
		cli.StringSliceFlag{Name: "channel, c", Usage: "additional channel"},
	}
	app.Commands = []cli.Command{
		installCmd,
		createCmd,
		updateCmd,
		removeCmd,
		listCmd,
		cleanCmd,
		infoCmd,
		envCmd,
	}
	return app.Run(args)
}

// newOperation assembles the per-invocation engine.
func newOperation(c *cli.Context) (*ops.Operation, error) {
	cfg, err := conf.Load(conf.LoadOpts{})
	if err != nil {
		return nil, err
	}
	if c.GlobalBool("offline") {
		cfg.Offline = true
	}
	if p := c.GlobalString("prefix"); p != "" {
		cfg.TargetPrefix = p
	} else if n := c.GlobalString("name"); n != "" && n != "base" {
		cfg.TargetPrefix = cfg.EnvsDir() + string(os.PathSeparator) + n
	}

	log, err := newLogger(c.GlobalBool("verbose"))
	if err != nil {
		return nil, err
	}
	op, err := ops.New(cfg, environMap(), log)
	if err != nil {
		return nil, err
	}
	if !c.GlobalBool("yes") {
		op.Confirm = confirmOnTerminal
	}
	return op, nil
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func confirmOnTerminal() bool {
	fmt.Fprint(os.Stdout, "\nConfirm changes: [Y/n] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	}
	return false
}

func environMap() map[string]string {
	out := make(map[string]string, 64)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

func cmdline() string {
	return strings.Join(os.Args, " ")
}
