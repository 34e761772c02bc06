// Package main is the marmot command-line entry point. The CLI is a thin
// shell: it parses flags, builds one Operation, and delegates.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/marmot-pm/marmot/cmd/marmot/commands"
	"github.com/marmot-pm/marmot/cmn"
)

func main() {
	if err := commands.Run(os.Args); err != nil {
		if cmn.IsCancelled(err) {
			fmt.Fprintln(os.Stderr, "cancelled")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
