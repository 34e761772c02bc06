// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import "fmt"

const assertMsg = "assertion failed"

// Assertions crash the process: they guard programmer invariants, never
// user input.

func Assert(cond bool) {
	if !cond {
		panic(assertMsg)
	}
}

func Assertf(cond bool, format string, a ...interface{}) {
	if !cond {
		panic(assertMsg + ": " + fmt.Sprintf(format, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
