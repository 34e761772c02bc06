//go:build !windows

// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import "syscall"

var probeSignal = syscall.Signal(0)
