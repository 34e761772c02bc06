//go:build windows

// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import "os"

// Windows has no signal-0 probe; FindProcess already fails for dead pids,
// so stale skips the Signal check there and this value is never sent.
var probeSignal = os.Interrupt
