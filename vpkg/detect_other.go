//go:build !linux

// Package vpkg detects host capabilities and renders them as virtual
// package records for the solver.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package vpkg

import (
	"os/exec"
	"regexp"
	"strings"
)

var versionRx = regexp.MustCompile(`[0-9]+(\.[0-9]+)+`)

func kernelVersion() string { return "" }

func glibcVersion() string { return "" }

func osxVersion() string {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return ""
	}
	return versionRx.FindString(strings.TrimSpace(string(out)))
}

func cudaVersion() string {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return ""
	}
	return versionRx.FindString(strings.TrimSpace(string(out)))
}
