//go:build linux

// Package vpkg detects host capabilities and renders them as virtual
// package records for the solver.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package vpkg

import (
	"bytes"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var versionRx = regexp.MustCompile(`[0-9]+(\.[0-9]+)+`)

func kernelVersion() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return versionRx.FindString(string(data))
}

func glibcVersion() string {
	// ldd prints its glibc version on the first line.
	out, err := exec.Command("ldd", "--version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := bytes.Cut(out, []byte{'\n'})
	return versionRx.FindString(string(line))
}

func osxVersion() string { return "" }

func cudaVersion() string {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=driver_version", "--format=csv,noheader").Output()
	if err != nil {
		// No driver, no __cuda.
		if _, statErr := os.Stat("/proc/driver/nvidia/version"); statErr != nil {
			return ""
		}
		data, readErr := os.ReadFile("/proc/driver/nvidia/version")
		if readErr != nil {
			return ""
		}
		return versionRx.FindString(string(data))
	}
	return versionRx.FindString(strings.TrimSpace(string(out)))
}
