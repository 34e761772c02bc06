// Package vpkg detects host capabilities and renders them as virtual
// package records for the solver.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package vpkg

import (
	"runtime"
	"strings"

	"github.com/marmot-pm/marmot/specs"
)

// Virtual packages describe the host: operating system, libc, CUDA
// driver, CPU architecture. They carry no payload, are never fetched or
// linked, and exist only to satisfy or reject match specs at solve time.

const virtualChannel = "@"

// Overrides come from CONDA_OVERRIDE_* environment variables; an entry
// that is present but empty removes the corresponding package.
type Overrides struct {
	CUDA  *string
	OSX   *string
	Linux *string
	Glibc *string
}

// FromEnviron extracts the override set from an environment map.
func FromEnviron(env map[string]string) Overrides {
	get := func(key string) *string {
		if v, ok := env[key]; ok {
			return &v
		}
		return nil
	}
	return Overrides{
		CUDA:  get("CONDA_OVERRIDE_CUDA"),
		OSX:   get("CONDA_OVERRIDE_OSX"),
		Linux: get("CONDA_OVERRIDE_LINUX"),
		Glibc: get("CONDA_OVERRIDE_GLIBC"),
	}
}

// Detect returns the virtual records for the given target platform.
// Detection is deterministic: same platform and overrides, same records.
func Detect(platform string, ov Overrides) []*specs.PackageRecord {
	var out []*specs.PackageRecord
	add := func(name, version string) {
		out = append(out, &specs.PackageRecord{
			Name:    name,
			Version: version,
			Build:   "0",
			Subdir:  platform,
			Channel: virtualChannel,
		})
	}

	switch {
	case strings.HasPrefix(platform, "linux"):
		linuxVer := orDetected(ov.Linux, kernelVersion())
		if linuxVer != "" {
			add("__linux", linuxVer)
		}
		glibcVer := orDetected(ov.Glibc, glibcVersion())
		if glibcVer != "" {
			add("__glibc", glibcVer)
		}
		add("__unix", "0")
	case strings.HasPrefix(platform, "osx"):
		osxVer := orDetected(ov.OSX, osxVersion())
		if osxVer != "" {
			add("__osx", osxVer)
		}
		add("__unix", "0")
	case strings.HasPrefix(platform, "win"):
		add("__win", "0")
	}

	if cuda := orDetected(ov.CUDA, cudaVersion()); cuda != "" {
		add("__cuda", cuda)
	}
	if arch := archspec(platform); arch != "" {
		rec := &specs.PackageRecord{
			Name:    "__archspec",
			Version: "1",
			Build:   arch,
			Subdir:  platform,
			Channel: virtualChannel,
		}
		out = append(out, rec)
	}
	return out
}

func orDetected(override *string, detected string) string {
	if override != nil {
		return *override
	}
	return detected
}

func archspec(platform string) string {
	switch {
	case strings.HasSuffix(platform, "-64"):
		return "x86_64"
	case strings.HasSuffix(platform, "-aarch64"), strings.HasSuffix(platform, "-arm64"):
		return "aarch64"
	case strings.HasSuffix(platform, "-ppc64le"):
		return "ppc64le"
	}
	if runtime.GOARCH == "amd64" {
		return "x86_64"
	}
	return runtime.GOARCH
}
