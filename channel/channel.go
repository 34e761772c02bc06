// Package channel models channels and resolves user-level channel
// references into concrete per-platform repository URLs.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package channel

import (
	"strings"

	"github.com/marmot-pm/marmot/cmn"
)

// PlatformNoarch is served by virtually every channel and is always
// queried in addition to the host platform.
const PlatformNoarch = "noarch"

type (
	// Containment is the answer to "does this channel serve that URL".
	Containment int

	// Channel is an immutable, fully resolved repository reference. The
	// URL is canonical (no trailing slash except the empty path) and may
	// embed credentials.
	Channel struct {
		URL         string
		DisplayName string
		Platforms   []string
	}
)

const (
	ContainsNot Containment = iota
	ContainsPackage
	ContainsFull // inside the channel and inside one of its platforms
)

// PlatformURL returns the index base for one platform.
func (c *Channel) PlatformURL(platform string) string {
	return cmn.JoinURL(c.URL, platform)
}

// RepodataURL returns the canonical index document URL for one platform.
func (c *Channel) RepodataURL(platform string) string {
	return cmn.JoinURL(c.URL, platform, "repodata.json")
}

// Equivalent compares channels by URL after stripping credential
// material.
func (c *Channel) Equivalent(other *Channel) bool {
	return cmn.StripURLAuth(c.URL) == cmn.StripURLAuth(other.URL)
}

// Contains classifies a package URL against the channel: ContainsFull when
// the URL extends the channel URL through one of its platforms,
// ContainsPackage when it extends the channel URL through a foreign
// subdir or sits directly under the channel URL, ContainsNot otherwise.
func (c *Channel) Contains(pkgURL string) Containment {
	var (
		base = cmn.StripURLAuth(c.URL)
		u    = cmn.StripURLAuth(pkgURL)
	)
	if !strings.HasPrefix(u, base+"/") {
		return ContainsNot
	}
	rest := strings.TrimPrefix(u, base+"/")
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return ContainsPackage
	}
	subdir := rest[:i]
	for _, p := range c.Platforms {
		if p == subdir {
			return ContainsFull
		}
	}
	return ContainsPackage
}

// HasPlatform reports whether the channel queries the given subdir.
func (c *Channel) HasPlatform(platform string) bool {
	for _, p := range c.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}
