// Package envfile parses and renders the environment interchange
// formats: environment YAML, @EXPLICIT lock files, and plain
// requirements text.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package envfile

import (
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/specs"
)

const explicitMarker = "@EXPLICIT"

// ExplicitList is a parsed @EXPLICIT lock file: ordered package URLs with
// optional #md5 fragments, plus the optional platform comment.
type ExplicitList struct {
	Platform string
	Records  []*specs.PackageRecord
}

// IsExplicit sniffs for the marker line.
func IsExplicit(data []byte) bool {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == explicitMarker {
			return true
		}
	}
	return false
}

// ParseExplicit builds records straight from URLs; no solving happens for
// explicit installs. Lines before the marker are ignored except the
// "# platform:" comment.
func ParseExplicit(data []byte) (*ExplicitList, error) {
	var (
		out  = &ExplicitList{}
		seen = false
	)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		switch {
		case line == "":
			continue
		case line == explicitMarker:
			seen = true
			continue
		case strings.HasPrefix(line, "# platform:"):
			out.Platform = strings.TrimSpace(strings.TrimPrefix(line, "# platform:"))
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}
		if !seen {
			continue
		}
		rec, err := recordFromURL(line)
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, rec)
	}
	if !seen {
		return nil, cmn.New(cmn.KindInvalidSpec, "file has no @EXPLICIT marker")
	}
	return out, nil
}

// recordFromURL decodes "<url>[#md5]" into a minimal record: identity is
// recovered from the "<name>-<version>-<build>.<ext>" file name.
func recordFromURL(line string) (*specs.PackageRecord, error) {
	rawURL, md5sum, _ := strings.Cut(line, "#")
	rawURL = strings.TrimSpace(rawURL)
	slash := strings.LastIndexByte(rawURL, '/')
	if slash < 0 {
		return nil, cmn.New(cmn.KindInvalidSpec, "not a package URL: %q", line)
	}
	fn := rawURL[slash+1:]

	base := fn
	switch {
	case strings.HasSuffix(fn, specs.ExtConda):
		base = strings.TrimSuffix(fn, specs.ExtConda)
	case strings.HasSuffix(fn, specs.ExtTarBz2):
		base = strings.TrimSuffix(fn, specs.ExtTarBz2)
	default:
		return nil, cmn.New(cmn.KindInvalidSpec, "not a package URL: %q", line)
	}
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return nil, cmn.New(cmn.KindInvalidSpec, "cannot split %q into name-version-build", fn)
	}
	var (
		build   = parts[len(parts)-1]
		version = parts[len(parts)-2]
		name    = strings.Join(parts[:len(parts)-2], "-")
	)

	// The subdir is the channel path segment right above the file; note
	// that path.Dir would collapse the scheme's double slash, hence the
	// manual splits.
	var (
		dir        = rawURL[:slash]
		subdir     = dir
		channelURL = ""
	)
	if i := strings.LastIndexByte(dir, '/'); i >= 0 {
		subdir, channelURL = dir[i+1:], dir[:i]
	}

	rec := &specs.PackageRecord{
		Name:     name,
		Version:  version,
		Build:    build,
		Subdir:   subdir,
		Channel:  channelURL,
		Filename: fn,
		URL:      rawURL,
		MD5:      strings.TrimSpace(md5sum),
	}
	return rec, nil
}
