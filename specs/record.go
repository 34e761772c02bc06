// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

import (
	"fmt"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
)

const (
	// Archive flavors served by conda channels.
	ExtTarBz2 = ".tar.bz2"
	ExtConda  = ".conda"

	NoarchNone    = ""
	NoarchGeneric = "generic"
	NoarchPython  = "python"
)

type (
	// PackageRecord fully identifies one installable artifact. The JSON
	// shape matches repodata.json entries and the per-artifact
	// repodata_record.json.
	PackageRecord struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Build       string `json:"build"`
		BuildNumber int64  `json:"build_number"`
		Subdir      string `json:"subdir"`
		Channel     string `json:"channel,omitempty"`

		Filename string `json:"fn,omitempty"`
		URL      string `json:"url,omitempty"`
		Size     int64  `json:"size,omitempty"`
		MD5      string `json:"md5,omitempty"`
		SHA256   string `json:"sha256,omitempty"`

		Depends       []string `json:"depends,omitempty"`
		Constrains    []string `json:"constrains,omitempty"`
		TrackFeatures string   `json:"track_features,omitempty"`
		Noarch        string   `json:"noarch,omitempty"`
		License       string   `json:"license,omitempty"`
		Timestamp     int64    `json:"timestamp,omitempty"`
	}

	// RecordKey is the identity under which records compare equal across
	// installed state, the index, and transactions.
	RecordKey struct {
		Name    string
		Version string
		Build   string
		Subdir  string
		Channel string
	}
)

func (r *PackageRecord) Key() RecordKey {
	return RecordKey{
		Name:    r.Name,
		Version: r.Version,
		Build:   r.Build,
		Subdir:  r.Subdir,
		Channel: r.Channel,
	}
}

// DistName is the canonical <name>-<version>-<build> triple used for cache
// directory names and conda-meta file names.
func (r *PackageRecord) DistName() string {
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Version, r.Build)
}

func (r *PackageRecord) String() string {
	if r.Channel != "" {
		return r.Channel + "::" + r.DistName()
	}
	return r.DistName()
}

// IsVirtual reports whether the record describes a host capability rather
// than an installable artifact.
func (r *PackageRecord) IsVirtual() bool { return strings.HasPrefix(r.Name, "__") }

// ArchiveExt returns the artifact flavor derived from URL or filename.
func (r *PackageRecord) ArchiveExt() string {
	fn := r.Filename
	if fn == "" {
		fn = r.URL
	}
	if strings.HasSuffix(fn, ExtConda) {
		return ExtConda
	}
	return ExtTarBz2
}

// Cksum returns the strongest checksum the record carries, or nil.
func (r *PackageRecord) Cksum() *cmn.Cksum {
	switch {
	case r.SHA256 != "":
		return cmn.NewCksum(cmn.ChecksumSHA256, r.SHA256)
	case r.MD5 != "":
		return cmn.NewCksum(cmn.ChecksumMD5, r.MD5)
	}
	return nil
}

// DependSpecs parses the record's dependency strings; malformed entries
// are reported, not skipped.
func (r *PackageRecord) DependSpecs() ([]*MatchSpec, error) {
	out := make([]*MatchSpec, 0, len(r.Depends))
	for _, d := range r.Depends {
		ms, err := ParseMatchSpec(d)
		if err != nil {
			return nil, cmn.NewWrapped(cmn.KindInvalidSpec, err,
				"record %s has malformed dependency %q", r.DistName(), d)
		}
		out = append(out, ms)
	}
	return out, nil
}

// SameContent reports identity plus matching payload checksums; it is the
// equality the package cache uses when deciding whether an extracted
// artifact can be reused.
func (r *PackageRecord) SameContent(other *PackageRecord) bool {
	if r.Name != other.Name || r.Version != other.Version || r.Build != other.Build {
		return false
	}
	if r.SHA256 != "" && other.SHA256 != "" {
		return r.SHA256 == other.SHA256
	}
	if r.MD5 != "" && other.MD5 != "" {
		return r.MD5 == other.MD5
	}
	if r.URL != "" && other.URL != "" {
		return r.URL == other.URL
	}
	return true
}
