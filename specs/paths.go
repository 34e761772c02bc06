// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

const (
	PathHardlink  = "hardlink"
	PathSoftlink  = "softlink"
	PathDirectory = "directory"

	FileModeText   = "text"
	FileModeBinary = "binary"
)

type (
	// PathEntry is one row of an artifact's info/paths.json: a relative
	// path plus how to materialize and verify it.
	PathEntry struct {
		Path              string `json:"_path"`
		PathType          string `json:"path_type,omitempty"`
		SHA256            string `json:"sha256,omitempty"`
		SizeInBytes       int64  `json:"size_in_bytes,omitempty"`
		PrefixPlaceholder string `json:"prefix_placeholder,omitempty"`
		FileMode          string `json:"file_mode,omitempty"`
		NoLink            bool   `json:"no_link,omitempty"`
	}

	// PathsData is the full info/paths.json document.
	PathsData struct {
		PathsVersion int         `json:"paths_version"`
		Paths        []PathEntry `json:"paths"`
	}
)
