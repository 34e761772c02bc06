// Package txn serializes a solver solution into FETCH, EXTRACT, UNLINK
// and LINK phases executed against a prefix with crash safety and history
// journalling.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package txn

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
)

const (
	LinkTypeHardlink = "hardlink"
	LinkTypeSoftlink = "softlink"
	LinkTypeCopy     = "copy"
)

// chooseLinkType applies the configured policy to one path entry. The
// precedence, after config validation has rejected the contradictory
// combinations, is: per-entry no_link or a prefix placeholder forces a
// copy; an entry of softlink type stays a softlink; always_copy wins over
// always_softlink; always_softlink applies only with allow_softlinks; the
// default is hardlink.
func chooseLinkType(entry *specs.PathEntry, policy *conf.LinkPolicy) string {
	if entry.NoLink || entry.PrefixPlaceholder != "" {
		return LinkTypeCopy // the file is rewritten, it cannot share inodes
	}
	if entry.PathType == specs.PathSoftlink {
		return LinkTypeSoftlink
	}
	switch {
	case policy.AlwaysCopy:
		return LinkTypeCopy
	case policy.AlwaysSoftlink && policy.AllowSoftlinks:
		return LinkTypeSoftlink
	}
	return LinkTypeHardlink
}

// linkFile materializes one file from the extracted artifact into the
// prefix. Placement is atomic: hardlinks either exist or not, copies go
// through a temp sibling and rename.
func linkFile(src, dst, linkType string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return cmn.New(cmn.KindLinkConflict, "path %s already exists", dst)
	}
	switch linkType {
	case LinkTypeHardlink:
		if err := os.Link(src, dst); err != nil {
			// Cross-device or filesystem without hardlinks: degrade to copy.
			return copyAtomic(src, dst)
		}
		return nil
	case LinkTypeSoftlink:
		return os.Symlink(src, dst)
	case LinkTypeCopy:
		return copyAtomic(src, dst)
	}
	return errors.Errorf("unknown link type %q", linkType)
}

func copyAtomic(src, dst string) error {
	tmp := dst + ".tmp." + cmn.GenTie()
	if _, err := cmn.CopyFile(src, tmp); err != nil {
		_ = cmn.RemoveFile(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// rewritePlaceholder links-with-rewrite a file whose build-time prefix
// placeholder must become the real prefix. Text files get a plain
// substitution; binary files keep their original byte length by padding
// the terminating NUL run, which requires the real prefix to be no
// longer than the placeholder.
func rewritePlaceholder(src, dst string, entry *specs.PathEntry, prefixPath string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	placeholder := []byte(entry.PrefixPlaceholder)
	replacement := []byte(prefixPath)

	var out []byte
	if entry.FileMode == specs.FileModeBinary {
		out, err = binaryReplace(data, placeholder, replacement)
		if err != nil {
			return errors.Wrapf(err, "binary prefix rewrite of %s", entry.Path)
		}
	} else {
		out = bytes.ReplaceAll(data, placeholder, replacement)
	}

	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return cmn.New(cmn.KindLinkConflict, "path %s already exists", dst)
	}
	tmp := dst + ".tmp." + cmn.GenTie()
	if err := os.WriteFile(tmp, out, fi.Mode().Perm()); err != nil {
		_ = cmn.RemoveFile(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// binaryReplace rewrites every NUL-terminated C string starting with the
// placeholder, preserving the overall length.
func binaryReplace(data, placeholder, replacement []byte) ([]byte, error) {
	if len(replacement) > len(placeholder) {
		return nil, errors.Errorf(
			"new prefix is longer than the placeholder (%d > %d bytes)",
			len(replacement), len(placeholder))
	}
	out := make([]byte, 0, len(data))
	for {
		i := bytes.Index(data, placeholder)
		if i < 0 {
			out = append(out, data...)
			return out, nil
		}
		nul := bytes.IndexByte(data[i:], 0)
		if nul < 0 {
			nul = len(data) - i
		}
		segment := data[i : i+nul] // the full C string
		rewritten := append(append([]byte{}, replacement...), segment[len(placeholder):]...)
		out = append(out, data[:i]...)
		out = append(out, rewritten...)
		for pad := len(segment) - len(rewritten); pad > 0; pad-- {
			out = append(out, 0)
		}
		data = data[i+nul:]
	}
}
