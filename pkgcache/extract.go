// Package pkgcache implements the content-addressed artifact store shared
// by all prefixes: verified downloads plus atomically extracted trees.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package pkgcache

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
)

// extractArchive unpacks a conda artifact (either flavor) into dstDir.
// The caller is responsible for dstDir being a fresh temp directory.
func extractArchive(archivePath, dstDir string) error {
	if strings.HasSuffix(archivePath, specs.ExtConda) {
		return extractConda(archivePath, dstDir)
	}
	return extractTarBz2(archivePath, dstDir)
}

func extractTarBz2(archivePath, dstDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer cmn.Close(f)
	return untar(bzip2.NewReader(f), dstDir)
}

// extractConda unpacks the v2 format: a zip holding pkg-*.tar.zst and
// info-*.tar.zst members (plus a metadata.json that carries nothing we
// need).
func extractConda(archivePath, dstDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Wrapf(err, "open %s", archivePath)
	}
	defer cmn.Close(zr)
	for _, member := range zr.File {
		name := member.Name
		if !strings.HasSuffix(name, ".tar.zst") {
			continue
		}
		if !strings.HasPrefix(name, "pkg-") && !strings.HasPrefix(name, "info-") {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return errors.Wrapf(err, "open member %s", name)
		}
		zdec, err := zstd.NewReader(rc)
		if err != nil {
			cmn.Close(rc)
			return errors.Wrapf(err, "zstd member %s", name)
		}
		err = untar(zdec, dstDir)
		zdec.Close()
		cmn.Close(rc)
		if err != nil {
			return errors.Wrapf(err, "extract member %s", name)
		}
	}
	return nil
}

func untar(r io.Reader, dstDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dstDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = cmn.RemoveFile(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			src, err := safeJoin(dstDir, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			// Character devices and friends never appear in conda
			// artifacts; refuse rather than guess.
			return errors.Errorf("unsupported tar entry type %c for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		cmn.Close(f)
		return err
	}
	return f.Close()
}

// safeJoin rejects entries escaping the extraction root.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, filepath.FromSlash(name)))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", errors.Errorf("archive entry %q escapes extraction root", name)
	}
	return cleaned, nil
}

// verifyPaths recomputes the per-file SHA-256 inventory; any mismatch
// aborts (extra_safety_checks).
func verifyPaths(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, "info", "paths.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // old artifacts predate paths.json
		}
		return err
	}
	var pd specs.PathsData
	if err := cmn.JSON.Unmarshal(data, &pd); err != nil {
		return errors.Wrap(err, "parse paths.json")
	}
	for i := range pd.Paths {
		entry := &pd.Paths[i]
		if entry.SHA256 == "" || entry.PathType == specs.PathSoftlink {
			continue
		}
		ck, err := cmn.FileCksum(filepath.Join(dir, filepath.FromSlash(entry.Path)), cmn.ChecksumSHA256)
		if err != nil {
			return err
		}
		if ck.Value != entry.SHA256 {
			return &cmn.ErrBadCksum{
				Algo:     cmn.ChecksumSHA256,
				Expected: entry.SHA256,
				Got:      ck.Value,
				Source:   entry.Path,
			}
		}
	}
	return nil
}
