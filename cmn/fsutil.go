// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// CreateFile creates the file together with any missing parent directories.
func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Close closes the closer and swallows the error. Use only on read paths
// and error paths where a close failure cannot lose data.
func Close(c io.Closer) {
	_ = c.Close()
}

// FlushClose syncs the file to stable storage and closes it.
func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		Close(f)
		return err
	}
	return f.Close()
}

// RemoveFile removes the file; a missing file is not an error.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// SaveBytes atomically replaces the file at path with data: write to a
// temp sibling, fsync, rename.
func SaveBytes(path string, data []byte) (err error) {
	var file *os.File
	tmp := path + ".tmp." + GenTie()
	if file, err = CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = RemoveFile(tmp)
		}
	}()
	if _, err = file.Write(data); err != nil {
		Close(file)
		return
	}
	if err = FlushClose(file); err != nil {
		return
	}
	return os.Rename(tmp, path)
}

// CopyFile copies src to dst preserving the source mode; dst parents are
// created as needed.
func CopyFile(src, dst string) (written int64, err error) {
	var (
		in  *os.File
		out *os.File
		fi  os.FileInfo
	)
	if fi, err = os.Stat(src); err != nil {
		return
	}
	if in, err = os.Open(src); err != nil {
		return
	}
	defer Close(in)
	if err = os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return
	}
	if out, err = os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode()); err != nil {
		return
	}
	if written, err = io.Copy(out, in); err != nil {
		Close(out)
		_ = RemoveFile(dst)
		return
	}
	err = FlushClose(out)
	return
}

// IsDirEmpty reports whether dir exists and holds no entries.
func IsDirEmpty(dir string) (empty bool, err error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer Close(f)
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// RemoveEmptyParents removes dir and its now-empty ancestors up to (and
// excluding) stop.
func RemoveEmptyParents(dir, stop string) {
	for dir != stop && len(dir) > len(stop) {
		empty, err := IsDirEmpty(dir)
		if err != nil || !empty {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// DirSize walks dir and sums regular-file sizes.
func DirSize(dir string) (size int64, err error) {
	err = filepath.Walk(dir, func(_ string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return
}

// Access wraps permission failures into the taxonomy so callers can
// branch without inspecting errno.
func Access(err error, what string) error {
	if os.IsPermission(err) {
		return NewWrapped(KindPermissionDenied, err, "no permission to access %s", what)
	}
	return errors.Wrapf(err, "access %s", what)
}
