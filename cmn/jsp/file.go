// Package jsp (JSON persistence) provides utilities to store and load
// JSON-encoded structures with optional checksumming and compression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package jsp

import (
	"os"

	"github.com/marmot-pm/marmot/cmn"
)

// Save atomically writes v at path: encode into a temp sibling, fsync,
// rename.
func Save(path string, v interface{}, opts Options) (err error) {
	var (
		file *os.File
		tmp  = path + ".tmp." + cmn.GenTie()
	)
	if file, err = cmn.CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = cmn.RemoveFile(tmp)
		}
	}()
	if err = Encode(file, v, opts); err != nil {
		cmn.Close(file)
		return
	}
	if err = cmn.FlushClose(file); err != nil {
		return
	}
	return os.Rename(tmp, path)
}

// Load reads a file written by Save. A corrupted file is removed on the
// way out so the next Save starts clean.
func Load(path string, v interface{}, opts Options) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	err = Decode(file, v, opts, path)
	cmn.Close(file)
	if err != nil && cmn.IsKind(err, cmn.KindCacheCorrupted) {
		_ = cmn.RemoveFile(path)
	}
	return
}
