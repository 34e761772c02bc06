// Package ops implements the user-level operations — install, create,
// update, remove, list, clean, info — on top of the engine packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/specs"
)

// CleanArgs selects what to purge.
type CleanArgs struct {
	IndexCache bool
	Packages   bool // extracted trees not referenced by any known prefix
	Tarballs   bool
	Locks      bool
	All        bool
}

// Clean purges caches per the flags and reports the space recovered.
func (op *Operation) Clean(args CleanArgs) error {
	if args.All {
		args = CleanArgs{IndexCache: true, Packages: true, Tarballs: true, Locks: true}
	}
	if args.IndexCache {
		dir := filepath.Join(op.Config.FirstPkgsDir(), "cache")
		fmt.Fprintf(op.Out, "index cache: %s freed\n", sizeOf(dir))
		if err := op.invalidateIndexCache(); err != nil {
			return err
		}
	}
	for _, pkgsDir := range op.Config.PkgsDirs {
		if args.Tarballs {
			if err := op.cleanTarballs(pkgsDir); err != nil {
				return err
			}
		}
		if args.Packages {
			if err := op.cleanPackages(pkgsDir); err != nil {
				return err
			}
		}
		if args.Locks {
			op.cleanLocks(pkgsDir)
		}
	}
	return nil
}

func (op *Operation) cleanTarballs(pkgsDir string) error {
	entries, err := os.ReadDir(pkgsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var freed int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, specs.ExtTarBz2) && !strings.HasSuffix(name, specs.ExtConda) {
			continue
		}
		p := filepath.Join(pkgsDir, name)
		if fi, serr := os.Stat(p); serr == nil {
			freed += fi.Size()
		}
		if err := cmn.RemoveFile(p); err != nil {
			return err
		}
	}
	fmt.Fprintf(op.Out, "tarballs: %d bytes freed from %s\n", freed, pkgsDir)
	return nil
}

// cleanPackages removes extracted trees no prefix references. A tree is
// referenced when some known prefix has a record with the same dist name.
func (op *Operation) cleanPackages(pkgsDir string) error {
	referenced := make(map[string]bool)
	for _, proot := range op.KnownPrefixes() {
		pd, err := prefix.Load(proot, op.Log)
		if err != nil {
			continue
		}
		for _, rec := range pd.Records() {
			referenced[rec.DistName()] = true
		}
	}
	entries, err := os.ReadDir(pkgsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "cache" {
			continue
		}
		dir := filepath.Join(pkgsDir, e.Name())
		// Only managed package trees carry the record file.
		if _, err := os.Stat(filepath.Join(dir, "info", "repodata_record.json")); err != nil {
			continue
		}
		if referenced[e.Name()] {
			continue
		}
		fmt.Fprintf(op.Out, "removing %s (%s)\n", dir, sizeOf(dir))
		if err := os.RemoveAll(dir); err != nil {
			return cmn.Access(err, dir)
		}
	}
	return nil
}

func (op *Operation) cleanLocks(pkgsDir string) {
	_ = godirwalk.Walk(pkgsDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() && strings.HasSuffix(path, ".lock") {
				_ = cmn.RemoveFile(path)
			}
			return nil
		},
		Unsorted: true,
	})
}
