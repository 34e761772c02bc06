// Package txn serializes a solver solution into FETCH, EXTRACT, UNLINK
// and LINK phases executed against a prefix with crash safety and history
// journalling.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package txn

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/pkgcache"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ExecuteOpts carries the collaborators one Execute needs.
type ExecuteOpts struct {
	Prefix    *prefix.PrefixData
	Cache     *pkgcache.PackageCache
	Config    *conf.Config
	Header    http.Header // auth headers for fetches
	Interrupt *atomic.Bool
	Log       *zap.SugaredLogger
}

// Execute applies the plan under the prefix lock, phase by phase:
//
//  1. resolve every Link record through the package cache (network and
//     extraction parallelism live there) — any failure aborts before the
//     prefix is touched;
//  2. unlink in dependents-first order;
//  3. link in dependencies-first order, journalling each record only
//     after all of its files are in place;
//  4. append the history stanza.
//
// A transaction is consumed exactly once.
func (t *Transaction) Execute(ctx context.Context, opts ExecuteOpts) error {
	cmn.Assertf(!t.consumed, "transaction %s executed twice", t.ID)
	t.consumed = true
	if t.Empty() {
		return nil
	}

	lock, err := opts.Prefix.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	// Phase 1: fetch + extract everything we will link.
	toFetch := make([]*specs.PackageRecord, 0, len(t.install))
	for _, rec := range t.install {
		if existing, ok := opts.Prefix.Get(rec.Name); ok && existing.Key() == rec.Key() {
			continue // re-applying is a no-op for this record
		}
		toFetch = append(toFetch, rec)
	}
	artifacts, err := opts.Cache.EnsureAll(ctx, toFetch, opts.Header, opts.Config.Remote.ExtractThreads)
	if err != nil {
		return err // no prefix mutation has happened
	}

	// Phase 2: unlink.
	var unlinkFailures []error
	unlinked := make([]string, 0, len(t.remove))
	for _, rec := range t.remove {
		if t.interrupted(opts) {
			return cmn.ErrCancelled
		}
		if err := t.unlinkRecord(opts, rec); err != nil {
			unlinkFailures = append(unlinkFailures, errors.Wrapf(err, "unlink %s", rec.DistName()))
			continue
		}
		unlinked = append(unlinked, rec.DistName())
	}
	if len(unlinkFailures) > 0 {
		// Refuse to layer new files over a half-removed state.
		return composite("unlink phase failed", unlinkFailures)
	}

	// Phase 3: link.
	linked := make([]*specs.PackageRecord, 0, len(toFetch))
	for _, rec := range toFetch {
		if t.interrupted(opts) {
			err = cmn.ErrCancelled
		} else {
			err = t.linkRecord(opts, rec, artifacts[rec.Key()])
		}
		if err != nil {
			reversal := t.reverse(opts, linked)
			all := append([]error{errors.Wrapf(err, "link %s", rec.DistName())}, reversal...)
			return composite("link phase failed", all)
		}
		linked = append(linked, rec)
	}

	// Phase 4: journal the user request.
	req := &prefix.UserRequest{
		Timestamp:   time.Now(),
		Cmd:         t.Cmd,
		UpdateSpecs: t.UpdateSpecs,
		RemoveSpecs: t.RemoveSpecs,
		LinkDists:   dists(linked),
		UnlinkDists: dists(t.remove),
	}
	if err := opts.Prefix.History().Append(req); err != nil {
		return errors.Wrap(err, "append history")
	}
	opts.Log.Infof("transaction %s done: linked %d, unlinked %d",
		t.ID, len(linked), len(unlinked))
	return nil
}

func (t *Transaction) interrupted(opts ExecuteOpts) bool {
	return opts.Interrupt != nil && opts.Interrupt.Load()
}

// unlinkRecord removes the record's files (per its conda-meta inventory),
// prunes emptied directories, and deletes the journal entry.
func (t *Transaction) unlinkRecord(opts ExecuteOpts, rec *specs.PackageRecord) error {
	installed, ok := opts.Prefix.Get(rec.Name)
	if !ok {
		return nil // already gone; unlink is idempotent
	}
	root := opts.Prefix.Root()
	for _, rel := range installed.Files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := cmn.RemoveFile(target); err != nil {
			return cmn.Access(err, target)
		}
		cmn.RemoveEmptyParents(filepath.Dir(target), root)
	}
	return opts.Prefix.RemoveRecord(rec.Name)
}

// linkRecord materializes one artifact into the prefix and, only after
// every file is in place, writes its conda-meta record.
func (t *Transaction) linkRecord(opts ExecuteOpts, rec *specs.PackageRecord, art *pkgcache.LocalArtifact) (err error) {
	cmn.Assertf(art != nil, "no artifact resolved for %s", rec.DistName())
	pathsData, err := art.Paths()
	if err != nil {
		return err
	}

	var (
		root   = opts.Prefix.Root()
		files  = make([]string, 0, len(pathsData.Paths))
		policy = &opts.Config.Link
	)
	defer func() {
		if err != nil {
			// Roll back this record's files; the conda-meta entry was
			// never written, so the journal stays consistent.
			for _, rel := range files {
				_ = cmn.RemoveFile(filepath.Join(root, filepath.FromSlash(rel)))
			}
		}
	}()

	for i := range pathsData.Paths {
		entry := &pathsData.Paths[i]
		if entry.PathType == specs.PathDirectory {
			continue
		}
		src := filepath.Join(art.Dir, filepath.FromSlash(entry.Path))
		dst := filepath.Join(root, filepath.FromSlash(entry.Path))

		if err = t.checkEntry(opts, art, entry, src); err != nil {
			return err
		}
		if entry.PrefixPlaceholder != "" {
			err = rewritePlaceholder(src, dst, entry, root)
		} else {
			err = linkFile(src, dst, chooseLinkType(entry, policy))
		}
		if err != nil {
			return err
		}
		files = append(files, entry.Path)
	}

	meta := &prefix.Record{
		PackageRecord: *rec,
		Files:         files,
		PathsData:     pathsData,
		Link: prefix.LinkInfo{
			Source: art.Dir,
			Type:   chooseLinkType(&specs.PathEntry{}, policy),
		},
	}
	return opts.Prefix.InsertRecord(meta)
}

// checkEntry applies link-time safety checks to the source file.
func (t *Transaction) checkEntry(opts ExecuteOpts, art *pkgcache.LocalArtifact,
	entry *specs.PathEntry, src string) error {
	level := opts.Config.SafetyChecks
	if level == conf.SafetyDisabled {
		return nil
	}
	fi, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "artifact %s is missing %s", art.Record.DistName(), entry.Path)
	}
	if entry.SizeInBytes > 0 && fi.Mode().IsRegular() &&
		entry.PrefixPlaceholder == "" && fi.Size() != entry.SizeInBytes {
		msg := fmt.Sprintf("size mismatch for %s in %s: %d on disk, %d recorded",
			entry.Path, art.Record.DistName(), fi.Size(), entry.SizeInBytes)
		if level == conf.SafetyWarn {
			opts.Log.Warnf("%s", msg)
			return nil
		}
		return cmn.New(cmn.KindCacheCorrupted, "%s", msg)
	}
	return nil
}

// reverse best-effort unlinks the records this transaction already
// linked, returning the failures it could not undo.
func (t *Transaction) reverse(opts ExecuteOpts, linked []*specs.PackageRecord) []error {
	var out []error
	for i := len(linked) - 1; i >= 0; i-- {
		if err := t.unlinkRecord(opts, linked[i]); err != nil {
			out = append(out, errors.Wrapf(err, "reversal of %s", linked[i].DistName()))
		}
	}
	return out
}

func composite(msg string, errs []error) error {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return errors.Errorf("%s:\n  %s", msg, strings.Join(parts, "\n  "))
}
