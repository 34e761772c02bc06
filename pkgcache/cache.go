// Package pkgcache implements the content-addressed artifact store shared
// by all prefixes: verified downloads plus atomically extracted trees.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package pkgcache

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/dload"
	"github.com/marmot-pm/marmot/kvdb"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	registryCollection = "pkgs"
	recordFileName     = "repodata_record.json"

	cacheLockTimeout = 5 * time.Minute
)

type (
	// LocalArtifact is the product of Ensure: a verified, extracted
	// package the executor can link from.
	LocalArtifact struct {
		Record  *specs.PackageRecord
		Dir     string // extracted tree
		Tarball string // original archive; empty when already removed
	}

	// PackageCache is one pkgs/ directory. Mutators run under the cache
	// lock; readers only re-check identity on disk.
	PackageCache struct {
		root        string
		registry    kvdb.Driver
		dl          *dload.Downloader
		extraChecks bool
		log         *zap.SugaredLogger
	}
)

// Open prepares the cache directory and its registry. The registry is an
// index over the authoritative on-disk repodata_record.json files; a
// missing or stale registry heals lazily.
func Open(root string, dl *dload.Downloader, extraChecks bool, log *zap.SugaredLogger) (*PackageCache, error) {
	if err := os.MkdirAll(filepath.Join(root, "cache"), 0o755); err != nil {
		return nil, cmn.Access(err, root)
	}
	registry, err := kvdb.NewBuntDB(filepath.Join(root, "cache", "registry.db"))
	if err != nil {
		return nil, errors.Wrap(err, "open package-cache registry")
	}
	return &PackageCache{
		root:        root,
		registry:    registry,
		dl:          dl,
		extraChecks: extraChecks,
		log:         log,
	}, nil
}

func (pc *PackageCache) Close() error { return pc.registry.Close() }

func (pc *PackageCache) Root() string { return pc.root }

func (pc *PackageCache) lockPath() string { return filepath.Join(pc.root, ".pkgs.lock") }

// Lookup returns the extracted artifact when the cache already holds
// matching content, without taking the lock.
func (pc *PackageCache) Lookup(rec *specs.PackageRecord) (*LocalArtifact, bool) {
	dir := filepath.Join(pc.root, rec.DistName())

	var cached specs.PackageRecord
	if err := pc.registry.Get(registryCollection, rec.DistName(), &cached); err == nil {
		if cached.SameContent(rec) {
			if _, err := os.Stat(filepath.Join(dir, "info", recordFileName)); err == nil {
				return pc.artifactFor(&cached, dir), true
			}
		}
	}
	// Registry miss or stale: the on-disk record is authoritative.
	onDisk, err := readRecordFile(filepath.Join(dir, "info", recordFileName))
	if err != nil {
		return nil, false
	}
	if !onDisk.SameContent(rec) {
		return nil, false
	}
	_ = pc.registry.Set(registryCollection, rec.DistName(), onDisk)
	return pc.artifactFor(onDisk, dir), true
}

func (pc *PackageCache) artifactFor(rec *specs.PackageRecord, dir string) *LocalArtifact {
	art := &LocalArtifact{Record: rec, Dir: dir}
	if rec.Filename != "" {
		tb := filepath.Join(pc.root, rec.Filename)
		if _, err := os.Stat(tb); err == nil {
			art.Tarball = tb
		}
	}
	return art
}

// Ensure makes the record locally available: cache hit, or download,
// verify, and extract under the cache lock.
func (pc *PackageCache) Ensure(ctx context.Context, rec *specs.PackageRecord, hdr http.Header) (*LocalArtifact, error) {
	if art, ok := pc.Lookup(rec); ok {
		return art, nil
	}
	lock, err := cmn.AcquireLock(pc.lockPath(), cacheLockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	// Another process may have filled the slot while we waited.
	if art, ok := pc.Lookup(rec); ok {
		return art, nil
	}

	archive, err := pc.fetch(ctx, rec, hdr)
	if err != nil {
		return nil, err
	}
	dir, err := pc.extract(rec, archive)
	if err != nil {
		return nil, err
	}
	if err := pc.registry.Set(registryCollection, rec.DistName(), rec); err != nil {
		pc.log.Warnf("package-cache registry update failed for %s: %v", rec.DistName(), err)
	}
	return &LocalArtifact{Record: rec, Dir: dir, Tarball: archive}, nil
}

// fetch downloads the artifact and enforces the record checksum; a
// mismatch is a hard failure and removes the file.
func (pc *PackageCache) fetch(ctx context.Context, rec *specs.PackageRecord, hdr http.Header) (string, error) {
	if rec.URL == "" {
		return "", cmn.New(cmn.KindInvalidSpec, "record %s has no download URL", rec.DistName())
	}
	filename := rec.Filename
	if filename == "" {
		filename = filepath.Base(rec.URL)
	}
	dst := filepath.Join(pc.root, filename)
	if _, err := os.Stat(dst); err == nil {
		if err := pc.verifyArchive(dst, rec); err == nil {
			return dst, nil
		}
		// A leftover with the wrong content is junk.
		_ = cmn.RemoveFile(dst)
	}

	res, err := pc.dl.DownloadOne(ctx, &dload.Request{
		URLPath:      rec.URL,
		Filename:     dst,
		ExpectedSize: rec.Size,
		Header:       hdr,
	})
	if err != nil {
		return "", err
	}
	if res.Err != nil {
		return "", res.Err
	}
	if err := pc.verifyArchive(dst, rec); err != nil {
		_ = cmn.RemoveFile(dst)
		return "", err
	}
	return dst, nil
}

func (pc *PackageCache) verifyArchive(path string, rec *specs.PackageRecord) error {
	want := rec.Cksum()
	if want.IsEmpty() {
		return nil
	}
	got, err := cmn.FileCksum(path, want.Algo)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return &cmn.ErrBadCksum{
			Algo:     want.Algo,
			Expected: want.Value,
			Got:      got.Value,
			Source:   rec.URL,
		}
	}
	return nil
}

// extract unpacks into a temp sibling and renames, so a crashed extract
// never masquerades as a valid cache entry.
func (pc *PackageCache) extract(rec *specs.PackageRecord, archive string) (string, error) {
	var (
		dir = filepath.Join(pc.root, rec.DistName())
		tmp = dir + ".tmp." + cmn.GenTie()
	)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", err
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	if err := extractArchive(archive, tmp); err != nil {
		cleanup()
		return "", cmn.NewWrapped(cmn.KindCacheCorrupted, err, "extract %s", rec.DistName())
	}
	if pc.extraChecks {
		if err := verifyPaths(tmp); err != nil {
			cleanup()
			return "", err
		}
	}
	recPath := filepath.Join(tmp, "info", recordFileName)
	if err := cmn.SaveBytes(recPath, cmn.MustMarshalIndent(rec)); err != nil {
		cleanup()
		return "", err
	}
	_ = os.RemoveAll(dir) // replace any stale tree
	if err := os.Rename(tmp, dir); err != nil {
		cleanup()
		return "", err
	}
	return dir, nil
}

// EnsureAll resolves many records, bounding extraction parallelism. The
// first failure cancels the rest.
func (pc *PackageCache) EnsureAll(ctx context.Context, recs []*specs.PackageRecord,
	hdr http.Header, workers int) (map[specs.RecordKey]*LocalArtifact, error) {
	var (
		g, gctx = errgroup.WithContext(ctx)
		out     = make([]*LocalArtifact, len(recs))
	)
	g.SetLimit(workers)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			art, err := pc.Ensure(gctx, rec, hdr)
			if err != nil {
				return errors.Wrapf(err, "ensure %s", rec.DistName())
			}
			out[i] = art
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m := make(map[specs.RecordKey]*LocalArtifact, len(out))
	for i, art := range out {
		m[recs[i].Key()] = art
	}
	return m, nil
}

// Paths loads the extracted artifact's path inventory. Artifacts without
// paths.json (ancient format) fall back to walking the files list in
// info/files.
func (art *LocalArtifact) Paths() (*specs.PathsData, error) {
	data, err := os.ReadFile(filepath.Join(art.Dir, "info", "paths.json"))
	if err == nil {
		var pd specs.PathsData
		if uerr := cmn.JSON.Unmarshal(data, &pd); uerr != nil {
			return nil, errors.Wrap(uerr, "parse paths.json")
		}
		return &pd, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return art.pathsFromFiles()
}

func (art *LocalArtifact) pathsFromFiles() (*specs.PathsData, error) {
	data, err := os.ReadFile(filepath.Join(art.Dir, "info", "files"))
	if err != nil {
		return nil, errors.Wrap(err, "artifact has neither paths.json nor files")
	}
	pd := &specs.PathsData{PathsVersion: 1}
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		pd.Paths = append(pd.Paths, specs.PathEntry{Path: line, PathType: specs.PathHardlink})
	}
	return pd, nil
}

func readRecordFile(path string) (*specs.PackageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec specs.PackageRecord
	if err := cmn.JSON.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return lines
}
