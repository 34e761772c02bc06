// Package pkgcache implements the content-addressed artifact store shared
// by all prefixes: verified downloads plus atomically extracted trees.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package pkgcache

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/dload"
	"github.com/marmot-pm/marmot/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testFile struct {
	name string
	data string
	mode int64
}

// buildCondaArchive produces a minimal valid .conda artifact holding the
// given files plus a generated info/paths.json.
func buildCondaArchive(t *testing.T, dist string, files []testFile) []byte {
	t.Helper()

	var paths specs.PathsData
	paths.PathsVersion = 1
	for _, f := range files {
		sum := sha256.Sum256([]byte(f.data))
		paths.Paths = append(paths.Paths, specs.PathEntry{
			Path:        f.name,
			PathType:    specs.PathHardlink,
			SHA256:      hex.EncodeToString(sum[:]),
			SizeInBytes: int64(len(f.data)),
		})
	}
	all := append([]testFile{{
		name: "info/paths.json",
		data: string(cmn.MustMarshal(&paths)),
	}}, files...)

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, f := range all {
		mode := f.mode
		if mode == 0 {
			mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: f.name,
			Mode: mode,
			Size: int64(len(f.data)),
		}))
		_, err := tw.Write([]byte(f.data))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(tarBuf.Bytes(), nil)
	require.NoError(t, enc.Close())

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	member, err := zw.Create("pkg-" + dist + ".tar.zst")
	require.NoError(t, err)
	_, err = member.Write(compressed)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return zipBuf.Bytes()
}

// stageArtifact writes the archive to disk and returns a record whose URL
// points at it via file:// with a correct checksum.
func stageArtifact(t *testing.T, dir string, files []testFile) *specs.PackageRecord {
	t.Helper()
	rec := &specs.PackageRecord{
		Name:     "foo",
		Version:  "1.0",
		Build:    "h_0",
		Subdir:   "linux-64",
		Channel:  "test",
		Filename: "foo-1.0-h_0.conda",
	}
	data := buildCondaArchive(t, rec.DistName(), files)
	path := filepath.Join(dir, rec.Filename)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sum := sha256.Sum256(data)
	rec.SHA256 = hex.EncodeToString(sum[:])
	rec.Size = int64(len(data))
	rec.URL = cmn.PathToFileURL(path)
	return rec
}

func testCache(t *testing.T, extraChecks bool) *PackageCache {
	t.Helper()
	rc := &conf.Remote{
		DownloadThreads: 2, ExtractThreads: 2, MaxRetries: 1,
		RetryBackoff: 2, ConnectTimeoutSecs: 5, MaxMirrorTries: 1,
		SSLVerify: conf.SSLVerifySystem,
	}
	dl, err := dload.New(rc, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	pc, err := Open(t.TempDir(), dl, extraChecks, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestEnsureDownloadsAndExtracts(t *testing.T) {
	files := []testFile{
		{name: "bin/tool", data: "#!/bin/sh\necho hi\n", mode: 0o755},
		{name: "lib/data.txt", data: "payload"},
	}
	rec := stageArtifact(t, t.TempDir(), files)
	pc := testCache(t, true)

	art, err := pc.Ensure(context.Background(), rec, nil)
	require.NoError(t, err)
	require.NotNil(t, art)

	data, err := os.ReadFile(filepath.Join(art.Dir, "lib", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// The verified identity is persisted alongside the tree.
	onDisk, err := readRecordFile(filepath.Join(art.Dir, "info", "repodata_record.json"))
	require.NoError(t, err)
	assert.True(t, onDisk.SameContent(rec))

	pd, err := art.Paths()
	require.NoError(t, err)
	assert.Len(t, pd.Paths, 2)
}

func TestEnsureIsIdempotent(t *testing.T) {
	files := []testFile{{name: "x", data: "1"}}
	srcDir := t.TempDir()
	rec := stageArtifact(t, srcDir, files)
	pc := testCache(t, false)

	art1, err := pc.Ensure(context.Background(), rec, nil)
	require.NoError(t, err)
	// Remove the source archive: a second Ensure must hit the cache and
	// never touch the network.
	require.NoError(t, os.Remove(filepath.Join(srcDir, rec.Filename)))
	art2, err := pc.Ensure(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, art1.Dir, art2.Dir)
}

func TestEnsureChecksumMismatch(t *testing.T) {
	files := []testFile{{name: "x", data: "1"}}
	rec := stageArtifact(t, t.TempDir(), files)
	rec.SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"
	pc := testCache(t, false)

	_, err := pc.Ensure(context.Background(), rec, nil)
	require.Error(t, err)
	assert.Equal(t, cmn.KindChecksumMismatch, cmn.KindOf(err))

	_, statErr := os.Stat(filepath.Join(pc.Root(), rec.Filename))
	assert.True(t, os.IsNotExist(statErr), "mismatched download is removed")
	_, statErr = os.Stat(filepath.Join(pc.Root(), rec.DistName()))
	assert.True(t, os.IsNotExist(statErr), "no extracted tree for bad archive")
}

func TestEnsureAll(t *testing.T) {
	dir := t.TempDir()
	rec := stageArtifact(t, dir, []testFile{{name: "a", data: "a"}})
	pc := testCache(t, false)

	arts, err := pc.EnsureAll(context.Background(), []*specs.PackageRecord{rec}, nil, 2)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	require.NotNil(t, arts[rec.Key()])
}

func TestLookupRebuildsRegistry(t *testing.T) {
	files := []testFile{{name: "x", data: "1"}}
	rec := stageArtifact(t, t.TempDir(), files)
	pc := testCache(t, false)
	_, err := pc.Ensure(context.Background(), rec, nil)
	require.NoError(t, err)

	// Wipe the registry; the on-disk record remains authoritative.
	require.NoError(t, pc.registry.DeleteCollection(registryCollection))
	art, ok := pc.Lookup(rec)
	require.True(t, ok)
	assert.NotEmpty(t, art.Dir)
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := safeJoin(root, "../escape")
	require.Error(t, err)
	_, err = safeJoin(root, "ok/nested")
	require.NoError(t, err)
}
