// Package repodata maintains the per-(channel, platform) index cache:
// freshness-checked repodata documents staged on local disk.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package repodata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/marmot-pm/marmot/channel"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/dload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const sampleRepodata = `{
  "info": {"subdir": "linux-64"},
  "packages": {
    "foo-1.0-h_0.tar.bz2": {
      "name": "foo", "version": "1.0", "build": "h_0", "build_number": 0,
      "subdir": "linux-64", "depends": [], "md5": "aaa", "size": 10
    }
  },
  "packages.conda": {
    "bar-2.0-h_1.conda": {
      "name": "bar", "version": "2.0", "build": "h_1", "build_number": 1,
      "subdir": "linux-64", "depends": ["foo >=1.0"], "sha256": "bbb", "size": 20
    }
  }
}`

type fakeIndex struct {
	etag    string
	payload string

	gets        atomic.Int32
	notModified atomic.Int32
}

func newIndexServer(t *testing.T, idx *fakeIndex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/chan/linux-64/repodata.json":
			idx.gets.Inc()
			if idx.etag != "" && r.Header.Get("If-None-Match") == idx.etag {
				idx.notModified.Inc()
				w.WriteHeader(http.StatusNotModified)
				return
			}
			if idx.etag != "" {
				w.Header().Set("ETag", idx.etag)
			}
			fmt.Fprint(w, idx.payload)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newSubdir(t *testing.T, baseURL, cacheDir string, ttl conf.TTL) *SubdirData {
	t.Helper()
	rc := &conf.Remote{
		DownloadThreads: 2, ExtractThreads: 1, MaxRetries: 1,
		RetryBackoff: 2, ConnectTimeoutSecs: 5, MaxMirrorTries: 1,
		SSLVerify: conf.SSLVerifySystem,
	}
	dl, err := dload.New(rc, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	ch := &channel.Channel{
		URL:         baseURL + "/chan",
		DisplayName: "chan",
		Platforms:   []string{"linux-64", "noarch"},
	}
	return New(ch, "linux-64", Options{CacheDir: cacheDir, TTL: ttl}, dl, zap.NewNop().Sugar())
}

func TestLoadFetchesAndParses(t *testing.T) {
	idx := &fakeIndex{payload: sampleRepodata}
	srv := newIndexServer(t, idx)
	defer srv.Close()

	sd := newSubdir(t, srv.URL, t.TempDir(), conf.TTL{Mode: conf.TTLAlwaysFetch})
	require.NoError(t, sd.Load(context.Background()))
	recs := sd.Records()
	require.Len(t, recs, 2)

	byName := map[string]bool{}
	for _, rec := range recs {
		byName[rec.Name] = true
		assert.Equal(t, "chan", rec.Channel)
		assert.Equal(t, "linux-64", rec.Subdir)
		assert.NotEmpty(t, rec.URL)
	}
	assert.True(t, byName["foo"] && byName["bar"])
}

// 304 flow: the cache file is untouched, only the fetch timestamp moves.
func TestLoadNotModified(t *testing.T) {
	idx := &fakeIndex{etag: `"abc"`, payload: sampleRepodata}
	srv := newIndexServer(t, idx)
	defer srv.Close()

	cacheDir := t.TempDir()
	sd := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLAlwaysFetch})
	require.NoError(t, sd.Load(context.Background()))
	firstFetch := sd.state.FetchedAt
	fi1, err := os.Stat(sd.CachePath())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	sd2 := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLAlwaysFetch})
	require.NoError(t, sd2.Load(context.Background()))
	assert.EqualValues(t, 1, idx.notModified.Load(), "second load is a conditional hit")

	fi2, err := os.Stat(sd2.CachePath())
	require.NoError(t, err)
	assert.Equal(t, fi1.ModTime(), fi2.ModTime(), "cache mtime untouched on 304")
	assert.Greater(t, sd2.state.FetchedAt, firstFetch, "fetch timestamp refreshed")
	require.Len(t, sd2.Records(), 2)
}

// Fresh cache by TTL: no network at all.
func TestLoadFreshCacheSkipsNetwork(t *testing.T) {
	idx := &fakeIndex{payload: sampleRepodata}
	srv := newIndexServer(t, idx)
	defer srv.Close()

	cacheDir := t.TempDir()
	sd := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLSeconds, Seconds: 3600})
	require.NoError(t, sd.Load(context.Background()))
	gets := idx.gets.Load()

	sd2 := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLSeconds, Seconds: 3600})
	require.NoError(t, sd2.Load(context.Background()))
	assert.Equal(t, gets, idx.gets.Load(), "no additional request while fresh")
	require.Len(t, sd2.Records(), 2)
}

// Server failure with a usable cache serves stale data with a warning.
func TestLoadServesStaleOnFailure(t *testing.T) {
	idx := &fakeIndex{payload: sampleRepodata}
	srv := newIndexServer(t, idx)

	cacheDir := t.TempDir()
	sd := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLAlwaysFetch})
	require.NoError(t, sd.Load(context.Background()))
	base := srv.URL
	srv.Close() // the channel goes dark

	sd2 := newSubdir(t, base, cacheDir, conf.TTL{Mode: conf.TTLAlwaysFetch})
	require.NoError(t, sd2.Load(context.Background()))
	assert.True(t, sd2.Stale())
	require.Len(t, sd2.Records(), 2)
}

func TestLoadFailsWithoutCache(t *testing.T) {
	sd := newSubdir(t, "http://127.0.0.1:1", t.TempDir(), conf.TTL{Mode: conf.TTLAlwaysFetch})
	err := sd.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cmn.KindRepodataUnavailable, cmn.KindOf(err))
}

// A malformed cache is dropped and refetched once.
func TestLoadRecoversFromMalformedCache(t *testing.T) {
	idx := &fakeIndex{payload: sampleRepodata}
	srv := newIndexServer(t, idx)
	defer srv.Close()

	cacheDir := t.TempDir()
	sd := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLSeconds, Seconds: 3600})
	require.NoError(t, sd.Load(context.Background()))

	// Corrupt the cache without touching size (state validation checks
	// size and mtime, parse must be the one to fail).
	data, err := os.ReadFile(sd.CachePath())
	require.NoError(t, err)
	for i := range data {
		data[i] = '!'
	}
	fi, err := os.Stat(sd.CachePath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sd.CachePath(), data, 0o644))
	require.NoError(t, os.Chtimes(sd.CachePath(), fi.ModTime(), fi.ModTime()))

	sd2 := newSubdir(t, srv.URL, cacheDir, conf.TTL{Mode: conf.TTLSeconds, Seconds: 3600})
	require.NoError(t, sd2.Load(context.Background()))
	require.Len(t, sd2.Records(), 2, "refetched after corruption")
}

func TestOfflineWithoutCache(t *testing.T) {
	sd := newSubdir(t, "http://127.0.0.1:1", t.TempDir(), conf.TTL{Mode: conf.TTLAlwaysFetch})
	sd.offline = true
	err := sd.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, cmn.KindRepodataUnavailable, cmn.KindOf(err))
}
