// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

func testRemote() *conf.Remote {
	return &conf.Remote{
		DownloadThreads:    5,
		ExtractThreads:     2,
		MaxRetries:         3,
		RetryTimeoutSecs:   0, // immediate retries keep tests fast
		RetryBackoff:       2,
		ConnectTimeoutSecs: 5,
		MaxMirrorTries:     3,
		SSLVerify:          conf.SSLVerifySystem,
	}
}

func testDownloader(t *testing.T, interrupt *atomic.Bool) *Downloader {
	t.Helper()
	d, err := New(testRemote(), interrupt, zap.NewNop().Sugar())
	require.NoError(t, err)
	return d
}

func TestDownloadBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/x"})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "payload", string(res.Content))
	assert.Equal(t, 1, res.Attempts)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "file-content")
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/f", Filename: dst})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "file-content", string(data))
	assert.EqualValues(t, len("file-content"), res.Size)
}

// Retry on 503: two failures with Retry-After, then success. The
// transfer must observe exactly three attempts and leave no partial
// file from the failed rounds.
func TestRetryOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() <= 2 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/r", Filename: dst})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, calls.Load())

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "finally", string(data))
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/r", Filename: dst})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Equal(t, cmn.KindRetryExceeded, cmn.KindOf(res.Err))
	// MaxRetries bounds the attempts: 1 + 3 retries.
	assert.Equal(t, 4, res.Attempts)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "no partial file after final failure")
}

func TestNoRetryOn404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.EqualValues(t, 1, calls.Load(), "404 is terminal")
	assert.Equal(t, 404, StatusCode(res.Err))
}

func TestConditionalNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		fmt.Fprint(w, "body")
	}))
	defer srv.Close()

	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL, ETag: `"abc"`})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, res.NotModified)
	assert.Empty(t, res.Content, "no body bytes on 304")
}

func TestCheckOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path == "/there" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/there", CheckOnly: true})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, res.Exists)

	res, err = d.DownloadOne(context.Background(), &Request{URLPath: srv.URL + "/gone", CheckOnly: true})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.False(t, res.Exists)
}

func TestMirrorFailover(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "mirrored")
	}))
	defer good.Close()

	ms := NewMirrorSet(3, 3,
		DirectMirror("bad", bad.URL),
		DirectMirror("good", good.URL))
	d := testDownloader(t, nil)
	mr, err := d.Download(context.Background(), []*Request{{URLPath: "pkg/data.bin"}}, ms)
	require.NoError(t, err)
	res := mr.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "mirrored", string(res.Content))

	succ, fail := ms.Stats("good")
	assert.Equal(t, 1, succ)
	assert.Equal(t, 0, fail)
	_, fail = ms.Stats("bad")
	assert.GreaterOrEqual(t, fail, 1)
}

func TestMirrorGeneratorChain(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			fmt.Fprint(w, "tok-42")
		case "/blob":
			gotAuth = r.Header.Get("Authorization")
			fmt.Fprint(w, "blob-bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := &Mirror{
		Name:    "registry",
		BaseURL: srv.URL,
		Generators: []RequestGenerator{
			func(_ []byte, _ string) (string, http.Header, error) {
				return srv.URL + "/token", nil, nil
			},
			func(prev []byte, _ string) (string, http.Header, error) {
				hdr := make(http.Header)
				hdr.Set("Authorization", "Bearer "+string(prev))
				return srv.URL + "/blob", hdr, nil
			},
		},
	}
	d := testDownloader(t, nil)
	mr, err := d.Download(context.Background(), []*Request{{URLPath: "x"}}, NewMirrorSet(3, 3, m))
	require.NoError(t, err)
	res := mr.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "blob-bytes", string(res.Content))
	assert.Equal(t, "Bearer tok-42", gotAuth)
}

func TestDecompressZstd(t *testing.T) {
	var buf []byte
	{
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		buf = enc.EncodeAll([]byte(`{"ok": true}`), nil)
		require.NoError(t, enc.Close())
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf)
	}))
	defer srv.Close()

	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{
		URLPath:    srv.URL + "/repodata.json.zst",
		Decompress: CompressionAuto,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, `{"ok": true}`, string(res.Content))
}

func TestLocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local.bin")
	require.NoError(t, os.WriteFile(src, []byte("local-data"), 0o644))

	d := testDownloader(t, nil)
	res, err := d.DownloadOne(context.Background(), &Request{URLPath: cmn.PathToFileURL(src)})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "local-data", string(res.Content))

	res, err = d.DownloadOne(context.Background(), &Request{
		URLPath:   cmn.PathToFileURL(filepath.Join(t.TempDir(), "nope")),
		CheckOnly: true,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.False(t, res.Exists)
}

// Cancellation mid-batch: completed files stay, partials of unfinished
// transfers are removed, the driver returns the cancellation error.
func TestCancellation(t *testing.T) {
	var (
		release = make(chan struct{})
		once    sync.Once
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path < "/slow" { // /fast-* sorts below /slow
			fmt.Fprint(w, "done-", r.URL.Path)
			return
		}
		// Stream a little, then stall until the client goes away.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial-bytes"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer func() {
		once.Do(func() { close(release) })
		srv.Close()
	}()

	var (
		dir       = t.TempDir()
		interrupt = atomic.NewBool(false)
		reqs      []*Request
	)
	for i := 0; i < 3; i++ {
		reqs = append(reqs, &Request{
			URLPath:  fmt.Sprintf("%s/fast-%d", srv.URL, i),
			Filename: filepath.Join(dir, fmt.Sprintf("fast-%d", i)),
		})
	}
	for i := 0; i < 7; i++ {
		reqs = append(reqs, &Request{
			URLPath:  fmt.Sprintf("%s/slow-%d", srv.URL, i),
			Filename: filepath.Join(dir, fmt.Sprintf("slow-%d", i)),
		})
	}

	go func() {
		time.Sleep(500 * time.Millisecond)
		interrupt.Store(true)
	}()

	d := testDownloader(t, interrupt)
	start := time.Now()
	mr, err := d.Download(context.Background(), reqs, nil)
	require.ErrorIs(t, err, cmn.ErrCancelled)
	assert.Less(t, time.Since(start), 10*time.Second, "workers joined in bounded time")
	require.Len(t, mr.Results, 10)

	for i := 0; i < 3; i++ {
		_, statErr := os.Stat(filepath.Join(dir, fmt.Sprintf("fast-%d", i)))
		assert.NoError(t, statErr, "completed file %d remains", i)
	}
	for i := 0; i < 7; i++ {
		_, statErr := os.Stat(filepath.Join(dir, fmt.Sprintf("slow-%d", i)))
		assert.True(t, os.IsNotExist(statErr), "partial slow-%d removed", i)
	}
	once.Do(func() { close(release) })
}
