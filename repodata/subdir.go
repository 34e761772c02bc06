// Package repodata maintains the per-(channel, platform) index cache:
// freshness-checked repodata documents staged on local disk.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package repodata

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marmot-pm/marmot/channel"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/cmn/jsp"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/dload"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	stateMetaver = 1

	lockTimeout = 30 * time.Second
)

type (
	// cacheState is the sidecar metadata next to the cached index. The
	// cache entry is valid only when the recorded size and mtime still
	// match the file; anything else counts as cache-absent.
	cacheState struct {
		URL          string `json:"url"`
		ETag         string `json:"etag,omitempty"`
		LastModified string `json:"mod,omitempty"`
		CacheControl string `json:"cache_control,omitempty"`
		FetchedAt    int64  `json:"fetch_nanos"`
		FileSize     int64  `json:"size"`
		FileMod      int64  `json:"mtime_nanos"`
	}

	// SubdirData is the load state for one channel x platform index.
	SubdirData struct {
		Channel  *channel.Channel
		Platform string

		cacheDir string
		ttl      conf.TTL
		offline  bool
		header   http.Header
		dl       *dload.Downloader
		log      *zap.SugaredLogger

		loaded  bool
		stale   bool // served from cache after a failed refresh
		state   cacheState
		records []*specs.PackageRecord
	}

	// repodataDoc is the wire shape of repodata.json.
	repodataDoc struct {
		Info struct {
			Subdir string `json:"subdir"`
		} `json:"info"`
		Packages      map[string]*specs.PackageRecord `json:"packages"`
		CondaPackages map[string]*specs.PackageRecord `json:"packages.conda"`
	}
)

// Options bundles the knobs shared by every SubdirData of one operation.
type Options struct {
	CacheDir string
	TTL      conf.TTL
	Offline  bool
	Header   http.Header // extra headers, e.g. bearer authorization

	// HeaderFor, when set, supplies per-channel headers and overrides
	// Header.
	HeaderFor func(*channel.Channel) http.Header
}

func New(ch *channel.Channel, platform string, opts Options,
	dl *dload.Downloader, log *zap.SugaredLogger) *SubdirData {
	return &SubdirData{
		Channel:  ch,
		Platform: platform,
		cacheDir: opts.CacheDir,
		ttl:      opts.TTL,
		offline:  opts.Offline,
		header:   opts.Header,
		dl:       dl,
		log:      log,
	}
}

// RepoURL is the remote index document location.
func (s *SubdirData) RepoURL() string { return s.Channel.RepodataURL(s.Platform) }

// CachePath derives the on-disk index location from the URL hash.
func (s *SubdirData) CachePath() string {
	return filepath.Join(s.cacheDir, cmn.XXHash64Str(cmn.StripURLAuth(s.RepoURL()))+".json")
}

func (s *SubdirData) statePath() string {
	return strings.TrimSuffix(s.CachePath(), ".json") + ".state"
}

func (s *SubdirData) Loaded() bool { return s.loaded }

// Stale reports that the records came from an out-of-date cache because
// the refresh failed.
func (s *SubdirData) Stale() bool { return s.stale }

// Records returns the indexed records; Load must have succeeded.
func (s *SubdirData) Records() []*specs.PackageRecord {
	cmn.Assert(s.loaded)
	return s.records
}

// Load brings the subdir into memory, consulting the cache first:
//  1. cache fresh by TTL policy: no network at all;
//  2. otherwise conditional fetch: 304 refreshes metadata only, 2xx
//     atomically replaces the cache;
//  3. fetch failure with a usable cache serves the cache with a warning,
//     without one it is RepodataUnavailable.
//
// A cache that no longer parses is dropped and refetched exactly once.
func (s *SubdirData) Load(ctx context.Context) error {
	usable := s.loadState()
	if usable && s.fresh(time.Now()) {
		if err := s.parseCache(); err == nil {
			return nil
		}
		// Fall through to refetch after parse failure.
		s.invalidate()
		usable = false
	}
	if s.offline {
		if usable {
			if err := s.parseCache(); err == nil {
				s.stale = true
				return nil
			}
		}
		return cmn.New(cmn.KindRepodataUnavailable,
			"no usable cache for %s/%s while offline", s.Channel.DisplayName, s.Platform)
	}

	ferr := s.fetch(ctx, usable)
	if ferr == nil {
		if err := s.parseCache(); err == nil {
			return nil
		}
		// Freshly fetched yet unparseable: one shot at a clean refetch.
		s.invalidate()
		if ferr = s.fetch(ctx, false); ferr == nil {
			if err := s.parseCache(); err != nil {
				return cmn.NewWrapped(cmn.KindRepodataUnavailable, err,
					"repodata for %s/%s is repeatedly malformed", s.Channel.DisplayName, s.Platform)
			}
			return nil
		}
	}
	if cmn.IsCancelled(ferr) {
		return ferr
	}
	if usable {
		if err := s.parseCache(); err == nil {
			s.stale = true
			s.log.Warnf("serving stale index for %s/%s: %v",
				s.Channel.DisplayName, s.Platform, ferr)
			return nil
		}
	}
	return cmn.NewWrapped(cmn.KindRepodataUnavailable, ferr,
		"cannot load repodata for %s/%s", s.Channel.DisplayName, s.Platform)
}

// loadState reads the sidecar and verifies it still describes the cache
// file on disk.
func (s *SubdirData) loadState() bool {
	if err := jsp.Load(s.statePath(), &s.state, jsp.CksumSign(stateMetaver)); err != nil {
		return false
	}
	if s.state.URL != cmn.StripURLAuth(s.RepoURL()) {
		return false
	}
	fi, err := os.Stat(s.CachePath())
	if err != nil {
		return false
	}
	return fi.Size() == s.state.FileSize && fi.ModTime().UnixNano() == s.state.FileMod
}

func (s *SubdirData) fresh(now time.Time) bool {
	age := now.Sub(time.Unix(0, s.state.FetchedAt))
	switch s.ttl.Mode {
	case conf.TTLAlwaysFetch:
		return false
	case conf.TTLSeconds:
		return age < time.Duration(s.ttl.Seconds)*time.Second
	}
	return age < maxAge(s.state.CacheControl)
}

// maxAge extracts the max-age directive; absent one the cache is
// immediately stale.
func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

// fetch downloads the index into the cache slot under the cache-dir lock.
// Compressed variants are preferred; the transport inflates them during
// the write so the cache always holds plain JSON.
func (s *SubdirData) fetch(ctx context.Context, conditional bool) error {
	lock, err := cmn.AcquireLock(filepath.Join(s.cacheDir, ".lock"), lockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	variants := []struct {
		url  string
		comp dload.Compression
	}{
		{s.RepoURL() + ".zst", dload.CompressionZstd},
		{s.RepoURL() + ".bz2", dload.CompressionBzip2},
		{s.RepoURL(), dload.CompressionNone},
	}
	var lastErr error
	for _, v := range variants {
		tmp := s.CachePath() + ".tmp." + cmn.GenTie()
		req := &dload.Request{
			URLPath:    v.url,
			Filename:   tmp,
			Decompress: v.comp,
			Header:     s.header,
		}
		if conditional {
			req.ETag = s.state.ETag
			req.LastModified = s.state.LastModified
		}
		res, err := s.dl.DownloadOne(ctx, req)
		if err != nil {
			return err // whole-batch condition, e.g. cancelled
		}
		if res.Err != nil {
			_ = cmn.RemoveFile(tmp)
			if isMissing(res.Err) {
				lastErr = res.Err
				continue
			}
			return res.Err
		}
		if res.NotModified {
			s.state.FetchedAt = time.Now().UnixNano()
			return jsp.Save(s.statePath(), &s.state, jsp.CksumSign(stateMetaver))
		}
		if err := os.Rename(tmp, s.CachePath()); err != nil {
			_ = cmn.RemoveFile(tmp)
			return err
		}
		return s.writeState(res)
	}
	return lastErr
}

func (s *SubdirData) writeState(res *dload.Result) error {
	fi, err := os.Stat(s.CachePath())
	if err != nil {
		return err
	}
	s.state = cacheState{
		URL:          cmn.StripURLAuth(s.RepoURL()),
		ETag:         res.ETag,
		LastModified: res.LastModified,
		CacheControl: res.CacheControl,
		FetchedAt:    time.Now().UnixNano(),
		FileSize:     fi.Size(),
		FileMod:      fi.ModTime().UnixNano(),
	}
	return jsp.Save(s.statePath(), &s.state, jsp.CksumSign(stateMetaver))
}

func (s *SubdirData) parseCache() error {
	data, err := os.ReadFile(s.CachePath())
	if err != nil {
		return err
	}
	var doc repodataDoc
	if err := cmn.JSON.Unmarshal(data, &doc); err != nil {
		return cmn.NewWrapped(cmn.KindCacheCorrupted, err,
			"malformed repodata cache %s", s.CachePath())
	}
	base := s.Channel.PlatformURL(s.Platform)
	s.records = make([]*specs.PackageRecord, 0, len(doc.Packages)+len(doc.CondaPackages))
	appendAll := func(m map[string]*specs.PackageRecord) {
		for fn, rec := range m {
			rec.Filename = fn
			rec.URL = cmn.JoinURL(base, fn)
			rec.Channel = s.Channel.DisplayName
			if rec.Subdir == "" {
				rec.Subdir = s.Platform
			}
			s.records = append(s.records, rec)
		}
	}
	appendAll(doc.Packages)
	appendAll(doc.CondaPackages)
	s.loaded = true
	return nil
}

func (s *SubdirData) invalidate() {
	_ = cmn.RemoveFile(s.CachePath())
	_ = cmn.RemoveFile(s.statePath())
	s.loaded = false
	s.records = nil
	s.state = cacheState{}
}

// isMissing covers both remote 404/410 and local file absence.
func isMissing(err error) bool {
	switch dload.StatusCode(err) {
	case 404, 410:
		return true
	}
	return os.IsNotExist(errors.Cause(err))
}

// IsNotFound reports that the subdir simply does not exist on the
// channel, as opposed to being unreachable. Callers routinely downgrade
// this to an empty subdir for noarch.
func IsNotFound(err error) bool {
	var wrapped *cmn.Err
	if errors.As(err, &wrapped) {
		return isMissing(wrapped.Unwrap())
	}
	return isMissing(err)
}

// MarkEmpty flags the subdir as loaded with no records.
func (s *SubdirData) MarkEmpty() {
	s.loaded = true
	s.records = nil
}
