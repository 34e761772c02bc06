// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

import (
	"bytes"
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Tracker states.
const (
	stateWaiting int32 = iota
	statePreparing
	stateRunning
	stateFinished
	stateFailed
)

type (
	// tracker walks one Request through its state machine. All mutable
	// fields are touched by exactly one goroutine at a time: the jogger
	// currently executing the attempt, or the timer goroutine re-queueing
	// a waiting tracker (never both, the state word hands off ownership).
	tracker struct {
		req     *Request
		idx     int // position in the batch
		mirrors *MirrorSet
		client  *http.Client
		rc      *conf.Remote
		log     *zap.SugaredLogger

		state    atomic.Int32
		attempts int
		pass     int
		tried    map[*Mirror]int
		lastErr  error

		result *Result
	}

	// attemptOutcome tells the jogger what to do next.
	attemptOutcome struct {
		done       bool
		retryAfter time.Duration
	}
)

func newTracker(req *Request, idx int, mirrors *MirrorSet, client *http.Client,
	rc *conf.Remote, log *zap.SugaredLogger) *tracker {
	return &tracker{
		req:     req,
		idx:     idx,
		mirrors: mirrors,
		client:  client,
		rc:      rc,
		log:     log,
		tried:   make(map[*Mirror]int),
		result:  &Result{Request: req},
	}
}

// run performs one attempt. The caller owns the tracker for the duration.
func (tr *tracker) run(ctx context.Context) attemptOutcome {
	tr.state.Store(statePreparing)
	tr.attempts++
	tr.result.Attempts = tr.attempts

	var mirror *Mirror
	if tr.mirrors != nil {
		if mirror = tr.mirrors.next(tr.tried, tr.pass); mirror == nil {
			return tr.fail(&cmn.ErrRetryExceeded{
				URL:      tr.req.URLPath,
				Attempts: tr.attempts - 1,
				Last:     tr.lastErr,
			})
		}
		tr.tried[mirror]++
	}

	err := tr.attempt(ctx, mirror)
	if mirror != nil {
		tr.mirrors.release(mirror, err == nil)
	}
	if err == nil {
		tr.state.Store(stateFinished)
		return attemptOutcome{done: true}
	}
	if ctx.Err() != nil || cmn.IsCancelled(err) {
		tr.result.Err = cmn.ErrCancelled
		tr.state.Store(stateFailed)
		return attemptOutcome{done: true}
	}

	tr.lastErr = err
	status := tr.result.StatusCode
	scheme := schemeOf(tr.effectiveURL())
	if !retryable(err, status, scheme) {
		return tr.fail(err)
	}
	retriesLeft := tr.attempts <= tr.rc.MaxRetries
	moreMirrors := tr.mirrors != nil && len(tr.tried) < len(tr.mirrors.mirrors)
	if !retriesLeft && !moreMirrors {
		return tr.fail(&cmn.ErrRetryExceeded{
			URL:      tr.effectiveURL(),
			Attempts: tr.attempts,
			Last:     err,
		})
	}
	if tr.mirrors != nil && len(tr.tried) == len(tr.mirrors.mirrors) {
		tr.pass++
	}
	tr.state.Store(stateWaiting)
	tr.log.Debugf("transfer %s failed (attempt %d): %v; retrying",
		tr.effectiveURL(), tr.attempts, err)
	return attemptOutcome{retryAfter: tr.retryDelay(err)}
}

func (tr *tracker) fail(err error) attemptOutcome {
	tr.result.Err = err
	tr.state.Store(stateFailed)
	return attemptOutcome{done: true}
}

func (tr *tracker) effectiveURL() string {
	if tr.result.EffectiveURL != "" {
		return tr.result.EffectiveURL
	}
	return tr.req.URLPath
}

// attempt executes the mirror's request chain (a single direct request
// when the mirror defines no generators).
func (tr *tracker) attempt(ctx context.Context, mirror *Mirror) error {
	tr.state.Store(stateRunning)

	var gens []RequestGenerator
	base := tr.req.URLPath
	if mirror != nil {
		gens = mirror.Generators
		if mirror.BaseURL != "" {
			base = cmn.JoinURL(mirror.BaseURL, tr.req.URLPath)
		}
	}
	if len(gens) == 0 {
		return tr.transfer(ctx, base, nil, true)
	}

	// Walk the chain: intermediate bodies feed the next generator, only
	// the terminal request streams to the real destination.
	var prev []byte
	for i, gen := range gens {
		u, hdr, err := gen(prev, base)
		if err != nil {
			return errors.Wrapf(err, "mirror %s: request generator %d", mirror.Name, i)
		}
		last := i == len(gens)-1
		if last {
			return tr.transfer(ctx, u, hdr, true)
		}
		if err := tr.transfer(ctx, u, hdr, false); err != nil {
			return err
		}
		prev = tr.result.Content
		tr.result.Content = nil
	}
	return nil
}

// transfer performs one HTTP round trip (or local-file copy), streaming
// the body into the destination with optional decompression.
func (tr *tracker) transfer(ctx context.Context, rawURL string, extraHdr http.Header, terminal bool) error {
	tr.result.EffectiveURL = rawURL
	if cmn.IsFileURL(rawURL) {
		return tr.transferLocal(rawURL, terminal)
	}
	if schemeOf(rawURL) == cmn.SchemeFTP {
		return errors.Errorf("ftp transport is not available for %s", rawURL)
	}

	method := http.MethodGet
	if tr.req.CheckOnly {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return errors.Wrapf(err, "build request for %s", rawURL)
	}
	for k, vs := range tr.req.Header {
		req.Header[k] = vs
	}
	for k, vs := range extraHdr {
		req.Header[k] = vs
	}
	if terminal {
		if tr.req.ETag != "" {
			req.Header.Set("If-None-Match", tr.req.ETag)
		}
		if tr.req.LastModified != "" {
			req.Header.Set("If-Modified-Since", tr.req.LastModified)
		}
	}

	resp, err := tr.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request %s", rawURL)
	}
	defer cmn.Close(resp.Body)

	tr.result.StatusCode = resp.StatusCode
	tr.result.ETag = resp.Header.Get("ETag")
	tr.result.LastModified = resp.Header.Get("Last-Modified")
	tr.result.CacheControl = resp.Header.Get("Cache-Control")

	if tr.req.CheckOnly {
		switch {
		case resp.StatusCode < 300:
			tr.result.Exists = true
			return nil
		case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
			tr.result.Exists = false
			return nil
		}
		return httpError(resp, rawURL)
	}
	if resp.StatusCode == http.StatusNotModified {
		tr.result.NotModified = true
		return nil
	}
	if resp.StatusCode >= 300 {
		return httpError(resp, rawURL)
	}
	return tr.consume(resp.Body, resp.ContentLength, rawURL, terminal)
}

func (tr *tracker) transferLocal(rawURL string, terminal bool) error {
	path, err := cmn.FileURLToPath(rawURL)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && tr.req.CheckOnly {
			tr.result.Exists = false
			return nil
		}
		return cmn.Access(err, path)
	}
	defer cmn.Close(f)
	if tr.req.CheckOnly {
		tr.result.Exists = true
		return nil
	}
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return tr.consume(f, fi.Size(), rawURL, terminal)
}

// consume drains the body into the destination: a file for terminal
// streaming requests, memory otherwise. Partial files never survive an
// error return.
func (tr *tracker) consume(body io.Reader, total int64, rawURL string, terminal bool) (err error) {
	comp := resolveCompression(tr.req.Decompress, rawURL)
	reader, closeDecoder, err := wrapDecoder(body, comp)
	if err != nil {
		return err
	}
	defer closeDecoder()

	if tr.req.Progress != nil {
		reader = &progressReader{
			r: reader,
			reporter: func(n int64) {
				tr.req.Progress(ProgressEvent{
					URL:        rawURL,
					Downloaded: n,
					Total:      total,
				})
			},
		}
	}
	if tr.rc.LowSpeedTime > 0 {
		sg := newStallGuard(reader, time.Duration(tr.rc.LowSpeedTime)*time.Second)
		defer sg.stop()
		reader = sg
	}

	if !terminal || tr.req.Filename == "" {
		var buf bytes.Buffer
		n, cerr := io.Copy(&buf, reader)
		if cerr != nil {
			return errors.Wrapf(cerr, "read %s", rawURL)
		}
		tr.result.Content = buf.Bytes()
		tr.result.Size = n
		return nil
	}

	f, err := cmn.CreateFile(tr.req.Filename)
	if err != nil {
		return err
	}
	n, cerr := io.Copy(f, reader)
	if cerr != nil {
		cmn.Close(f)
		_ = cmn.RemoveFile(tr.req.Filename)
		return errors.Wrapf(cerr, "write %s", tr.req.Filename)
	}
	if err = cmn.FlushClose(f); err != nil {
		_ = cmn.RemoveFile(tr.req.Filename)
		return err
	}
	tr.result.Size = n
	return nil
}

// removePartial cleans up after a terminal failure unless the request
// opted out.
func (tr *tracker) removePartial() {
	if tr.req.Filename != "" && !tr.req.IgnoreFailure {
		_ = cmn.RemoveFile(tr.req.Filename)
	}
}

// retryDelay honors Retry-After (clamped) and falls back to exponential
// backoff.
func (tr *tracker) retryDelay(err error) time.Duration {
	var he *httpStatusError
	if errors.As(err, &he) && he.retryAfter > 0 {
		if he.retryAfter > maxRetryAfter {
			return maxRetryAfter
		}
		return he.retryAfter
	}
	delay := time.Duration(float64(tr.rc.RetryTimeoutSecs) * float64(time.Second))
	for i := 1; i < tr.attempts; i++ {
		delay = time.Duration(float64(delay) * tr.rc.RetryBackoff)
	}
	if delay > maxRetryAfter {
		delay = maxRetryAfter
	}
	return delay
}

//////////////////////
// failure taxonomy //
//////////////////////

type httpStatusError struct {
	status     int
	url        string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return "http status " + strconv.Itoa(e.status) + " for " + e.url
}

func httpError(resp *http.Response, url string) error {
	e := &httpStatusError{status: resp.StatusCode, url: url}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			e.retryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(ra); err == nil {
			e.retryAfter = time.Until(t)
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return cmn.NewWrapped(cmn.KindAuthRequired, e, "authentication required for %s", url)
	}
	return e
}

// retryable classifies failures per policy: selected HTTP statuses and
// transport-level errors, excluding certificate, permission, and
// cancellation failures. file:// URLs are never retried on status.
func retryable(err error, status int, scheme string) bool {
	if cmn.IsCancelled(err) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *httpStatusError
	if errors.As(err, &he) {
		if scheme == cmn.SchemeFile {
			return false
		}
		return he.status == http.StatusRequestEntityTooLarge ||
			he.status == http.StatusTooManyRequests ||
			he.status >= 500
	}
	if cmn.IsKind(err, cmn.KindAuthRequired) || cmn.IsKind(err, cmn.KindPermissionDenied) {
		return false
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return false
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true // connection-level: resets, refusals, stalls
	}
	if os.IsPermission(errors.Cause(err)) || os.IsNotExist(errors.Cause(err)) {
		return false
	}
	var stall *errStalled
	return errors.As(err, &stall)
}

// StatusCode extracts the HTTP status from a transfer error, or 0.
func StatusCode(err error) int {
	var he *httpStatusError
	if errors.As(err, &he) {
		return he.status
	}
	return 0
}

func schemeOf(u string) string {
	if parsed, err := url.Parse(u); err == nil {
		return parsed.Scheme
	}
	return ""
}
