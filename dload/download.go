// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

// =============================== Summary ====================================
//
// The Downloader fans a batch of Requests out over a bounded pool of
// joggers. Each Request is wrapped in a tracker that owns its state
// machine (Waiting -> Preparing -> Running -> Finished | Failed, with
// Running -> Waiting on retryable failures). A jogger executes exactly
// one attempt per pick-up; a retryable failure parks the tracker on a
// timer and frees the worker slot, so a long Retry-After never starves
// the pool.
//
// The driver loop collects completions, invokes the per-request success
// and failure callbacks, and polls the process-wide interrupt flag
// between ticks. On interrupt: the context is cancelled, in-flight
// transfers abort, joggers join within a bounded time, partial files of
// unfinished transfers are removed, and the driver returns the
// cancellation error. Completed files are kept.
//
// ============================================================================

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	interruptPollEvery = 100 * time.Millisecond
	joinTimeout        = 30 * time.Second
)

// Downloader is the transfer engine. It is cheap enough to construct per
// operation and safe for concurrent Download calls.
type Downloader struct {
	client    *http.Client
	rc        *conf.Remote
	interrupt *atomic.Bool
	log       *zap.SugaredLogger
}

// New builds a Downloader from the remote configuration. interrupt may be
// nil when the caller handles cancellation purely through the context.
func New(rc *conf.Remote, interrupt *atomic.Bool, log *zap.SugaredLogger) (*Downloader, error) {
	client, err := newClient(rc)
	if err != nil {
		return nil, err
	}
	return &Downloader{client: client, rc: rc, interrupt: interrupt, log: log}, nil
}

// DownloadOne is the single-request convenience wrapper.
func (d *Downloader) DownloadOne(ctx context.Context, req *Request) (*Result, error) {
	mr, err := d.Download(ctx, []*Request{req}, nil)
	if err != nil {
		return nil, err
	}
	return mr.Results[0], nil
}

// Download drives the batch to completion. Individual failures land in
// the per-request Results; the returned error is non-nil only for whole-
// batch conditions (cancellation).
func (d *Downloader) Download(ctx context.Context, reqs []*Request, mirrors *MirrorSet) (*MultiResult, error) {
	out := &MultiResult{Results: make([]*Result, len(reqs))}
	if len(reqs) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		trackers    = make([]*tracker, len(reqs))
		jobs        = make(chan *tracker, len(reqs))
		completions = make(chan *tracker, len(reqs))
		wg          sync.WaitGroup
	)
	for i, req := range reqs {
		trackers[i] = newTracker(req, i, mirrors, d.client, d.rc, d.log)
	}
	workers := min(d.rc.DownloadThreads, len(reqs))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.jogger(ctx, jobs, completions, &wg)
	}
	for _, tr := range trackers {
		jobs <- tr
	}

	var (
		done      int
		cancelled bool
		tick      = time.NewTicker(interruptPollEvery)
	)
loop:
	for done < len(trackers) {
		select {
		case tr := <-completions:
			done++
			out.Results[tr.idx] = tr.result
			d.dispatchCallbacks(tr.result)
		case <-tick.C:
			if d.interrupt != nil && d.interrupt.Load() {
				cancelled = true
				break loop
			}
		case <-ctx.Done():
			cancelled = true
			break loop
		}
	}
	tick.Stop()
	cancel()

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(joinTimeout):
		d.log.Warnf("download workers did not drain within %v", joinTimeout)
		return out, cmn.ErrCancelled
	}

	if cancelled {
		for i, tr := range trackers {
			if out.Results[i] != nil {
				continue
			}
			tr.removePartial()
			out.Results[i] = &Result{
				Request:  tr.req,
				Attempts: tr.attempts,
				Err:      cmn.ErrCancelled,
			}
		}
		return out, cmn.ErrCancelled
	}
	return out, nil
}

// jogger executes attempts until the context is cancelled. A retryable
// outcome re-queues the tracker on a timer rather than blocking the slot.
func (d *Downloader) jogger(ctx context.Context, jobs, completions chan *tracker, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-jobs:
			outcome := tr.run(ctx)
			if outcome.done {
				completions <- tr // buffered to batch size, never blocks
				continue
			}
			time.AfterFunc(outcome.retryAfter, func() {
				if ctx.Err() == nil {
					jobs <- tr
				}
			})
		}
	}
}

// dispatchCallbacks runs on the driver goroutine, so callbacks never race
// with each other.
func (d *Downloader) dispatchCallbacks(res *Result) {
	if res.Err == nil && res.Request.OnSuccess != nil {
		if err := res.Request.OnSuccess(res); err != nil {
			res.Err = err
		}
	}
	if res.Err != nil && res.Request.OnFailure != nil {
		res.Request.OnFailure(res.Err)
	}
}
