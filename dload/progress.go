// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

import (
	"io"
	"time"

	"go.uber.org/atomic"
)

type (
	// progressReader notifies the reporter with the cumulative byte count
	// on every read.
	progressReader struct {
		r        io.Reader
		reporter func(n int64)
		read     int64
	}

	errStalled struct {
		after time.Duration
	}

	// stallGuard aborts a transfer whose byte stream pauses for longer
	// than the configured low-speed window. The timer fires on a separate
	// goroutine; it only flips the flag, the next Read surfaces the error.
	stallGuard struct {
		r       io.Reader
		timer   *time.Timer
		window  time.Duration
		stalled atomic.Bool
	}
)

var _ io.Reader = &progressReader{}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.r.Read(p)
	pr.read += int64(n)
	pr.reporter(pr.read)
	return
}

func (e *errStalled) Error() string {
	return "transfer stalled for more than " + e.after.String()
}

func newStallGuard(r io.Reader, window time.Duration) *stallGuard {
	sg := &stallGuard{r: r, window: window}
	sg.timer = time.AfterFunc(window, func() { sg.stalled.Store(true) })
	return sg
}

func (sg *stallGuard) Read(p []byte) (int, error) {
	if sg.stalled.Load() {
		return 0, &errStalled{after: sg.window}
	}
	n, err := sg.r.Read(p)
	if n > 0 {
		sg.timer.Reset(sg.window)
	}
	return n, err
}

func (sg *stallGuard) stop() { sg.timer.Stop() }
