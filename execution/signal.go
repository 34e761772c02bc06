// Package execution provides the operation-scoped worker pool, close
// handlers, and signal-driven interruption shared by the engine.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package execution

import (
	"os"
	"os/signal"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SignalGuard installs a SIGINT handler at construction and removes it at
// Close. A trip flips the shared interrupt flag that downloaders and
// executors poll between ticks, and runs the optional cleanup once.
type SignalGuard struct {
	interrupt *atomic.Bool
	cleanup   func()
	ch        chan os.Signal
	done      chan struct{}
	log       *zap.SugaredLogger
}

func NewSignalGuard(interrupt *atomic.Bool, cleanup func(), log *zap.SugaredLogger) *SignalGuard {
	sg := &SignalGuard{
		interrupt: interrupt,
		cleanup:   cleanup,
		ch:        make(chan os.Signal, 1),
		done:      make(chan struct{}),
		log:       log,
	}
	signal.Notify(sg.ch, os.Interrupt)
	go sg.watch()
	return sg
}

func (sg *SignalGuard) watch() {
	defer close(sg.done)
	for range sg.ch {
		if sg.interrupt.Swap(true) {
			continue // second ^C: already unwinding
		}
		sg.log.Warnf("interrupt received, cancelling")
		if sg.cleanup != nil {
			sg.cleanup()
		}
	}
}

// Close uninstalls the handler and joins the watcher.
func (sg *SignalGuard) Close() {
	signal.Stop(sg.ch)
	close(sg.ch)
	<-sg.done
}

// Interrupted reports the flag state.
func (sg *SignalGuard) Interrupted() bool { return sg.interrupt.Load() }
