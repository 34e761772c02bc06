// Package execution provides the operation-scoped worker pool, close
// handlers, and signal-driven interruption shared by the engine.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package execution

import (
	"sync"

	"go.uber.org/zap"
)

// Executor owns a bounded worker pool plus a set of at-close callbacks.
// It replaces what the engine would otherwise keep as process-global
// state: the top-level operation constructs one and passes it down.
type Executor struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu       sync.RWMutex // guards closed transitions against Schedule sends
	closed   bool
	handlers []func() error
	once     sync.Once

	log *zap.SugaredLogger
}

const taskQueueDepth = 1024

func NewExecutor(workers int, log *zap.SugaredLogger) *Executor {
	e := &Executor{
		tasks: make(chan func(), taskQueueDepth),
		log:   log,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for task := range e.tasks {
		e.runTask(task)
	}
}

func (e *Executor) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("scheduled task panicked: %v", r)
		}
	}()
	task()
}

// Schedule enqueues work; after Close it is a logged no-op and reports
// false.
func (e *Executor) Schedule(task func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.log.Debugf("schedule after close ignored")
		return false
	}
	e.tasks <- task
	return true
}

// OnClose registers a callback invoked by Close before the pool joins.
// Handlers registered from within a running handler are picked up too.
func (e *Executor) OnClose(fn func() error) {
	e.mu.Lock()
	e.handlers = append(e.handlers, fn)
	e.mu.Unlock()
}

// Close is idempotent: it runs the close handlers (failures are logged
// and swallowed; handlers may still Schedule work), then drains the
// queue, then joins every worker. Handlers run before the drained flag
// flips precisely so that cleanup work can ride the pool; this preserves
// the schedule-from-close-handler contract without a recursive lock.
func (e *Executor) Close() {
	e.once.Do(func() {
		// Run handlers, including any registered while draining.
		for i := 0; ; i++ {
			e.mu.Lock()
			if i >= len(e.handlers) {
				e.mu.Unlock()
				break
			}
			h := e.handlers[i]
			e.mu.Unlock()
			e.runHandler(h)
		}

		e.mu.Lock()
		e.closed = true
		close(e.tasks)
		e.mu.Unlock()
	})
	e.wg.Wait()
}

func (e *Executor) runHandler(h func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("close handler panicked: %v", r)
		}
	}()
	if err := h(); err != nil {
		e.log.Errorf("close handler failed: %v", err)
	}
}
