// Package execution provides the operation-scoped worker pool, close
// handlers, and signal-driven interruption shared by the engine.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecutorRunsScheduledWork(t *testing.T) {
	e := NewExecutor(4, zap.NewNop().Sugar())
	var (
		count atomic.Int32
		wg    sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		ok := e.Schedule(func() {
			defer wg.Done()
			count.Inc()
		})
		require.True(t, ok)
	}
	wg.Wait()
	e.Close()
	assert.EqualValues(t, 100, count.Load())
}

func TestExecutorScheduleAfterCloseIsNoop(t *testing.T) {
	e := NewExecutor(1, zap.NewNop().Sugar())
	e.Close()
	ok := e.Schedule(func() { t.Fatal("must not run") })
	assert.False(t, ok)
}

func TestExecutorCloseIsIdempotent(t *testing.T) {
	e := NewExecutor(2, zap.NewNop().Sugar())
	var closes atomic.Int32
	e.OnClose(func() error {
		closes.Inc()
		return nil
	})
	e.Close()
	e.Close()
	assert.EqualValues(t, 1, closes.Load(), "handlers run once")
}

// Close handlers may schedule cleanup work onto the pool; it must run
// before the workers join.
func TestExecutorScheduleFromCloseHandler(t *testing.T) {
	e := NewExecutor(2, zap.NewNop().Sugar())
	var ran atomic.Bool
	e.OnClose(func() error {
		ok := e.Schedule(func() { ran.Store(true) })
		assert.True(t, ok, "scheduling from a close handler is supported")
		return nil
	})
	e.Close()
	assert.True(t, ran.Load())
}

// Handlers registered by a running handler are invoked in the same
// drain.
func TestExecutorNestedCloseHandlers(t *testing.T) {
	e := NewExecutor(1, zap.NewNop().Sugar())
	var order []string
	e.OnClose(func() error {
		order = append(order, "outer")
		e.OnClose(func() error {
			order = append(order, "inner")
			return nil
		})
		return nil
	})
	e.Close()
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestExecutorSwallowsHandlerFailures(t *testing.T) {
	e := NewExecutor(1, zap.NewNop().Sugar())
	e.OnClose(func() error { panic("boom") })
	e.OnClose(func() error { return assert.AnError })
	e.Close() // must not panic or deadlock
}

func TestSignalGuard(t *testing.T) {
	interrupt := atomic.NewBool(false)
	var cleaned atomic.Bool
	sg := NewSignalGuard(interrupt, func() { cleaned.Store(true) }, zap.NewNop().Sugar())

	// Deliver the signal through the channel the guard listens on; the
	// real SIGINT path feeds the very same channel.
	sg.ch <- mockSignal{}
	require.Eventually(t, func() bool { return sg.Interrupted() },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, cleaned.Load())
	sg.Close()
}

type mockSignal struct{}

func (mockSignal) String() string { return "mock" }
func (mockSignal) Signal()        {}
