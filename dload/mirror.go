// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

import (
	"net/http"
	"sync"

	"github.com/marmot-pm/marmot/cmn"
)

type (
	// RequestGenerator produces one request of a mirror's request
	// sequence. prev holds the body of the previous request in the chain
	// (nil for the first); the generator returns the absolute URL and any
	// extra headers. Registries that need a token call before the blob
	// call express that as a two-element generator chain.
	RequestGenerator func(prev []byte, urlPath string) (url string, hdr http.Header, err error)

	// Mirror is one base endpoint plus its transfer statistics. Stats are
	// guarded by the owning MirrorSet.
	Mirror struct {
		Name       string
		BaseURL    string
		Generators []RequestGenerator // empty means one direct GET
		MaxConns   int                // 0 means unlimited

		successes int
		failures  int
		inflight  int
	}

	// MirrorSet is the shared, synchronized view of a request's candidate
	// mirrors.
	MirrorSet struct {
		mu      sync.Mutex
		mirrors []*Mirror

		maxRetries     int
		maxMirrorTries int
	}
)

// DirectMirror wraps a bare base URL (the common case: conda channels
// have exactly one endpoint per subdir).
func DirectMirror(name, baseURL string) *Mirror {
	return &Mirror{Name: name, BaseURL: baseURL}
}

func NewMirrorSet(maxRetries, maxMirrorTries int, mirrors ...*Mirror) *MirrorSet {
	cmn.Assert(len(mirrors) > 0)
	return &MirrorSet{
		mirrors:        mirrors,
		maxRetries:     maxRetries,
		maxMirrorTries: maxMirrorTries,
	}
}

// bad means the mirror never succeeded and already burned through the
// retry budget.
func (m *Mirror) bad(maxRetries int) bool {
	return m.successes == 0 && m.failures >= maxRetries
}

// next picks the mirror for attempt pass k, preferring mirrors not tried
// by this request yet. Re-selection on pass k is allowed for mirrors with
// at most k recorded failures, up to maxMirrorTries passes. A nil return
// means the request has no mirror left to try.
func (ms *MirrorSet) next(tried map[*Mirror]int, pass int) *Mirror {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	// Unused mirrors first.
	for _, m := range ms.mirrors {
		if _, used := tried[m]; used {
			continue
		}
		if m.bad(ms.maxRetries) || !m.hasCapacity() {
			continue
		}
		m.inflight++
		return m
	}
	if pass >= ms.maxMirrorTries {
		return nil
	}
	for _, m := range ms.mirrors {
		if m.failures <= pass && !m.bad(ms.maxRetries) && m.hasCapacity() {
			m.inflight++
			return m
		}
	}
	return nil
}

func (m *Mirror) hasCapacity() bool {
	return m.MaxConns == 0 || m.inflight < m.MaxConns
}

func (ms *MirrorSet) release(m *Mirror, ok bool) {
	ms.mu.Lock()
	m.inflight--
	if ok {
		m.successes++
	} else {
		m.failures++
	}
	ms.mu.Unlock()
}

// Stats reports (successes, failures) for tests and diagnostics.
func (ms *MirrorSet) Stats(name string) (successes, failures int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, m := range ms.mirrors {
		if m.Name == name {
			return m.successes, m.failures
		}
	}
	return 0, 0
}
