// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"sync"

	"github.com/nmichaud/rdebug/wire"
)

// setExceptionInfo installs the process-wide exception-break policy
// table (§4.3): a default mode plus per-name overrides.
func (a *Agent) setExceptionInfo(def wire.ExceptionMode, modes []wire.ExceptionModeEntry) {
	a.excMu.Lock()
	defer a.excMu.Unlock()
	a.excDefault = def
	a.excModes = make(map[string]wire.ExceptionMode, len(modes))
	for _, m := range modes {
		a.excModes[m.Name] = m.Mode
	}
}

func (a *Agent) modeFor(name string) wire.ExceptionMode {
	a.excMu.Lock()
	defer a.excMu.Unlock()
	if m, ok := a.excModes[name]; ok {
		return m
	}
	return a.excDefault
}

// handlerCache caches try/except handler ranges per file, populated
// by the host's sehi reply to a REQH request, and lets tracer
// goroutines block on a pending request via a condition variable
// (§4.3, §5).
type handlerCache struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ranges  map[string][]wire.HandlerRange
	pending map[string]bool
}

func newHandlerCache() *handlerCache {
	hc := &handlerCache{ranges: map[string][]wire.HandlerRange{}, pending: map[string]bool{}}
	hc.cond = sync.NewCond(&hc.mu)
	return hc
}

// lookup returns cached ranges for file, or requests them (at most
// once concurrently) via request and blocks until set is called.
func (hc *handlerCache) lookup(file string, request func(file string)) []wire.HandlerRange {
	hc.mu.Lock()
	if r, ok := hc.ranges[file]; ok {
		hc.mu.Unlock()
		return r
	}
	alreadyPending := hc.pending[file]
	hc.pending[file] = true
	hc.mu.Unlock()

	if !alreadyPending {
		request(file)
	}

	hc.mu.Lock()
	for {
		if r, ok := hc.ranges[file]; ok {
			hc.mu.Unlock()
			return r
		}
		hc.cond.Wait()
	}
}

// set records the host's reply for file and wakes every tracer
// goroutine waiting in lookup.
func (hc *handlerCache) set(file string, ranges []wire.HandlerRange) {
	hc.mu.Lock()
	hc.ranges[file] = ranges
	delete(hc.pending, file)
	hc.mu.Unlock()
	hc.cond.Broadcast()
}

// handlerFor reports whether line falls within a cached range that
// lists exprName (or "*" for a bare except) among its handled types.
func handlerFor(ranges []wire.HandlerRange, line uint32, exprName string) bool {
	for _, r := range ranges {
		if line < r.Start || line >= r.End {
			continue
		}
		for _, e := range r.Exprs {
			if e == exprName || e == "*" {
				return true
			}
		}
	}
	return false
}
