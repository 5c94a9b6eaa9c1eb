// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package agent implements the debuggee side of the remote debugging
// protocol: the per-thread tracer state machine (stepping, breakpoint
// matching, exception-break policy, expression evaluation) and the
// single-reader dispatcher that drives it from commands arriving over
// the wire. It is the in-process counterpart to package host.
//
// The original global mutable state (module-level thread/breakpoint/
// exception-policy maps) is folded into one Agent record per address
// space, passed by reference to every tracer callback; see DESIGN.md.
package agent

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/interp"
	"github.com/nmichaud/rdebug/wire"
)

// Options configures an Agent at construction. They mirror the launch
// flags of §6: Attach puts every thread into attach-break instead of
// launch-break on the first; WaitOnException blocks a thread after it
// reports an exception; WaitOnExit keeps the dispatcher serving after
// the main thread ends. redirect-output is not an Agent option: the
// scriptrun command routes the interpreter's print output through
// SendOutput after Connect.
type Options struct {
	CorrelationID          string
	Attach                 bool
	WaitOnException        bool
	WaitOnExit             bool
	DebugStdlib            bool
	SuppressSystemExitZero bool
}

// Agent is the single per-process debuggee record. It owns the thread
// table, the breakpoint tables, the exception policy, and the
// connection to the host. Every tracer callback and the dispatcher
// reader loop hold a reference to the same Agent.
type Agent struct {
	opts    Options
	adapter interp.Adapter
	log     *zap.Logger

	conn net.Conn

	// sendMu serializes every write to conn so that a frame's tag and
	// payload are written contiguously even when multiple tracer
	// threads emit events concurrently (§4.4).
	sendMu sync.Mutex

	threadsMu sync.Mutex
	threads   map[interp.ThreadID]*threadRecord
	firstSeen bool // set once the first (non-worker) thread is recorded

	moduleID       uint32
	moduleSeen     map[string]uint32
	launchModuleReady bool // true once the user's own module has loaded

	bp *breakpointTable

	excMu       sync.Mutex
	excDefault  wire.ExceptionMode
	excModes    map[string]wire.ExceptionMode
	handlers    *handlerCache

	attachMu     sync.Mutex
	attachFired  bool

	replAttached bool

	detached     bool
	shutdownOnce sync.Once
}

// New builds an Agent driving adapter, ready to Connect to a host.
func New(adapter interp.Adapter, opts Options, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Agent{
		opts:       opts,
		adapter:    adapter,
		log:        log,
		threads:    map[interp.ThreadID]*threadRecord{},
		moduleSeen: map[string]uint32{},
		bp:         newBreakpointTable(),
		excDefault: wire.ExceptionUnhandled,
		excModes:   map[string]wire.ExceptionMode{},
		handlers:   newHandlerCache(),
	}
	adapter.InterceptThreadStart(a.onThreadStart)
	adapter.InterceptThreadExit(a.threadExited)
	return a
}

// Connect dials host at addr, sends the CONN handshake, and returns.
// It installs no tracer itself: each thread gets its tracer when the
// adapter reports the thread's start (see New). The caller then starts
// the program under the adapter and runs Dispatcher.Serve on the same
// connection.
func (a *Agent) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("agent: dial %s: %w", addr, err)
	}
	a.conn = conn
	return a.sendFramed(wire.ConnectedEvt{CorrelationID: a.opts.CorrelationID, OK: true})
}

// SendOutput reports text printed by threadID as an OUTP event, for
// the --redirect-output launch flag (§6, §4.8).
func (a *Agent) SendOutput(threadID int64, text string) error {
	return a.sendFramed(wire.OutputEvt{ThreadID: threadID, Text: text})
}

func (a *Agent) sendFramed(e interface{ Encode() *wire.Writer }) error {
	w := e.Encode()
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return w.WriteFramedTo(a.conn)
}

// onThreadStart is registered with the adapter via InterceptThreadStart
// and fires synchronously whenever a new (real or virtual) thread
// begins, before any user code on it runs.
func (a *Agent) onThreadStart(tid interp.ThreadID) {
	a.threadsMu.Lock()
	isWorker := a.firstSeen
	a.firstSeen = true
	t := newThreadRecord(tid, isWorker)
	a.threads[tid] = t
	a.threadsMu.Unlock()

	if err := a.adapter.InstallTrace(tid, a.makeTraceFunc(t)); err != nil {
		a.log.Error("install trace failed", zap.Int64("thread_id", int64(tid)), zap.Error(err))
		return
	}
	if a.opts.Attach {
		t.setStepping(SteppingAttachBreak)
	} else if !isWorker {
		t.setStepping(SteppingLaunchBreak)
	}
	a.log.Debug("thread created", zap.Int64("thread_id", int64(tid)), zap.Bool("worker", isWorker))
	if err := a.sendFramed(wire.ThreadCreatedEvt{ThreadID: int64(tid)}); err != nil {
		a.log.Error("send NEWT failed", zap.Error(err))
	}
}

func (a *Agent) threadByID(tid interp.ThreadID) (*threadRecord, bool) {
	a.threadsMu.Lock()
	defer a.threadsMu.Unlock()
	t, ok := a.threads[tid]
	return t, ok
}

func (a *Agent) removeThread(tid interp.ThreadID) (wasMain bool) {
	a.threadsMu.Lock()
	defer a.threadsMu.Unlock()
	t, ok := a.threads[tid]
	if ok {
		wasMain = !t.isWorker
	}
	delete(a.threads, tid)
	return wasMain
}

func (a *Agent) threadExited(tid interp.ThreadID) {
	wasMain := a.removeThread(tid)
	a.log.Debug("thread exited", zap.Int64("thread_id", int64(tid)))
	if err := a.sendFramed(wire.ThreadExitedEvt{ThreadID: int64(tid)}); err != nil {
		a.log.Error("send EXTT failed", zap.Error(err))
		return
	}
	if wasMain {
		// wait-on-exit (§6): keep the dispatcher alive after the main
		// thread's script ends, so the host can still inspect state
		// until it sends detc or drops the connection.
		if a.opts.WaitOnExit {
			return
		}
		a.shutdown()
	}
}

func (a *Agent) shutdown() {
	a.shutdownOnce.Do(func() {
		a.threadsMu.Lock()
		a.detached = true
		a.threadsMu.Unlock()
		for _, id := range a.bp.unboundIDs() {
			if err := a.sendFramed(wire.BreakpointFailedEvt{ID: id}); err != nil {
				a.log.Error("send BRKF failed", zap.Error(err))
			}
		}
		if a.conn != nil {
			a.conn.Close()
		}
	})
}

// noteModule records file as a loaded module (first-sight only) and
// emits MODL. Returns the assigned module id.
func (a *Agent) noteModule(file string) uint32 {
	a.threadsMu.Lock()
	id, seen := a.moduleSeen[file]
	if !seen {
		a.moduleID++
		id = a.moduleID
		a.moduleSeen[file] = id
	}
	a.launchModuleReady = true
	a.threadsMu.Unlock()
	if seen {
		return id
	}
	if err := a.sendFramed(wire.ModuleLoadedEvt{ModuleID: id, File: file}); err != nil {
		a.log.Error("send MODL failed", zap.Error(err))
	}
	a.bp.bindPending(file, func(id uint32) {
		if err := a.sendFramed(wire.BreakpointBoundEvt{ID: id}); err != nil {
			a.log.Error("send BRKS failed", zap.Error(err))
		}
	})
	return id
}

func (a *Agent) isLaunchModuleReady() bool {
	a.threadsMu.Lock()
	defer a.threadsMu.Unlock()
	return a.launchModuleReady
}
