// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"strings"

	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/interp"
	"github.com/nmichaud/rdebug/wire"
)

// agentInternalFile marks frames belonging to the agent's own
// machinery, which are never consulted for exception handler ranges
// (§4.3: "for each frame whose file is not the agent itself").
const agentInternalFile = "<agent>"

// stdlibPrefix is the convention a reference adapter uses to mark
// frames below the interpreter prefix; skipped entirely when
// DebugStdlib is false, per §4.3.
const stdlibPrefix = "<stdlib>"

// stackProbeDepth is the fixed number of frames the stack probe
// recurses through before a user break, guaranteeing headroom for the
// reason closure and frame capture that follow (§4.3).
const stackProbeDepth = 64

func probeStack() (ok bool) {
	ok = true
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	probeStackRec(stackProbeDepth)
	return
}

func probeStackRec(n int) {
	if n <= 0 {
		return
	}
	var pad [64]byte
	_ = pad
	probeStackRec(n - 1)
}

func isStdlibFile(file string) bool { return strings.HasPrefix(file, stdlibPrefix) }

// makeTraceFunc returns the interp.TraceFunc installed on t. It is the
// heart of the system: the per-thread interpreter callback implementing
// stepping, breakpoint matching, and exception-break policy (§4.3).
func (a *Agent) makeTraceFunc(t *threadRecord) interp.TraceFunc {
	return func(ev interp.Event, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
		defer func() {
			// A fault inside the tracer itself (including a synthetic
			// stack-overflow signal) disables tracing on this thread
			// rather than propagating into user code (§7).
			if r := recover(); r != nil {
				a.log.Error("tracer panic; disabling tracing on thread",
					zap.Int64("thread_id", int64(t.id)), zap.Any("panic", r))
			}
		}()

		if t.detachRequested || a.isDetached() {
			return interp.ActionDetachTracing
		}
		if !a.opts.DebugStdlib && isStdlibFile(f.File()) {
			return interp.ActionContinueTracing
		}
		a.noteModule(f.File())

		t.mu.Lock()
		t.curFrame = f
		t.mu.Unlock()

		switch ev {
		case interp.EventCall:
			return a.onCall(t, f)
		case interp.EventLine:
			return a.onLine(t, f)
		case interp.EventReturn:
			return a.onReturn(t, f)
		case interp.EventException:
			return a.onException(t, f, exc)
		default:
			return interp.ActionContinueTracing
		}
	}
}

func (a *Agent) isDetached() bool {
	a.threadsMu.Lock()
	defer a.threadsMu.Unlock()
	return a.detached
}

func (a *Agent) onCall(t *threadRecord, f interp.Frame) interp.Action {
	t.mu.Lock()
	switch t.stepping {
	case SteppingOver, SteppingOut:
		t.stepDepth++
	}
	t.mu.Unlock()
	return interp.ActionContinueTracing
}

func (a *Agent) onReturn(t *threadRecord, f interp.Frame) interp.Action {
	t.mu.Lock()
	switch t.stepping {
	case SteppingOver:
		if t.stepDepth > 0 {
			t.stepDepth--
		}
	case SteppingOut:
		if t.stepDepth > 0 {
			t.stepDepth--
		} else {
			t.outArmed = true
		}
	}
	t.mu.Unlock()
	return interp.ActionContinueTracing
}

func (a *Agent) onLine(t *threadRecord, f interp.Frame) interp.Action {
	if bp := a.matchBreakpoint(f); bp != nil {
		if !probeStack() {
			return interp.ActionContinueTracing
		}
		a.blockForBreakpoint(t, f, bp)
		return a.postBlockAction(t)
	}

	t.mu.Lock()
	stepping := t.stepping
	depth := t.stepDepth
	armed := t.outArmed
	t.mu.Unlock()

	switch stepping {
	case SteppingInto:
		if !probeStack() {
			return interp.ActionContinueTracing
		}
		a.blockForStep(t, f)
		return a.postBlockAction(t)
	case SteppingOver:
		if depth == 0 {
			if !probeStack() {
				return interp.ActionContinueTracing
			}
			a.blockForStep(t, f)
			return a.postBlockAction(t)
		}
	case SteppingOut:
		if armed {
			t.mu.Lock()
			t.outArmed = false
			t.mu.Unlock()
			if !probeStack() {
				return interp.ActionContinueTracing
			}
			a.blockForStep(t, f)
			return a.postBlockAction(t)
		}
	case SteppingBreak:
		if !probeStack() {
			return interp.ActionContinueTracing
		}
		a.blockForAsyncBreak(t, f)
		return a.postBlockAction(t)
	case SteppingLaunchBreak:
		if a.isLaunchModuleReady() && !isStdlibFile(f.File()) {
			if !probeStack() {
				return interp.ActionContinueTracing
			}
			a.blockForLoad(t, f)
			return a.postBlockAction(t)
		}
	case SteppingAttachBreak:
		if !probeStack() {
			return interp.ActionContinueTracing
		}
		a.blockForAttach(t, f)
		return a.postBlockAction(t)
	}
	return interp.ActionContinueTracing
}

func (a *Agent) postBlockAction(t *threadRecord) interp.Action {
	if t.detachRequested || a.isDetached() {
		return interp.ActionDetachTracing
	}
	return interp.ActionContinueTracing
}

// doBlock implements the blocking protocol of §4.3: capture and send
// the frame list, record the stopped line, then block with reason
// emitting the specific event.
func (a *Agent) doBlock(t *threadRecord, f interp.Frame, reason func()) {
	t.mu.Lock()
	t.stoppedOnLine = f.Line()
	t.mu.Unlock()

	frames := a.captureFrames(f)
	if err := a.sendFramed(wire.ThreadFramesEvt{ThreadID: int64(t.id), Name: t.name, Frames: frames}); err != nil {
		a.log.Error("send THRF failed", zap.Error(err))
	}
	t.block(reason)
}

func (a *Agent) blockForStep(t *threadRecord, f interp.Frame) {
	t.clearStepping()
	a.doBlock(t, f, func() {
		if err := a.sendFramed(wire.StepDoneEvt{ThreadID: int64(t.id)}); err != nil {
			a.log.Error("send STPD failed", zap.Error(err))
		}
	})
}

func (a *Agent) blockForBreakpoint(t *threadRecord, f interp.Frame, bp *debuggeeBreakpoint) {
	a.doBlock(t, f, func() {
		if err := a.sendFramed(wire.BreakpointHitEvt{ID: bp.id, ThreadID: int64(t.id)}); err != nil {
			a.log.Error("send BRKH failed", zap.Error(err))
		}
	})
}

func (a *Agent) blockForAsyncBreak(t *threadRecord, f interp.Frame) {
	t.clearStepping()
	a.doBlock(t, f, func() {
		if err := a.sendFramed(wire.AsyncBreakCompleteEvt{ThreadID: int64(t.id)}); err != nil {
			a.log.Error("send ASBR failed", zap.Error(err))
		}
	})
}

func (a *Agent) blockForLoad(t *threadRecord, f interp.Frame) {
	t.clearStepping()
	a.doBlock(t, f, func() {
		if err := a.sendFramed(wire.ProcessLoadedEvt{ThreadID: int64(t.id)}); err != nil {
			a.log.Error("send LOAD failed", zap.Error(err))
		}
	})
}

// blockForAttach implements the attach-break one-shot-reporter rule:
// only the first thread to observe the break actually emits ASBR;
// the rest block silently (§4.3).
func (a *Agent) blockForAttach(t *threadRecord, f interp.Frame) {
	t.clearStepping()
	a.attachMu.Lock()
	first := !a.attachFired
	a.attachFired = true
	a.attachMu.Unlock()

	a.doBlock(t, f, func() {
		if !first {
			return
		}
		if err := a.sendFramed(wire.AsyncBreakCompleteEvt{ThreadID: int64(t.id)}); err != nil {
			a.log.Error("send ASBR failed", zap.Error(err))
		}
	})
}

// matchBreakpoint evaluates every breakpoint table entry at f's line
// against f's source, in table order, returning the first one that
// should break (§4.3). A condition-evaluation failure is itself
// treated as "break" (§7, bias toward stopping).
func (a *Agent) matchBreakpoint(f interp.Frame) *debuggeeBreakpoint {
	for _, bp := range a.bp.matchLine(uint32(f.Line()), f.File()) {
		if bp.condition == "" {
			return bp
		}
		val, err := a.adapter.EvaluateInFrame(f, bp.condition)
		if err != nil {
			return bp
		}
		if bp.breakOnChange {
			if a.bp.recordValue(bp.id, val.Repr) {
				return bp
			}
			continue
		}
		if truthyValue(val) {
			return bp
		}
	}
	return nil
}

func truthyValue(v interp.Value) bool {
	switch v.Repr {
	case "", "0", "None", "false", "nil":
		return false
	default:
		return true
	}
}

// onException implements §4.3's exception-break policy: classify
// handled vs unhandled by walking the frame chain against cached
// handler ranges (requesting them from the host via REQH when not yet
// known), apply the process-wide mode table, and skip SystemExit(0)
// when Options.SuppressSystemExitZero is set.
func (a *Agent) onException(t *threadRecord, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
	if exc == nil {
		return interp.ActionContinueTracing
	}
	if exc.TypeName == "SystemExit" && exc.Message == "0" && a.opts.SuppressSystemExitZero {
		return interp.ActionContinueTracing
	}
	if exc.TracebackHasNext {
		return interp.ActionContinueTracing
	}

	mode := a.modeFor(exc.TypeName)
	if mode == wire.ExceptionNever {
		return interp.ActionContinueTracing
	}

	breakType := wire.BreakTypeUnhandled
	for cur := f; ; {
		if cur.File() != agentInternalFile {
			ranges := a.handlers.lookup(cur.File(), func(file string) {
				if err := a.sendFramed(wire.RequestHandlersEvt{File: file}); err != nil {
					a.log.Error("send REQH failed", zap.Error(err))
				}
			})
			if handlerFor(ranges, uint32(cur.Line()), exc.TypeName) {
				breakType = wire.BreakTypeHandled
				break
			}
		}
		next, ok := cur.Caller()
		if !ok {
			break
		}
		cur = next
	}

	if mode == wire.ExceptionUnhandled && breakType == wire.BreakTypeHandled {
		return interp.ActionContinueTracing
	}

	report := func() {
		if err := a.sendFramed(wire.ExceptionEvt{Name: exc.TypeName, ThreadID: int64(t.id), BreakType: breakType, Text: exc.Message}); err != nil {
			a.log.Error("send EXCP failed", zap.Error(err))
		}
	}
	if !a.opts.WaitOnException {
		report()
		return interp.ActionContinueTracing
	}
	if !probeStack() {
		report()
		return interp.ActionContinueTracing
	}
	a.doBlock(t, f, report)
	return a.postBlockAction(t)
}

// captureFrames walks f's caller chain into the wire representation
// used by THRF. Variable values are not hydrated here: the wire sends
// names only, matching the original protocol (values are fetched
// lazily by an Evaluate command); see wire.WireFrame.
func (a *Agent) captureFrames(f interp.Frame) []wire.WireFrame {
	var out []wire.WireFrame
	for cur := f; cur != nil; {
		names := make([]string, 0, len(cur.Variables()))
		for _, v := range cur.Variables() {
			names = append(names, v.Name)
		}
		out = append(out, wire.WireFrame{
			FirstLine: uint32(cur.FirstLine()),
			Line:      uint32(cur.LastLine()),
			CurLine:   uint32(cur.Line()),
			Name:      cur.FuncName(),
			File:      cur.File(),
			ArgCount:  uint32(cur.ArgCount()),
			FrameKind: wire.FrameKindNormal,
			Variables: names,
		})
		next, ok := cur.Caller()
		if !ok {
			break
		}
		cur = next
	}
	return out
}
