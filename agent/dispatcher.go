// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/interp"
	"github.com/nmichaud/rdebug/wire"
)

// errDetached is returned by dispatch when a clean "detc" shutdown
// completes; Serve turns it into a nil return so the launcher does not
// log it as a connection fault.
var errDetached = errors.New("agent: detached")

// Dispatcher owns the single reader goroutine that reads commands off
// the host connection and turns them into tracer actions or outbound
// events (§4.4). It never blocks except on the socket read.
type Dispatcher struct {
	agent *Agent
}

func NewDispatcher(a *Agent) *Dispatcher { return &Dispatcher{agent: a} }

// Serve reads commands until the connection closes or a detach
// completes. Unknown tags and malformed payloads are fatal for the
// connection (§7).
func (d *Dispatcher) Serve() error {
	r := wire.NewReader(d.agent.conn)
	for {
		tag, err := r.ReadTag()
		if err != nil {
			d.agent.shutdown()
			return err
		}
		if err := d.dispatch(tag, r); err != nil {
			if errors.Is(err, errDetached) {
				return nil
			}
			d.agent.log.Error("dispatcher: command failed", zap.String("tag", tag.String()), zap.Error(err))
			d.agent.shutdown()
			return err
		}
	}
}

func (d *Dispatcher) dispatch(tag wire.Tag, r *wire.Reader) error {
	a := d.agent
	switch tag {
	case wire.CmdStepInto:
		c, err := wire.DecodeStepInto(r)
		if err != nil {
			return err
		}
		d.arm(interp.ThreadID(c.ThreadID), SteppingInto)
	case wire.CmdStepOut:
		c, err := wire.DecodeStepOut(r)
		if err != nil {
			return err
		}
		d.arm(interp.ThreadID(c.ThreadID), SteppingOut)
	case wire.CmdStepOver:
		c, err := wire.DecodeStepOver(r)
		if err != nil {
			return err
		}
		d.arm(interp.ThreadID(c.ThreadID), SteppingOver)
	case wire.CmdBreakAll:
		d.breakAll()
	case wire.CmdResumeAll:
		d.resumeAll()
	case wire.CmdResumeThread:
		c, err := wire.DecodeResumeThread(r)
		if err != nil {
			return err
		}
		if t, ok := a.threadByID(interp.ThreadID(c.ThreadID)); ok {
			t.resume()
		}
	case wire.CmdSetBreakpoint:
		c, err := wire.DecodeSetBreakpoint(r)
		if err != nil {
			return err
		}
		a.bp.set(c.ID, c.Line, c.File, c.Condition, c.BreakOnChange)
		a.tryBindImmediately(c.ID, c.File)
	case wire.CmdUpdateCondition:
		c, err := wire.DecodeUpdateCondition(r)
		if err != nil {
			return err
		}
		a.bp.updateCondition(c.ID, c.Condition, c.BreakOnChange)
	case wire.CmdRemoveBreakpoint:
		c, err := wire.DecodeRemoveBreakpoint(r)
		if err != nil {
			return err
		}
		a.bp.remove(c.ID)
	case wire.CmdEvaluate:
		c, err := wire.DecodeEvaluate(r)
		if err != nil {
			return err
		}
		d.evaluate(interp.ThreadID(c.ThreadID), c.Code, c.FrameID, c.EvalID)
	case wire.CmdEnumerateChildren:
		c, err := wire.DecodeEnumerateChildren(r)
		if err != nil {
			return err
		}
		d.enumerateChildren(interp.ThreadID(c.ThreadID), c.Code, c.FrameID, c.EvalID, c.IsEnumerate)
	case wire.CmdSetLine:
		c, err := wire.DecodeSetLine(r)
		if err != nil {
			return err
		}
		d.setLine(interp.ThreadID(c.ThreadID), c.FrameID, c.Line)
	case wire.CmdDetach:
		return d.detach()
	case wire.CmdClearStepping:
		c, err := wire.DecodeClearStepping(r)
		if err != nil {
			return err
		}
		if t, ok := a.threadByID(interp.ThreadID(c.ThreadID)); ok {
			t.clearStepping()
		}
	case wire.CmdSetExceptionInfo:
		c, err := wire.DecodeSetExceptionInfo(r)
		if err != nil {
			return err
		}
		a.setExceptionInfo(c.DefaultMode, c.Modes)
	case wire.CmdSetHandlerInfo:
		c, err := wire.DecodeSetHandlerInfo(r)
		if err != nil {
			return err
		}
		a.handlers.set(c.File, c.Ranges)
	case wire.CmdAddTemplateBreak:
		c, err := wire.DecodeAddTemplateBreak(r)
		if err != nil {
			return err
		}
		a.bp.addTemplate(c.ID, c.TemplateID, c.Line, c.Condition, c.BreakOnChange)
	case wire.CmdRemoveTemplateBreak:
		c, err := wire.DecodeRemoveTemplateBreak(r)
		if err != nil {
			return err
		}
		a.bp.removeTemplate(c.ID)
	case wire.CmdAttachReplBackend:
		if _, err := wire.DecodeAttachReplBackend(r); err != nil {
			return err
		}
		a.replAttached = true
	case wire.CmdDetachReplBackend:
		if _, err := wire.DecodeDetachReplBackend(r); err != nil {
			return err
		}
		a.replAttached = false
	default:
		return fmt.Errorf("agent: unknown command tag %q", tag.String())
	}
	return nil
}

func (d *Dispatcher) arm(tid interp.ThreadID, mode Stepping) {
	t, ok := d.agent.threadByID(tid)
	if !ok {
		return
	}
	t.setStepping(mode)
	t.resume()
}

func (d *Dispatcher) breakAll() {
	for _, t := range d.agent.liveThreads() {
		t.setStepping(SteppingBreak)
	}
}

func (d *Dispatcher) resumeAll() {
	for _, t := range d.agent.liveThreads() {
		t.resume()
	}
}

func (d *Dispatcher) evaluate(tid interp.ThreadID, code string, frameID, eid uint32) {
	a := d.agent
	t, ok := a.threadByID(tid)
	if !ok {
		a.sendEvalError(eid, "evaluate: unknown thread")
		return
	}
	if !t.scheduleWork(func() { a.doEvaluate(t, code, frameID, eid) }) {
		a.sendEvalError(eid, "evaluate: thread not blocked")
	}
}

func (d *Dispatcher) enumerateChildren(tid interp.ThreadID, code string, frameID, eid uint32, isEnumerate bool) {
	a := d.agent
	t, ok := a.threadByID(tid)
	if !ok {
		a.sendEvalError(eid, "enumerate-children: unknown thread")
		return
	}
	if !t.scheduleWork(func() { a.doEnumerateChildren(t, code, frameID, eid, isEnumerate) }) {
		a.sendEvalError(eid, "enumerate-children: thread not blocked")
	}
}

func (d *Dispatcher) setLine(tid interp.ThreadID, frameID, line uint32) {
	a := d.agent
	t, ok := a.threadByID(tid)
	if !ok {
		return
	}
	if !t.scheduleWork(func() { a.doSetLine(t, frameID, line) }) {
		a.sendFramed(wire.SetLineResultEvt{Success: false, ThreadID: int64(tid)})
	}
}

// detach implements §5's cancellation contract: release every blocked
// thread (marking it for detach so its own trace callback uninstalls
// itself), clear breakpoints, and emit DETC.
func (d *Dispatcher) detach() error {
	a := d.agent
	for _, t := range a.liveThreads() {
		t.mu.Lock()
		t.detachRequested = true
		t.mu.Unlock()
		t.resume()
		a.adapter.UninstallTrace(t.id)
	}
	a.bp = newBreakpointTable()
	if err := a.sendFramed(wire.DetachedEvt{}); err != nil {
		a.log.Error("send DETC failed", zap.Error(err))
	}
	a.shutdown()
	return errDetached
}

func (a *Agent) liveThreads() []*threadRecord {
	a.threadsMu.Lock()
	defer a.threadsMu.Unlock()
	out := make([]*threadRecord, 0, len(a.threads))
	for _, t := range a.threads {
		out = append(out, t)
	}
	return out
}

// tryBindImmediately binds a newly submitted breakpoint against a
// module that was already loaded before the breakpoint arrived,
// emitting BRKS. Breakpoints for modules not yet seen stay pending
// until Agent.noteModule binds them (§4.5, §7).
func (a *Agent) tryBindImmediately(id uint32, file string) {
	a.threadsMu.Lock()
	var found string
	for seen := range a.moduleSeen {
		if filepath.Base(seen) == filepath.Base(file) {
			found = seen
			break
		}
	}
	a.threadsMu.Unlock()
	if found == "" {
		return
	}
	a.bp.mu.Lock()
	bp, ok := a.bp.byID[id]
	bound := ok && !bp.bound
	if bound {
		bp.file = found
		bp.bound = true
	}
	a.bp.mu.Unlock()
	if bound {
		if err := a.sendFramed(wire.BreakpointBoundEvt{ID: id}); err != nil {
			a.log.Error("send BRKS failed", zap.Error(err))
		}
	}
}
