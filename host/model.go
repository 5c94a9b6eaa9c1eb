// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host implements the debugger side of the remote debugging
// protocol: the connection manager that correlates incoming debuggee
// connections to launched processes (§4.5), the per-connection
// protocol endpoint (§4.6), and the typed object model — Process,
// Thread, StackFrame, EvaluationResult, Breakpoint — a UI observes and
// commands (§4.7).
package host

import (
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nmichaud/rdebug/wire"
)

// Module is emitted once on first entry of a source file (§3).
type Module struct {
	ID   uint32
	File string
}

// Breakpoint is the host's half of a breakpoint: id, location, and
// optional condition. Add/Remove drive the corresponding wire command
// against the owning Process's connected debuggee.
type Breakpoint struct {
	ID            uint32
	File          string
	Line          int
	Condition     string
	BreakOnChange bool
	Bound         bool

	// Template, when non-empty, makes this the supplemented
	// template-keyed breakpoint variant (bkda/bkdr) instead of a
	// file+line breakpoint (SPEC_FULL.md).
	Template string

	proc *Process
}

// Add sends brkp (or bkda for a template breakpoint) to the debuggee.
func (b *Breakpoint) Add() error {
	proto := b.proc.protocol()
	if proto == nil {
		return errors.New("host: process has no connected debuggee")
	}
	if b.Template != "" {
		return proto.AddTemplateBreak(b.ID, b.Template, uint32(b.Line), b.Condition, b.BreakOnChange)
	}
	return proto.SetBreakpoint(b.ID, uint32(b.Line), b.File, b.Condition, b.BreakOnChange)
}

// Remove removes the breakpoint locally and sends brkr/bkdr. A second
// Remove is a no-op (§8 idempotence property).
func (b *Breakpoint) Remove() error {
	b.proc.mu.Lock()
	_, existed := b.proc.breakpoints[b.ID]
	delete(b.proc.breakpoints, b.ID)
	b.proc.mu.Unlock()
	if !existed {
		return nil
	}
	proto := b.proc.protocol()
	if proto == nil {
		return nil
	}
	if b.Template != "" {
		return proto.RemoveTemplateBreak(b.ID)
	}
	return proto.RemoveBreakpoint(uint32(b.Line), b.ID)
}

// EvaluationResult is an immutable snapshot of a printable value.
// Children are fetched lazily via EnumerateChildren, which re-issues
// the chld command against the frame and expression that produced this
// result, rather than being carried on the struct itself. Results built
// from a chld reply carry no expression of their own.
type EvaluationResult struct {
	Name       string
	Repr       string
	HexRepr    *string
	TypeName   string
	Expandable bool

	proc      *Process
	threadID  int64
	frameID   uint32
	frameKind wire.FrameKind
	expr      string
}

// ChildrenCallback receives an enumerate-children reply.
type ChildrenCallback func(attrs, indices []*EvaluationResult, indicesAreIndex, indicesAreEnum bool, err error)

// EnumerateChildren issues chld for this result's originating
// expression and delivers the reply to cb asynchronously, once the
// corresponding CHLD/EXCE frame arrives (§4.7).
func (r *EvaluationResult) EnumerateChildren(isEnumerate bool, cb ChildrenCallback) error {
	if r.proc == nil || r.expr == "" {
		return errors.New("host: result has no evaluable expression")
	}
	return r.proc.enumerateChildren(r.expr, r.threadID, r.frameID, r.frameKind, isEnumerate, cb)
}

// StackFrame is an immutable snapshot of one stack activation.
// Frames reference their owning thread by id rather than by
// back-pointer, avoiding the cyclic process/thread/frame ownership the
// original had (§9).
type StackFrame struct {
	ThreadID  int64
	FrameID   uint32
	FirstLine int
	LastLine  int
	CurLine   int
	FuncName  string
	File      string
	ArgCount  int
	Variables []*EvaluationResult
}

// Thread is identified by the debuggee's native (or virtual) thread
// id. Exactly one of Blocked/running holds at a time (§3 invariant).
type Thread struct {
	ID       int64
	Name     string
	IsWorker bool

	mu          sync.Mutex
	blocked     bool
	stoppedLine int
	frames      []*StackFrame
}

func (t *Thread) Blocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocked
}

func (t *Thread) StoppedLine() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stoppedLine
}

func (t *Thread) Frames() []*StackFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*StackFrame, len(t.frames))
	copy(out, t.frames)
	return out
}

// Process is one debuggee launch: its correlation id, OS child handle,
// live threads and breakpoints, and the protocol endpoint once
// connected (§3).
type Process struct {
	ID  uuid.UUID
	Cmd *exec.Cmd

	mu               sync.Mutex
	threads          map[int64]*Thread
	breakpoints      map[uint32]*Breakpoint
	nextBreakpointID uint32
	readyToDebug     bool
	proto            *Protocol

	nextEvalID   uint32
	pendingEvals map[uint32]func(*EvaluationResult, error)
	pendingKids  map[uint32]ChildrenCallback

	observersMu sync.Mutex
	observers   []Observer
}

// NewProcess allocates a Process record for a launch before its
// debuggee has connected; the Manager correlates the inbound CONN
// frame to it by ID (§4.5).
func NewProcess(id uuid.UUID) *Process {
	return &Process{
		ID:           id,
		threads:      map[int64]*Thread{},
		breakpoints:  map[uint32]*Breakpoint{},
		pendingEvals: map[uint32]func(*EvaluationResult, error){},
		pendingKids:  map[uint32]ChildrenCallback{},
	}
}

// Observer lets a UI watch a Process's protocol-driven state
// transitions (§4.7). Embed NopObserver to implement only the events
// you care about.
type Observer interface {
	ProcessLoaded(p *Process)
	ThreadCreated(p *Process, t *Thread)
	ThreadExited(p *Process, threadID int64)
	ModuleLoaded(p *Process, m Module)
	BreakpointBound(p *Process, id uint32)
	BreakpointFailed(p *Process, id uint32)
	BreakpointHit(p *Process, id uint32, t *Thread)
	StepComplete(p *Process, t *Thread)
	AsyncBreakComplete(p *Process, t *Thread)
	ExceptionRaised(p *Process, t *Thread, name string, breakType wire.BreakType, text string)
	RequestHandlers(p *Process, file string)
	Output(p *Process, threadID int64, text string)
	Detached(p *Process)
}

// NopObserver implements Observer with no-op methods.
type NopObserver struct{}

func (NopObserver) ProcessLoaded(*Process)                                          {}
func (NopObserver) ThreadCreated(*Process, *Thread)                                  {}
func (NopObserver) ThreadExited(*Process, int64)                                     {}
func (NopObserver) ModuleLoaded(*Process, Module)                                    {}
func (NopObserver) BreakpointBound(*Process, uint32)                                 {}
func (NopObserver) BreakpointFailed(*Process, uint32)                                {}
func (NopObserver) BreakpointHit(*Process, uint32, *Thread)                          {}
func (NopObserver) StepComplete(*Process, *Thread)                                   {}
func (NopObserver) AsyncBreakComplete(*Process, *Thread)                             {}
func (NopObserver) ExceptionRaised(*Process, *Thread, string, wire.BreakType, string) {}
func (NopObserver) RequestHandlers(*Process, string)                                 {}
func (NopObserver) Output(*Process, int64, string)                                   {}
func (NopObserver) Detached(*Process)                                                {}

func (p *Process) AddObserver(o Observer) {
	p.observersMu.Lock()
	p.observers = append(p.observers, o)
	p.observersMu.Unlock()
}

func (p *Process) notify(fn func(Observer)) {
	p.observersMu.Lock()
	obs := make([]Observer, len(p.observers))
	copy(obs, p.observers)
	p.observersMu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

func (p *Process) protocol() *Protocol {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proto
}

func (p *Process) attachProtocol(proto *Protocol) {
	p.mu.Lock()
	p.proto = proto
	p.mu.Unlock()
}

func (p *Process) ReadyToDebug() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyToDebug
}

func (p *Process) Thread(id int64) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads[id]
}

func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// AddBreakPoint allocates a new id from the process's monotonic
// counter, stores the Breakpoint, and sends it to the debuggee (§4.7).
func (p *Process) AddBreakPoint(file string, line int, condition string) *Breakpoint {
	p.mu.Lock()
	p.nextBreakpointID++
	bp := &Breakpoint{ID: p.nextBreakpointID, File: file, Line: line, Condition: condition, proc: p}
	p.breakpoints[bp.ID] = bp
	p.mu.Unlock()
	bp.Add()
	return bp
}

// AddTemplateBreakPoint is the supplemented template-keyed variant
// (bkda), used for breakpoints not addressable by source file.
func (p *Process) AddTemplateBreakPoint(templateID string, line int, condition string) *Breakpoint {
	p.mu.Lock()
	p.nextBreakpointID++
	bp := &Breakpoint{ID: p.nextBreakpointID, Template: templateID, Line: line, Condition: condition, proc: p}
	p.breakpoints[bp.ID] = bp
	p.mu.Unlock()
	bp.Add()
	return bp
}

func (p *Process) Breakpoint(id uint32) *Breakpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breakpoints[id]
}

// ---- protocol event handlers (called only from Protocol.dispatch) ----

func (p *Process) processLoaded(tid int64) {
	p.mu.Lock()
	p.readyToDebug = true
	p.mu.Unlock()
	p.notify(func(o Observer) { o.ProcessLoaded(p) })
}

// threadCreated adds a Thread; the first one observed is the
// non-worker (main) thread (§4.7).
func (p *Process) threadCreated(tid int64) {
	p.mu.Lock()
	isWorker := len(p.threads) > 0
	name := "MainThread"
	if isWorker {
		name = "Thread"
	}
	t := &Thread{ID: tid, Name: name, IsWorker: isWorker}
	p.threads[tid] = t
	p.mu.Unlock()
	p.notify(func(o Observer) { o.ThreadCreated(p, t) })
}

// threadExited removes the thread; exit of the non-worker thread
// triggers process teardown (§4.7).
func (p *Process) threadExited(tid int64) {
	p.mu.Lock()
	t, ok := p.threads[tid]
	wasMain := ok && !t.IsWorker
	delete(p.threads, tid)
	p.mu.Unlock()
	p.notify(func(o Observer) { o.ThreadExited(p, tid) })
	if wasMain {
		p.teardown()
	}
}

func (p *Process) teardown() {
	p.mu.Lock()
	cmd := p.Cmd
	p.Cmd = nil
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Wait()
	}
}

// threadFrameList replaces the thread's frames wholesale, constructing
// StackFrames and their (name-only, lazily hydrated) EvaluationResults
// (§4.7).
func (p *Process) threadFrameList(tid int64, name string, wf []wire.WireFrame) {
	p.mu.Lock()
	t, ok := p.threads[tid]
	p.mu.Unlock()
	if !ok {
		return
	}
	frames := make([]*StackFrame, 0, len(wf))
	for i, f := range wf {
		sf := &StackFrame{
			ThreadID:  tid,
			FrameID:   uint32(i),
			FirstLine: int(f.FirstLine),
			LastLine:  int(f.Line),
			CurLine:   int(f.CurLine),
			FuncName:  f.Name,
			File:      f.File,
			ArgCount:  int(f.ArgCount),
		}
		for _, v := range f.Variables {
			sf.Variables = append(sf.Variables, &EvaluationResult{
				Name: v, proc: p, threadID: tid, frameID: sf.FrameID, frameKind: f.FrameKind, expr: v,
			})
		}
		frames = append(frames, sf)
	}
	t.mu.Lock()
	t.Name = name
	t.frames = frames
	t.blocked = true
	if len(frames) > 0 {
		t.stoppedLine = frames[0].CurLine
	}
	t.mu.Unlock()
}

func (p *Process) moduleLoaded(id uint32, file string) {
	p.notify(func(o Observer) { o.ModuleLoaded(p, Module{ID: id, File: file}) })
}

func (p *Process) breakpointBound(id uint32) {
	p.mu.Lock()
	if bp, ok := p.breakpoints[id]; ok {
		bp.Bound = true
	}
	p.mu.Unlock()
	p.notify(func(o Observer) { o.BreakpointBound(p, id) })
}

func (p *Process) breakpointFailed(id uint32) {
	p.notify(func(o Observer) { o.BreakpointFailed(p, id) })
}

func (p *Process) breakpointHit(id uint32, tid int64) {
	t := p.Thread(tid)
	p.notify(func(o Observer) { o.BreakpointHit(p, id, t) })
}

func (p *Process) stepComplete(tid int64) {
	t := p.Thread(tid)
	p.notify(func(o Observer) { o.StepComplete(p, t) })
}

func (p *Process) asyncBreakComplete(tid int64) {
	t := p.Thread(tid)
	p.notify(func(o Observer) { o.AsyncBreakComplete(p, t) })
}

func (p *Process) exceptionRaised(name string, tid int64, bt wire.BreakType, text string) {
	t := p.Thread(tid)
	p.notify(func(o Observer) { o.ExceptionRaised(p, t, name, bt, text) })
}

func (p *Process) setLineResult(success bool, tid int64, newLine uint32) {
	if !success {
		return
	}
	if t := p.Thread(tid); t != nil {
		t.mu.Lock()
		t.stoppedLine = int(newLine)
		t.mu.Unlock()
	}
}

func (p *Process) requestHandlers(file string) {
	p.notify(func(o Observer) { o.RequestHandlers(p, file) })
}

func (p *Process) output(tid int64, text string) {
	p.notify(func(o Observer) { o.Output(p, tid, text) })
}

func (p *Process) onDetached() {
	p.notify(func(o Observer) { o.Detached(p) })
}

// ---- evaluation request/reply correlation ----

// Evaluate issues exec against the given thread/frame and delivers the
// result to cb once the matching EXCR/EXCE frame arrives.
func (p *Process) Evaluate(code string, threadID int64, frameID uint32, kind wire.FrameKind, cb func(*EvaluationResult, error)) error {
	proto := p.protocol()
	if proto == nil {
		return errors.New("host: process has no connected debuggee")
	}
	eid := atomic.AddUint32(&p.nextEvalID, 1)
	p.mu.Lock()
	p.pendingEvals[eid] = func(res *EvaluationResult, err error) {
		if res != nil {
			res.threadID, res.frameID, res.frameKind, res.expr = threadID, frameID, kind, code
		}
		if cb != nil {
			cb(res, err)
		}
	}
	p.mu.Unlock()
	return proto.Evaluate(code, threadID, frameID, eid, kind)
}

func (p *Process) enumerateChildren(code string, threadID int64, frameID uint32, kind wire.FrameKind, isEnumerate bool, cb ChildrenCallback) error {
	proto := p.protocol()
	if proto == nil {
		return errors.New("host: process has no connected debuggee")
	}
	eid := atomic.AddUint32(&p.nextEvalID, 1)
	p.mu.Lock()
	p.pendingKids[eid] = cb
	p.mu.Unlock()
	return proto.EnumerateChildren(code, threadID, frameID, eid, kind, isEnumerate)
}

func (p *Process) evalResult(eid uint32, obj wire.Object) {
	p.mu.Lock()
	cb, ok := p.pendingEvals[eid]
	delete(p.pendingEvals, eid)
	p.mu.Unlock()
	if ok && cb != nil {
		cb(resultFromObject(p, obj), nil)
	}
}

func (p *Process) evalError(eid uint32, text string) {
	p.mu.Lock()
	cb, ok := p.pendingEvals[eid]
	delete(p.pendingEvals, eid)
	kcb, kok := p.pendingKids[eid]
	delete(p.pendingKids, eid)
	p.mu.Unlock()
	if ok && cb != nil {
		cb(nil, errors.New(text))
	}
	if kok && kcb != nil {
		kcb(nil, nil, false, false, errors.New(text))
	}
}

func (p *Process) children(eid uint32, attrs, indices []wire.NamedObject, isIndex, isEnum bool) {
	p.mu.Lock()
	cb, ok := p.pendingKids[eid]
	delete(p.pendingKids, eid)
	p.mu.Unlock()
	if !ok || cb == nil {
		return
	}
	cb(resultsFromNamed(p, attrs), resultsFromNamed(p, indices), isIndex, isEnum, nil)
}

func resultFromObject(p *Process, obj wire.Object) *EvaluationResult {
	return &EvaluationResult{Repr: obj.Repr, HexRepr: obj.HexRepr, TypeName: obj.TypeName, Expandable: obj.Expandable, proc: p}
}

func resultsFromNamed(p *Process, named []wire.NamedObject) []*EvaluationResult {
	out := make([]*EvaluationResult, 0, len(named))
	for _, n := range named {
		r := resultFromObject(p, n.Value)
		r.Name = n.Name
		out = append(out, r)
	}
	return out
}
