// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// Command tags: host -> debuggee. Raw framing, no outer length.
var (
	CmdStepInto           = NewTag("stpi")
	CmdStepOut            = NewTag("stpo")
	CmdStepOver           = NewTag("stpv")
	CmdBreakAll           = NewTag("brka")
	CmdResumeAll          = NewTag("resa")
	CmdResumeThread       = NewTag("rest")
	CmdSetBreakpoint      = NewTag("brkp")
	CmdUpdateCondition    = NewTag("brkc")
	CmdRemoveBreakpoint   = NewTag("brkr")
	CmdEvaluate           = NewTag("exec")
	CmdEnumerateChildren  = NewTag("chld")
	CmdSetLine            = NewTag("setl")
	CmdDetach             = NewTag("detc")
	CmdClearStepping      = NewTag("clst")
	CmdSetExceptionInfo   = NewTag("sexi")
	CmdSetHandlerInfo     = NewTag("sehi")
	CmdAddTemplateBreak   = NewTag("bkda")
	CmdRemoveTemplateBreak = NewTag("bkdr")
	CmdAttachReplBackend  = NewTag("crep")
	CmdDetachReplBackend  = NewTag("drep")
)

// Event tags: debuggee -> host. Length-prefixed framing.
var (
	EvtConnected           = NewTag("CONN")
	EvtThreadCreated       = NewTag("NEWT")
	EvtThreadExited        = NewTag("EXTT")
	EvtModuleLoaded        = NewTag("MODL")
	EvtProcessLoaded       = NewTag("LOAD")
	EvtBreakpointBound     = NewTag("BRKS")
	EvtBreakpointFailed    = NewTag("BRKF")
	EvtBreakpointHit       = NewTag("BRKH")
	EvtStepDone            = NewTag("STPD")
	EvtAsyncBreakComplete  = NewTag("ASBR")
	EvtException           = NewTag("EXCP")
	EvtSetLineResult       = NewTag("SETL")
	EvtThreadFrames        = NewTag("THRF")
	EvtDetached            = NewTag("DETC")
	EvtEvalError           = NewTag("EXCE")
	EvtEvalResult          = NewTag("EXCR")
	EvtChildren            = NewTag("CHLD")
	EvtOutput              = NewTag("OUTP")
	EvtRequestHandlers     = NewTag("REQH")
)

// BreakType classifies an exception event with respect to the
// configured exception-break policy.
type BreakType uint32

const (
	BreakTypeNone BreakType = iota
	BreakTypeHandled
	BreakTypeUnhandled
)

// ExceptionMode is the policy bucket a fully-qualified exception name
// falls into.
type ExceptionMode uint32

const (
	ExceptionNever ExceptionMode = iota
	ExceptionAlways
	ExceptionUnhandled
)

// FrameKind distinguishes the kind of locals view a frame reference
// addresses; most commands use FrameKindNormal.
type FrameKind uint32

const (
	FrameKindNormal FrameKind = iota
	FrameKindTemplate
	FrameKindDjango
)
