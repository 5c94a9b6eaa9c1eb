// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// Command payloads, host -> debuggee. Each has a matching Encode method
// (used by host.Protocol) and Decode function (used by agent.Dispatcher).
// Commands are sent raw: tag followed immediately by fields, no outer
// length (§4.1).

type StepIntoCmd struct{ ThreadID int64 }

func (c StepIntoCmd) Encode() *Writer {
	return NewFrame(CmdStepInto).WriteInt64(c.ThreadID)
}

func DecodeStepInto(r *Reader) (StepIntoCmd, error) {
	tid, err := r.ReadInt64()
	return StepIntoCmd{ThreadID: tid}, err
}

type StepOutCmd struct{ ThreadID int64 }

func (c StepOutCmd) Encode() *Writer {
	return NewFrame(CmdStepOut).WriteInt64(c.ThreadID)
}

func DecodeStepOut(r *Reader) (StepOutCmd, error) {
	tid, err := r.ReadInt64()
	return StepOutCmd{ThreadID: tid}, err
}

type StepOverCmd struct{ ThreadID int64 }

func (c StepOverCmd) Encode() *Writer {
	return NewFrame(CmdStepOver).WriteInt64(c.ThreadID)
}

func DecodeStepOver(r *Reader) (StepOverCmd, error) {
	tid, err := r.ReadInt64()
	return StepOverCmd{ThreadID: tid}, err
}

type BreakAllCmd struct{}

func (c BreakAllCmd) Encode() *Writer { return NewFrame(CmdBreakAll) }

type ResumeAllCmd struct{}

func (c ResumeAllCmd) Encode() *Writer { return NewFrame(CmdResumeAll) }

type ResumeThreadCmd struct{ ThreadID int64 }

func (c ResumeThreadCmd) Encode() *Writer {
	return NewFrame(CmdResumeThread).WriteInt64(c.ThreadID)
}

func DecodeResumeThread(r *Reader) (ResumeThreadCmd, error) {
	tid, err := r.ReadInt64()
	return ResumeThreadCmd{ThreadID: tid}, err
}

type SetBreakpointCmd struct {
	ID              uint32
	Line            uint32
	File            string
	Condition       string
	BreakOnChange   bool
}

func (c SetBreakpointCmd) Encode() *Writer {
	return NewFrame(CmdSetBreakpoint).
		WriteUint32(c.ID).
		WriteUint32(c.Line).
		WriteString(c.File).
		WriteString(c.Condition).
		WriteBool(c.BreakOnChange)
}

func DecodeSetBreakpoint(r *Reader) (SetBreakpointCmd, error) {
	var c SetBreakpointCmd
	var err error
	if c.ID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.Line, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.File, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	if c.Condition, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	c.BreakOnChange, err = r.ReadBool()
	return c, err
}

type UpdateConditionCmd struct {
	ID            uint32
	Condition     string
	BreakOnChange bool
}

func (c UpdateConditionCmd) Encode() *Writer {
	return NewFrame(CmdUpdateCondition).
		WriteUint32(c.ID).
		WriteString(c.Condition).
		WriteBool(c.BreakOnChange)
}

func DecodeUpdateCondition(r *Reader) (UpdateConditionCmd, error) {
	var c UpdateConditionCmd
	var err error
	if c.ID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.Condition, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	c.BreakOnChange, err = r.ReadBool()
	return c, err
}

// RemoveBreakpointCmd carries both Line and ID, per §4.2 and §9: the
// debuggee looks the entry up by ID alone. Line is accepted for wire
// compatibility but never consulted.
type RemoveBreakpointCmd struct {
	Line uint32
	ID   uint32
}

func (c RemoveBreakpointCmd) Encode() *Writer {
	return NewFrame(CmdRemoveBreakpoint).WriteUint32(c.Line).WriteUint32(c.ID)
}

func DecodeRemoveBreakpoint(r *Reader) (RemoveBreakpointCmd, error) {
	var c RemoveBreakpointCmd
	var err error
	if c.Line, err = r.ReadUint32(); err != nil {
		return c, err
	}
	c.ID, err = r.ReadUint32()
	return c, err
}

type EvaluateCmd struct {
	Code      string
	ThreadID  int64
	FrameID   uint32
	EvalID    uint32
	FrameKind FrameKind
}

func (c EvaluateCmd) Encode() *Writer {
	return NewFrame(CmdEvaluate).
		WriteString(c.Code).
		WriteInt64(c.ThreadID).
		WriteUint32(c.FrameID).
		WriteUint32(c.EvalID).
		WriteUint32(uint32(c.FrameKind))
}

func DecodeEvaluate(r *Reader) (EvaluateCmd, error) {
	var c EvaluateCmd
	var err error
	if c.Code, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	if c.ThreadID, err = r.ReadInt64(); err != nil {
		return c, err
	}
	if c.FrameID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.EvalID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	fk, err := r.ReadUint32()
	c.FrameKind = FrameKind(fk)
	return c, err
}

type EnumerateChildrenCmd struct {
	Code          string
	ThreadID      int64
	FrameID       uint32
	EvalID        uint32
	FrameKind     FrameKind
	IsEnumerate   bool
}

func (c EnumerateChildrenCmd) Encode() *Writer {
	return NewFrame(CmdEnumerateChildren).
		WriteString(c.Code).
		WriteInt64(c.ThreadID).
		WriteUint32(c.FrameID).
		WriteUint32(c.EvalID).
		WriteUint32(uint32(c.FrameKind)).
		WriteBool(c.IsEnumerate)
}

func DecodeEnumerateChildren(r *Reader) (EnumerateChildrenCmd, error) {
	var c EnumerateChildrenCmd
	var err error
	if c.Code, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	if c.ThreadID, err = r.ReadInt64(); err != nil {
		return c, err
	}
	if c.FrameID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.EvalID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	fk, err := r.ReadUint32()
	if err != nil {
		return c, err
	}
	c.FrameKind = FrameKind(fk)
	c.IsEnumerate, err = r.ReadBool()
	return c, err
}

type SetLineCmd struct {
	ThreadID int64
	FrameID  uint32
	Line     uint32
}

func (c SetLineCmd) Encode() *Writer {
	return NewFrame(CmdSetLine).
		WriteInt64(c.ThreadID).
		WriteUint32(c.FrameID).
		WriteUint32(c.Line)
}

func DecodeSetLine(r *Reader) (SetLineCmd, error) {
	var c SetLineCmd
	var err error
	if c.ThreadID, err = r.ReadInt64(); err != nil {
		return c, err
	}
	if c.FrameID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	c.Line, err = r.ReadUint32()
	return c, err
}

type DetachCmd struct{}

func (c DetachCmd) Encode() *Writer { return NewFrame(CmdDetach) }

type ClearSteppingCmd struct{ ThreadID int64 }

func (c ClearSteppingCmd) Encode() *Writer {
	return NewFrame(CmdClearStepping).WriteInt64(c.ThreadID)
}

func DecodeClearStepping(r *Reader) (ClearSteppingCmd, error) {
	tid, err := r.ReadInt64()
	return ClearSteppingCmd{ThreadID: tid}, err
}

type ExceptionModeEntry struct {
	Mode ExceptionMode
	Name string
}

type SetExceptionInfoCmd struct {
	DefaultMode ExceptionMode
	Modes       []ExceptionModeEntry
}

func (c SetExceptionInfoCmd) Encode() *Writer {
	w := NewFrame(CmdSetExceptionInfo).WriteUint32(uint32(c.DefaultMode)).WriteUint32(uint32(len(c.Modes)))
	for _, m := range c.Modes {
		w.WriteUint32(uint32(m.Mode)).WriteString(m.Name)
	}
	return w
}

func DecodeSetExceptionInfo(r *Reader) (SetExceptionInfoCmd, error) {
	var c SetExceptionInfoCmd
	dm, err := r.ReadUint32()
	if err != nil {
		return c, err
	}
	c.DefaultMode = ExceptionMode(dm)
	count, err := r.ReadUint32()
	if err != nil {
		return c, err
	}
	for i := uint32(0); i < count; i++ {
		mode, err := r.ReadUint32()
		if err != nil {
			return c, err
		}
		name, err := r.ReadRequiredString()
		if err != nil {
			return c, err
		}
		c.Modes = append(c.Modes, ExceptionModeEntry{Mode: ExceptionMode(mode), Name: name})
	}
	return c, nil
}

// HandlerRange is one try/except range within a file: lines [Start,End)
// and the set of exception-type names it handles.
type HandlerRange struct {
	Start uint32
	End   uint32
	Exprs []string
}

type SetHandlerInfoCmd struct {
	File   string
	Ranges []HandlerRange
}

func (c SetHandlerInfoCmd) Encode() *Writer {
	w := NewFrame(CmdSetHandlerInfo).WriteString(c.File).WriteUint32(uint32(len(c.Ranges)))
	for _, hr := range c.Ranges {
		w.WriteUint32(hr.Start).WriteUint32(hr.End).WriteUint32(uint32(len(hr.Exprs)))
		for _, e := range hr.Exprs {
			w.WriteString(e)
		}
	}
	return w
}

func DecodeSetHandlerInfo(r *Reader) (SetHandlerInfoCmd, error) {
	var c SetHandlerInfoCmd
	var err error
	if c.File, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	rangeCount, err := r.ReadUint32()
	if err != nil {
		return c, err
	}
	for i := uint32(0); i < rangeCount; i++ {
		var hr HandlerRange
		if hr.Start, err = r.ReadUint32(); err != nil {
			return c, err
		}
		if hr.End, err = r.ReadUint32(); err != nil {
			return c, err
		}
		exprCount, err := r.ReadUint32()
		if err != nil {
			return c, err
		}
		for j := uint32(0); j < exprCount; j++ {
			e, err := r.ReadRequiredString()
			if err != nil {
				return c, err
			}
			hr.Exprs = append(hr.Exprs, e)
		}
		c.Ranges = append(c.Ranges, hr)
	}
	return c, nil
}

// AddTemplateBreakCmd adds a breakpoint keyed by template id rather
// than by source file, per the supplemented template-breakpoint
// feature (SPEC_FULL.md).
type AddTemplateBreakCmd struct {
	ID            uint32
	TemplateID    string
	Line          uint32
	Condition     string
	BreakOnChange bool
}

func (c AddTemplateBreakCmd) Encode() *Writer {
	return NewFrame(CmdAddTemplateBreak).
		WriteUint32(c.ID).
		WriteString(c.TemplateID).
		WriteUint32(c.Line).
		WriteString(c.Condition).
		WriteBool(c.BreakOnChange)
}

func DecodeAddTemplateBreak(r *Reader) (AddTemplateBreakCmd, error) {
	var c AddTemplateBreakCmd
	var err error
	if c.ID, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.TemplateID, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	if c.Line, err = r.ReadUint32(); err != nil {
		return c, err
	}
	if c.Condition, err = r.ReadRequiredString(); err != nil {
		return c, err
	}
	c.BreakOnChange, err = r.ReadBool()
	return c, err
}

type RemoveTemplateBreakCmd struct{ ID uint32 }

func (c RemoveTemplateBreakCmd) Encode() *Writer {
	return NewFrame(CmdRemoveTemplateBreak).WriteUint32(c.ID)
}

func DecodeRemoveTemplateBreak(r *Reader) (RemoveTemplateBreakCmd, error) {
	id, err := r.ReadUint32()
	return RemoveTemplateBreakCmd{ID: id}, err
}

type AttachReplBackendCmd struct{ Port uint32 }

func (c AttachReplBackendCmd) Encode() *Writer {
	return NewFrame(CmdAttachReplBackend).WriteUint32(c.Port)
}

func DecodeAttachReplBackend(r *Reader) (AttachReplBackendCmd, error) {
	port, err := r.ReadUint32()
	return AttachReplBackendCmd{Port: port}, err
}

type DetachReplBackendCmd struct{}

func (c DetachReplBackendCmd) Encode() *Writer { return NewFrame(CmdDetachReplBackend) }

func DecodeDetachReplBackend(r *Reader) (DetachReplBackendCmd, error) {
	return DetachReplBackendCmd{}, nil
}
