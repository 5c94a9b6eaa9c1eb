// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// Event payloads, debuggee -> host. Each has an Encode method (used by
// agent.Dispatcher) and a Decode function (used by host.Protocol).
// Events are length-prefixed (§4.1); Encode here returns the tag+payload
// Writer, and the caller uses WriteFramedTo to add the length prefix
// under the send lock.

type ConnectedEvt struct {
	CorrelationID string
	OK            bool
}

func (e ConnectedEvt) Encode() *Writer {
	return NewFrame(EvtConnected).WriteString(e.CorrelationID).WriteBool(e.OK)
}

func DecodeConnected(r *Reader) (ConnectedEvt, error) {
	var e ConnectedEvt
	var err error
	if e.CorrelationID, err = r.ReadRequiredString(); err != nil {
		return e, err
	}
	e.OK, err = r.ReadBool()
	return e, err
}

type ThreadCreatedEvt struct{ ThreadID int64 }

func (e ThreadCreatedEvt) Encode() *Writer {
	return NewFrame(EvtThreadCreated).WriteInt64(e.ThreadID)
}

func DecodeThreadCreated(r *Reader) (ThreadCreatedEvt, error) {
	tid, err := r.ReadInt64()
	return ThreadCreatedEvt{ThreadID: tid}, err
}

type ThreadExitedEvt struct{ ThreadID int64 }

func (e ThreadExitedEvt) Encode() *Writer {
	return NewFrame(EvtThreadExited).WriteInt64(e.ThreadID)
}

func DecodeThreadExited(r *Reader) (ThreadExitedEvt, error) {
	tid, err := r.ReadInt64()
	return ThreadExitedEvt{ThreadID: tid}, err
}

type ModuleLoadedEvt struct {
	ModuleID uint32
	File     string
}

func (e ModuleLoadedEvt) Encode() *Writer {
	return NewFrame(EvtModuleLoaded).WriteUint32(e.ModuleID).WriteString(e.File)
}

func DecodeModuleLoaded(r *Reader) (ModuleLoadedEvt, error) {
	var e ModuleLoadedEvt
	var err error
	if e.ModuleID, err = r.ReadUint32(); err != nil {
		return e, err
	}
	e.File, err = r.ReadRequiredString()
	return e, err
}

type ProcessLoadedEvt struct{ ThreadID int64 }

func (e ProcessLoadedEvt) Encode() *Writer {
	return NewFrame(EvtProcessLoaded).WriteInt64(e.ThreadID)
}

func DecodeProcessLoaded(r *Reader) (ProcessLoadedEvt, error) {
	tid, err := r.ReadInt64()
	return ProcessLoadedEvt{ThreadID: tid}, err
}

type BreakpointBoundEvt struct{ ID uint32 }

func (e BreakpointBoundEvt) Encode() *Writer {
	return NewFrame(EvtBreakpointBound).WriteUint32(e.ID)
}

func DecodeBreakpointBound(r *Reader) (BreakpointBoundEvt, error) {
	id, err := r.ReadUint32()
	return BreakpointBoundEvt{ID: id}, err
}

type BreakpointFailedEvt struct{ ID uint32 }

func (e BreakpointFailedEvt) Encode() *Writer {
	return NewFrame(EvtBreakpointFailed).WriteUint32(e.ID)
}

func DecodeBreakpointFailed(r *Reader) (BreakpointFailedEvt, error) {
	id, err := r.ReadUint32()
	return BreakpointFailedEvt{ID: id}, err
}

type BreakpointHitEvt struct {
	ID       uint32
	ThreadID int64
}

func (e BreakpointHitEvt) Encode() *Writer {
	return NewFrame(EvtBreakpointHit).WriteUint32(e.ID).WriteInt64(e.ThreadID)
}

func DecodeBreakpointHit(r *Reader) (BreakpointHitEvt, error) {
	var e BreakpointHitEvt
	var err error
	if e.ID, err = r.ReadUint32(); err != nil {
		return e, err
	}
	e.ThreadID, err = r.ReadInt64()
	return e, err
}

type StepDoneEvt struct{ ThreadID int64 }

func (e StepDoneEvt) Encode() *Writer { return NewFrame(EvtStepDone).WriteInt64(e.ThreadID) }

func DecodeStepDone(r *Reader) (StepDoneEvt, error) {
	tid, err := r.ReadInt64()
	return StepDoneEvt{ThreadID: tid}, err
}

type AsyncBreakCompleteEvt struct{ ThreadID int64 }

func (e AsyncBreakCompleteEvt) Encode() *Writer {
	return NewFrame(EvtAsyncBreakComplete).WriteInt64(e.ThreadID)
}

func DecodeAsyncBreakComplete(r *Reader) (AsyncBreakCompleteEvt, error) {
	tid, err := r.ReadInt64()
	return AsyncBreakCompleteEvt{ThreadID: tid}, err
}

type ExceptionEvt struct {
	Name      string
	ThreadID  int64
	BreakType BreakType
	Text      string
}

func (e ExceptionEvt) Encode() *Writer {
	return NewFrame(EvtException).
		WriteString(e.Name).
		WriteInt64(e.ThreadID).
		WriteUint32(uint32(e.BreakType)).
		WriteString(e.Text)
}

func DecodeException(r *Reader) (ExceptionEvt, error) {
	var e ExceptionEvt
	var err error
	if e.Name, err = r.ReadRequiredString(); err != nil {
		return e, err
	}
	if e.ThreadID, err = r.ReadInt64(); err != nil {
		return e, err
	}
	bt, err := r.ReadUint32()
	if err != nil {
		return e, err
	}
	e.BreakType = BreakType(bt)
	e.Text, err = r.ReadRequiredString()
	return e, err
}

type SetLineResultEvt struct {
	Success  bool
	ThreadID int64
	NewLine  uint32
}

func (e SetLineResultEvt) Encode() *Writer {
	return NewFrame(EvtSetLineResult).
		WriteBool(e.Success).
		WriteInt64(e.ThreadID).
		WriteUint32(e.NewLine)
}

func DecodeSetLineResult(r *Reader) (SetLineResultEvt, error) {
	var e SetLineResultEvt
	var err error
	if e.Success, err = r.ReadBool(); err != nil {
		return e, err
	}
	if e.ThreadID, err = r.ReadInt64(); err != nil {
		return e, err
	}
	e.NewLine, err = r.ReadUint32()
	return e, err
}

// WireFrame is one captured stack activation as sent in a THRF event.
// Variable snapshots carry only names on the wire: values are hydrated
// lazily by the host issuing an Evaluate command, matching the original
// protocol (see DESIGN.md).
type WireFrame struct {
	FirstLine  uint32
	Line       uint32
	CurLine    uint32
	Name       string
	File       string
	ArgCount   uint32
	FrameKind  FrameKind
	Variables  []string
}

type ThreadFramesEvt struct {
	ThreadID int64
	Name     string
	Frames   []WireFrame
}

func (e ThreadFramesEvt) Encode() *Writer {
	w := NewFrame(EvtThreadFrames).WriteInt64(e.ThreadID).WriteString(e.Name).WriteUint32(uint32(len(e.Frames)))
	for _, f := range e.Frames {
		w.WriteUint32(f.FirstLine).
			WriteUint32(f.Line).
			WriteUint32(f.CurLine).
			WriteString(f.Name).
			WriteString(f.File).
			WriteUint32(f.ArgCount).
			WriteUint32(uint32(f.FrameKind)).
			WriteUint32(uint32(len(f.Variables)))
		for _, v := range f.Variables {
			w.WriteString(v)
		}
	}
	return w
}

func DecodeThreadFrames(r *Reader) (ThreadFramesEvt, error) {
	var e ThreadFramesEvt
	var err error
	if e.ThreadID, err = r.ReadInt64(); err != nil {
		return e, err
	}
	if e.Name, err = r.ReadRequiredString(); err != nil {
		return e, err
	}
	frameCount, err := r.ReadUint32()
	if err != nil {
		return e, err
	}
	for i := uint32(0); i < frameCount; i++ {
		var f WireFrame
		if f.FirstLine, err = r.ReadUint32(); err != nil {
			return e, err
		}
		if f.Line, err = r.ReadUint32(); err != nil {
			return e, err
		}
		if f.CurLine, err = r.ReadUint32(); err != nil {
			return e, err
		}
		if f.Name, err = r.ReadRequiredString(); err != nil {
			return e, err
		}
		if f.File, err = r.ReadRequiredString(); err != nil {
			return e, err
		}
		if f.ArgCount, err = r.ReadUint32(); err != nil {
			return e, err
		}
		fk, err := r.ReadUint32()
		if err != nil {
			return e, err
		}
		f.FrameKind = FrameKind(fk)
		varCount, err := r.ReadUint32()
		if err != nil {
			return e, err
		}
		for j := uint32(0); j < varCount; j++ {
			name, err := r.ReadRequiredString()
			if err != nil {
				return e, err
			}
			f.Variables = append(f.Variables, name)
		}
		e.Frames = append(e.Frames, f)
	}
	return e, nil
}

type DetachedEvt struct{}

func (e DetachedEvt) Encode() *Writer { return NewFrame(EvtDetached) }

func DecodeDetached(r *Reader) (DetachedEvt, error) { return DetachedEvt{}, nil }

type EvalErrorEvt struct {
	EvalID uint32
	Text   string
}

func (e EvalErrorEvt) Encode() *Writer {
	return NewFrame(EvtEvalError).WriteUint32(e.EvalID).WriteString(e.Text)
}

func DecodeEvalError(r *Reader) (EvalErrorEvt, error) {
	var e EvalErrorEvt
	var err error
	if e.EvalID, err = r.ReadUint32(); err != nil {
		return e, err
	}
	e.Text, err = r.ReadRequiredString()
	return e, err
}

type EvalResultEvt struct {
	EvalID uint32
	Result Object
}

func (e EvalResultEvt) Encode() *Writer {
	return NewFrame(EvtEvalResult).WriteUint32(e.EvalID).WriteObject(e.Result)
}

func DecodeEvalResult(r *Reader) (EvalResultEvt, error) {
	var e EvalResultEvt
	var err error
	if e.EvalID, err = r.ReadUint32(); err != nil {
		return e, err
	}
	e.Result, err = r.ReadObject()
	return e, err
}

// NamedObject is a (name, value) pair used for attribute and index
// enumeration results.
type NamedObject struct {
	Name  string
	Value Object
}

type ChildrenEvt struct {
	EvalID         uint32
	Attributes     []NamedObject
	Indices        []NamedObject
	IndicesAreIndex bool
	IndicesAreEnum  bool
}

func (e ChildrenEvt) Encode() *Writer {
	w := NewFrame(EvtChildren).WriteUint32(e.EvalID)
	w.WriteUint32(uint32(len(e.Attributes)))
	for _, a := range e.Attributes {
		w.WriteString(a.Name).WriteObject(a.Value)
	}
	w.WriteUint32(uint32(len(e.Indices)))
	for _, ix := range e.Indices {
		w.WriteString(ix.Name).WriteObject(ix.Value)
	}
	w.WriteBool(e.IndicesAreIndex)
	w.WriteBool(e.IndicesAreEnum)
	return w
}

func DecodeChildren(r *Reader) (ChildrenEvt, error) {
	var e ChildrenEvt
	var err error
	if e.EvalID, err = r.ReadUint32(); err != nil {
		return e, err
	}
	attrCount, err := r.ReadUint32()
	if err != nil {
		return e, err
	}
	for i := uint32(0); i < attrCount; i++ {
		name, err := r.ReadRequiredString()
		if err != nil {
			return e, err
		}
		val, err := r.ReadObject()
		if err != nil {
			return e, err
		}
		e.Attributes = append(e.Attributes, NamedObject{Name: name, Value: val})
	}
	idxCount, err := r.ReadUint32()
	if err != nil {
		return e, err
	}
	for i := uint32(0); i < idxCount; i++ {
		name, err := r.ReadRequiredString()
		if err != nil {
			return e, err
		}
		val, err := r.ReadObject()
		if err != nil {
			return e, err
		}
		e.Indices = append(e.Indices, NamedObject{Name: name, Value: val})
	}
	if e.IndicesAreIndex, err = r.ReadBool(); err != nil {
		return e, err
	}
	e.IndicesAreEnum, err = r.ReadBool()
	return e, err
}

type OutputEvt struct {
	ThreadID int64
	Text     string
}

func (e OutputEvt) Encode() *Writer {
	return NewFrame(EvtOutput).WriteInt64(e.ThreadID).WriteString(e.Text)
}

func DecodeOutput(r *Reader) (OutputEvt, error) {
	var e OutputEvt
	var err error
	if e.ThreadID, err = r.ReadInt64(); err != nil {
		return e, err
	}
	e.Text, err = r.ReadRequiredString()
	return e, err
}

type RequestHandlersEvt struct{ File string }

func (e RequestHandlersEvt) Encode() *Writer {
	return NewFrame(EvtRequestHandlers).WriteString(e.File)
}

func DecodeRequestHandlers(r *Reader) (RequestHandlersEvt, error) {
	file, err := r.ReadRequiredString()
	return RequestHandlersEvt{File: file}, err
}
