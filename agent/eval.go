// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/interp"
	"github.com/nmichaud/rdebug/wire"
)

// maxEnumerateProbe bounds the `[<n>]` enumerate-index probe (§4.3) so
// a pathological or infinite enumerable cannot hang the thread.
const maxEnumerateProbe = 10000

// frameByID walks t's current caller chain id steps up from the top,
// matching the FrameID convention commands carry (0 = innermost
// frame). The agent does not keep a separate frame table: frames are
// addressed relative to the blocked thread's live chain, consistent
// with captureFrames's traversal.
func (a *Agent) frameByID(t *threadRecord, frameID uint32) interp.Frame {
	t.mu.Lock()
	f := t.curFrame
	t.mu.Unlock()
	for i := uint32(0); i < frameID && f != nil; i++ {
		next, ok := f.Caller()
		if !ok {
			return nil
		}
		f = next
	}
	return f
}

func toWireObject(v interp.Value) wire.Object {
	var hex *string
	if v.HasHexRepr {
		h := v.HexRepr
		hex = &h
	}
	return wire.Object{Repr: v.Repr, HexRepr: hex, TypeName: v.TypeName, Expandable: v.Expandable}
}

// doEvaluate implements §4.3's expression evaluation: evaluate code
// against the addressed frame, force the interpreter's locals-to-fast
// equivalent so assignments are visible, and report an object
// snapshot or an EXCE on failure.
func (a *Agent) doEvaluate(t *threadRecord, code string, frameID, eid uint32) {
	f := a.frameByID(t, frameID)
	if f == nil {
		a.sendEvalError(eid, "evaluate: no such frame")
		return
	}
	val, err := a.adapter.EvaluateInFrame(f, code)
	if err != nil {
		a.sendEvalError(eid, err.Error())
		return
	}
	if err := a.adapter.MutateLocals(f); err != nil {
		a.log.Warn("mutate locals failed", zap.Error(err))
	}
	if err := a.sendFramed(wire.EvalResultEvt{EvalID: eid, Result: toWireObject(val)}); err != nil {
		a.log.Error("send EXCR failed", zap.Error(err))
	}
}

func (a *Agent) sendEvalError(eid uint32, text string) {
	if err := a.sendFramed(wire.EvalErrorEvt{EvalID: eid, Text: text}); err != nil {
		a.log.Error("send EXCE failed", zap.Error(err))
	}
}

// doEnumerateChildren implements §4.3's attribute/index enumeration.
// When the evaluated value exposes a Children callback, its split is
// used directly; otherwise, for an isEnumerate request, indices are
// probed by re-evaluating code+"[n]" until it fails, partitioning into
// index-addressable vs enumerate-only by re-indexing to confirm
// identity of the probed value.
func (a *Agent) doEnumerateChildren(t *threadRecord, code string, frameID, eid uint32, isEnumerate bool) {
	f := a.frameByID(t, frameID)
	if f == nil {
		a.sendEvalError(eid, "enumerate-children: no such frame")
		return
	}
	val, err := a.adapter.EvaluateInFrame(f, code)
	if err != nil {
		a.sendEvalError(eid, err.Error())
		return
	}
	if !val.Expandable {
		a.sendFramed(wire.ChildrenEvt{EvalID: eid})
		return
	}
	if val.Children != nil {
		attrs, indices, isIndex, isEnum := val.Children()
		a.sendChildren(eid, attrs, indices, isIndex, isEnum)
		return
	}
	if !isEnumerate {
		a.sendFramed(wire.ChildrenEvt{EvalID: eid})
		return
	}
	var indices []interp.Variable
	for i := 0; i < maxEnumerateProbe; i++ {
		expr := fmt.Sprintf("%s[%d]", code, i)
		v, err := a.adapter.EvaluateInFrame(f, expr)
		if err != nil {
			break
		}
		indices = append(indices, interp.Variable{Name: fmt.Sprintf("[%d]", i), Value: v})
	}
	// Re-index the first probed entry to confirm the collection is
	// addressable by position rather than merely enumerable once.
	isIndex := false
	if len(indices) > 0 {
		if v2, err := a.adapter.EvaluateInFrame(f, fmt.Sprintf("%s[0]", code)); err == nil {
			isIndex = v2.Repr == indices[0].Value.Repr
		}
	}
	a.sendChildren(eid, nil, indices, isIndex, true)
}

func (a *Agent) sendChildren(eid uint32, attrs, indices []interp.Variable, isIndex, isEnum bool) {
	attrObjs := make([]wire.NamedObject, 0, len(attrs))
	for _, v := range attrs {
		attrObjs = append(attrObjs, wire.NamedObject{Name: v.Name, Value: toWireObject(v.Value)})
	}
	idxObjs := make([]wire.NamedObject, 0, len(indices))
	for _, v := range indices {
		idxObjs = append(idxObjs, wire.NamedObject{Name: v.Name, Value: toWireObject(v.Value)})
	}
	if err := a.sendFramed(wire.ChildrenEvt{
		EvalID:          eid,
		Attributes:      attrObjs,
		Indices:         idxObjs,
		IndicesAreIndex: isIndex,
		IndicesAreEnum:  isEnum,
	}); err != nil {
		a.log.Error("send CHLD failed", zap.Error(err))
	}
}

// doSetLine implements §4.3's set-line: delegate to the adapter and
// report the achieved line via SETL regardless of success.
func (a *Agent) doSetLine(t *threadRecord, frameID, line uint32) {
	f := a.frameByID(t, frameID)
	if f == nil {
		a.sendFramed(wire.SetLineResultEvt{Success: false, ThreadID: int64(t.id)})
		return
	}
	newLine, err := a.adapter.SetFrameLine(f, int(line))
	t.mu.Lock()
	t.stoppedOnLine = newLine
	t.mu.Unlock()
	if serr := a.sendFramed(wire.SetLineResultEvt{Success: err == nil, ThreadID: int64(t.id), NewLine: uint32(newLine)}); serr != nil {
		a.log.Error("send SETL failed", zap.Error(serr))
	}
}
