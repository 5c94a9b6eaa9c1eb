// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/interp/script"
	"github.com/nmichaud/rdebug/wire"
)

const testTimeout = 5 * time.Second

// harness drives an Agent over an in-memory pipe standing in for the
// host connection, with the CONN handshake confirmed synchronously
// before the dispatcher and the interpreted program start, matching
// the ordering Agent.Connect itself establishes over a real socket.
type harness struct {
	t    *testing.T
	a    *Agent
	host net.Conn
	done chan error
}

func newHarness(t *testing.T, file, src string, opts Options) *harness {
	t.Helper()
	m, err := script.New(file, src)
	require.NoError(t, err)

	a := New(m, opts, zap.NewNop())
	hostConn, debugConn := net.Pipe()
	a.conn = debugConn

	connErr := make(chan error, 1)
	go func() {
		connErr <- a.sendFramed(wire.ConnectedEvt{CorrelationID: opts.CorrelationID, OK: true})
	}()

	tag, r, err := wire.ReadFrame(hostConn)
	require.NoError(t, err)
	require.Equal(t, wire.EvtConnected, tag)
	ce, err := wire.DecodeConnected(r)
	require.NoError(t, err)
	require.True(t, ce.OK)
	require.NoError(t, <-connErr)

	disp := NewDispatcher(a)
	go disp.Serve()

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	return &harness{t: t, a: a, host: hostConn, done: done}
}

// expect reads the next event frame and requires it to carry tag,
// returning a Reader scoped to its payload for further decoding.
func (h *harness) expect(tag wire.Tag) *wire.Reader {
	h.t.Helper()
	gotTag, r, err := wire.ReadFrame(h.host)
	require.NoError(h.t, err)
	require.Equal(h.t, tag, gotTag, "expected %s, got %s", tag.String(), gotTag.String())
	return r
}

func (h *harness) send(c interface{ Encode() *wire.Writer }) {
	h.t.Helper()
	require.NoError(h.t, c.Encode().WriteRawTo(h.host))
}

func (h *harness) waitDone() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(testTimeout):
		h.t.Fatal("timed out waiting for the interpreted program to finish")
		return nil
	}
}

// resumeLoad drains the module-load sequence every non-attach run
// starts with (MODL, then BRKS for the already-pending breakpoint
// boundID when it is non-zero, THRF, LOAD) and resumes thread 1,
// mirroring what a real host does before touching anything else.
func (h *harness) resumeLoad(boundID uint32) {
	h.t.Helper()
	r := h.expect(wire.EvtModuleLoaded)
	modl, err := wire.DecodeModuleLoaded(r)
	require.NoError(h.t, err)
	require.EqualValues(h.t, 1, modl.ModuleID)

	if boundID != 0 {
		r = h.expect(wire.EvtBreakpointBound)
		bound, err := wire.DecodeBreakpointBound(r)
		require.NoError(h.t, err)
		require.EqualValues(h.t, boundID, bound.ID)
	}

	h.expect(wire.EvtThreadFrames)
	r = h.expect(wire.EvtProcessLoaded)
	load, err := wire.DecodeProcessLoaded(r)
	require.NoError(h.t, err)
	require.EqualValues(h.t, 1, load.ThreadID)

	h.send(wire.ResumeThreadCmd{ThreadID: 1})
}

func TestLaunchBreakThenBreakpointHit(t *testing.T) {
	h := newHarness(t, "t.script", "x = 1\ny = 2\n", Options{CorrelationID: "corr-1"})

	h.send(wire.SetBreakpointCmd{ID: 1, Line: 2, File: "t.script"})

	r := h.expect(wire.EvtThreadCreated)
	newt, err := wire.DecodeThreadCreated(r)
	require.NoError(t, err)
	require.EqualValues(t, 1, newt.ThreadID)

	h.resumeLoad(1)

	r = h.expect(wire.EvtThreadFrames)
	frames, err := wire.DecodeThreadFrames(r)
	require.NoError(t, err)
	require.Len(t, frames.Frames, 1)
	require.EqualValues(t, 2, frames.Frames[0].CurLine)

	r = h.expect(wire.EvtBreakpointHit)
	hit, err := wire.DecodeBreakpointHit(r)
	require.NoError(t, err)
	require.EqualValues(t, 1, hit.ID)
	require.EqualValues(t, 1, hit.ThreadID)

	h.send(wire.ResumeThreadCmd{ThreadID: 1})

	r = h.expect(wire.EvtThreadExited)
	exited, err := wire.DecodeThreadExited(r)
	require.NoError(t, err)
	require.EqualValues(t, 1, exited.ThreadID)

	require.NoError(t, h.waitDone())
}

func TestStepOverAdvancesToNextLine(t *testing.T) {
	h := newHarness(t, "t.script", "a = 1\nb = 2\nc = 3\n", Options{})

	h.expect(wire.EvtThreadCreated)
	r := h.expect(wire.EvtModuleLoaded)
	_, err := wire.DecodeModuleLoaded(r)
	require.NoError(t, err)
	h.expect(wire.EvtThreadFrames)
	h.expect(wire.EvtProcessLoaded)

	h.send(wire.StepOverCmd{ThreadID: 1})

	r = h.expect(wire.EvtThreadFrames)
	frames, err := wire.DecodeThreadFrames(r)
	require.NoError(t, err)
	require.EqualValues(t, 2, frames.Frames[0].CurLine)

	r = h.expect(wire.EvtStepDone)
	done, err := wire.DecodeStepDone(r)
	require.NoError(t, err)
	require.EqualValues(t, 1, done.ThreadID)

	h.send(wire.ResumeThreadCmd{ThreadID: 1})

	h.expect(wire.EvtThreadExited)
	require.NoError(t, h.waitDone())
}

func TestBreakOnChangeSkipsRepeatedValues(t *testing.T) {
	src := "def report(i) {\n  x = i\n}\nreport(0)\nreport(0)\nreport(1)\nreport(1)\nreport(2)\n"
	h := newHarness(t, "t.script", src, Options{})

	h.send(wire.SetBreakpointCmd{ID: 7, Line: 2, File: "t.script", Condition: "i", BreakOnChange: true})

	h.expect(wire.EvtThreadCreated)
	h.resumeLoad(7)

	for _, want := range []string{"0", "1", "2"} {
		h.expect(wire.EvtThreadFrames)
		r := h.expect(wire.EvtBreakpointHit)
		hit, err := wire.DecodeBreakpointHit(r)
		require.NoError(t, err)
		require.EqualValues(t, 7, hit.ID, "break-on-change fired for repeated value %s", want)
		h.send(wire.ResumeThreadCmd{ThreadID: 1})
	}

	h.expect(wire.EvtThreadExited)
	require.NoError(t, h.waitDone())
}

func TestUnhandledExceptionReportsAfterHandlerLookup(t *testing.T) {
	h := newHarness(t, "t.script", `raise Boom("kapow")`+"\n", Options{})

	h.expect(wire.EvtThreadCreated)
	h.resumeLoad(0)

	r := h.expect(wire.EvtRequestHandlers)
	req, err := wire.DecodeRequestHandlers(r)
	require.NoError(t, err)
	require.Equal(t, "t.script", req.File)

	h.send(wire.SetHandlerInfoCmd{File: "t.script"})

	r = h.expect(wire.EvtException)
	exc, err := wire.DecodeException(r)
	require.NoError(t, err)
	require.Equal(t, "Boom", exc.Name)
	require.Equal(t, "kapow", exc.Text)
	require.Equal(t, wire.BreakTypeUnhandled, exc.BreakType)

	h.expect(wire.EvtThreadExited)
	require.Error(t, h.waitDone())
}

func TestEvaluateAgainstBlockedFrame(t *testing.T) {
	src := "def add(a, b) {\n  total = a + b\n  return total\n}\nresult = add(2, 3)\n"
	h := newHarness(t, "t.script", src, Options{})

	h.send(wire.SetBreakpointCmd{ID: 3, Line: 2, File: "t.script"})

	h.expect(wire.EvtThreadCreated)
	h.resumeLoad(3)

	h.expect(wire.EvtThreadFrames)
	r := h.expect(wire.EvtBreakpointHit)
	hit, err := wire.DecodeBreakpointHit(r)
	require.NoError(t, err)
	require.EqualValues(t, 3, hit.ID)

	h.send(wire.EvaluateCmd{Code: "a + b", ThreadID: 1, FrameID: 0, EvalID: 42, FrameKind: wire.FrameKindNormal})

	r = h.expect(wire.EvtEvalResult)
	res, err := wire.DecodeEvalResult(r)
	require.NoError(t, err)
	require.EqualValues(t, 42, res.EvalID)
	require.Equal(t, "5", res.Result.Repr)
	require.Equal(t, "number", res.Result.TypeName)

	h.send(wire.ResumeThreadCmd{ThreadID: 1})

	h.expect(wire.EvtThreadExited)
	require.NoError(t, h.waitDone())
}
