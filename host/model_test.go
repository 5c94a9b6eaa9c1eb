// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/wire"
)

const testTimeout = 5 * time.Second

// recorder is a test Observer that forwards every callback it cares
// about onto a buffered channel, so a test can wait for a specific
// notification instead of racing the dispatcher goroutine.
type recorder struct {
	NopObserver
	threadCreated   chan *Thread
	breakpointHit   chan uint32
	breakpointBound chan uint32
	exceptionRaised chan string
	requestHandlers chan string
	detached        chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		threadCreated:   make(chan *Thread, 8),
		breakpointHit:   make(chan uint32, 8),
		breakpointBound: make(chan uint32, 8),
		exceptionRaised: make(chan string, 8),
		requestHandlers: make(chan string, 8),
		detached:        make(chan struct{}, 8),
	}
}

func (r *recorder) ThreadCreated(p *Process, t *Thread)            { r.threadCreated <- t }
func (r *recorder) BreakpointHit(p *Process, id uint32, t *Thread) { r.breakpointHit <- id }
func (r *recorder) BreakpointBound(p *Process, id uint32)          { r.breakpointBound <- id }
func (r *recorder) ExceptionRaised(p *Process, t *Thread, name string, bt wire.BreakType, text string) {
	r.exceptionRaised <- name
}
func (r *recorder) RequestHandlers(p *Process, file string) { r.requestHandlers <- file }
func (r *recorder) Detached(p *Process)                     { r.detached <- struct{}{} }

// testProcess wires a Process directly to a Protocol over an in-memory
// pipe, standing in for a connected debuggee, so the Manager's
// correlation handshake is not involved.
func testProcess(t *testing.T) (*Process, net.Conn, *recorder) {
	t.Helper()
	proc := NewProcess(uuid.New())
	rec := newRecorder()
	proc.AddObserver(rec)

	debuggee, hostSide := net.Pipe()
	proto := NewProtocol(hostSide, proc, zap.NewNop())
	proc.attachProtocol(proto)
	go proto.Serve()

	t.Cleanup(func() { debuggee.Close() })
	return proc, debuggee, rec
}

func sendEvt(t *testing.T, conn net.Conn, e interface{ Encode() *wire.Writer }) {
	t.Helper()
	require.NoError(t, e.Encode().WriteFramedTo(conn))
}

// recvCmd reads one raw (unframed) command off conn, as a debuggee
// would, returning its tag and a Reader positioned at its fields.
func recvCmd(t *testing.T, conn net.Conn) (wire.Tag, *wire.Reader) {
	t.Helper()
	r := wire.NewReader(conn)
	tag, err := r.ReadTag()
	require.NoError(t, err)
	return tag, r
}

func TestThreadCreatedNotifiesObserverAndFrameListUpdatesThread(t *testing.T) {
	proc, debuggee, rec := testProcess(t)

	sendEvt(t, debuggee, wire.ThreadCreatedEvt{ThreadID: 1})

	select {
	case th := <-rec.threadCreated:
		require.EqualValues(t, 1, th.ID)
		require.Equal(t, "MainThread", th.Name)
		require.False(t, th.IsWorker)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for ThreadCreated")
	}

	sendEvt(t, debuggee, wire.ThreadFramesEvt{
		ThreadID: 1,
		Name:     "MainThread",
		Frames: []wire.WireFrame{{
			FirstLine: 1, Line: 5, CurLine: 3,
			Name: "<module>", File: "t.script", ArgCount: 0,
			Variables: []string{"x"},
		}},
	})
	// threadFrameList notifies no observer, so use a subsequent
	// notifying event to establish a happens-before: proto.Serve runs a
	// single reader goroutine dispatching frames strictly in order.
	sendEvt(t, debuggee, wire.BreakpointHitEvt{ID: 9, ThreadID: 1})
	select {
	case id := <-rec.breakpointHit:
		require.EqualValues(t, 9, id)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for BreakpointHit")
	}

	th := proc.Thread(1)
	require.NotNil(t, th)
	require.True(t, th.Blocked())
	require.Equal(t, 3, th.StoppedLine())
	frames := th.Frames()
	require.Len(t, frames, 1)
	require.Equal(t, 3, frames[0].CurLine)
	require.Len(t, frames[0].Variables, 1)
	require.Equal(t, "x", frames[0].Variables[0].Name)
}

func TestBreakpointAddBindRemove(t *testing.T) {
	proc, debuggee, rec := testProcess(t)

	// net.Pipe is unbuffered: each command write only completes once the
	// debuggee side reads it, so issue it from a separate goroutine.
	added := make(chan *Breakpoint, 1)
	go func() { added <- proc.AddBreakPoint("t.script", 10, "x > 1") }()

	tag, r := recvCmd(t, debuggee)
	require.Equal(t, wire.CmdSetBreakpoint, tag)
	cmd, err := wire.DecodeSetBreakpoint(r)
	require.NoError(t, err)
	bp := <-added
	require.Equal(t, bp.ID, cmd.ID)
	require.EqualValues(t, 10, cmd.Line)
	require.Equal(t, "t.script", cmd.File)
	require.Equal(t, "x > 1", cmd.Condition)

	sendEvt(t, debuggee, wire.BreakpointBoundEvt{ID: bp.ID})
	select {
	case id := <-rec.breakpointBound:
		require.Equal(t, bp.ID, id)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for BreakpointBound")
	}
	require.True(t, bp.Bound)

	removed := make(chan error, 1)
	go func() { removed <- bp.Remove() }()
	tag, r = recvCmd(t, debuggee)
	require.Equal(t, wire.CmdRemoveBreakpoint, tag)
	rmCmd, err := wire.DecodeRemoveBreakpoint(r)
	require.NoError(t, err)
	require.Equal(t, bp.ID, rmCmd.ID)
	require.NoError(t, <-removed)

	require.Nil(t, proc.Breakpoint(bp.ID))
	require.NoError(t, bp.Remove())
}

func TestEvaluateRoundTrip(t *testing.T) {
	proc, debuggee, _ := testProcess(t)

	type reply struct {
		res *EvaluationResult
		err error
	}
	done := make(chan reply, 1)
	sent := make(chan error, 1)
	go func() {
		sent <- proc.Evaluate("a+1", 1, 0, wire.FrameKindNormal, func(res *EvaluationResult, err error) {
			done <- reply{res, err}
		})
	}()

	tag, r := recvCmd(t, debuggee)
	require.Equal(t, wire.CmdEvaluate, tag)
	cmd, err := wire.DecodeEvaluate(r)
	require.NoError(t, err)
	require.NoError(t, <-sent)
	require.Equal(t, "a+1", cmd.Code)
	require.EqualValues(t, 1, cmd.ThreadID)

	sendEvt(t, debuggee, wire.EvalResultEvt{
		EvalID: cmd.EvalID,
		Result: wire.Object{Repr: "2", TypeName: "int"},
	})

	select {
	case rep := <-done:
		require.NoError(t, rep.err)
		require.NotNil(t, rep.res)
		require.Equal(t, "2", rep.res.Repr)
		require.Equal(t, "int", rep.res.TypeName)
		require.False(t, rep.res.Expandable)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for evaluate reply")
	}
}

func TestEvaluateRoundTripError(t *testing.T) {
	proc, debuggee, _ := testProcess(t)

	type reply struct {
		res *EvaluationResult
		err error
	}
	done := make(chan reply, 1)
	sent := make(chan error, 1)
	go func() {
		sent <- proc.Evaluate("1/0", 1, 0, wire.FrameKindNormal, func(res *EvaluationResult, err error) {
			done <- reply{res, err}
		})
	}()

	tag, r := recvCmd(t, debuggee)
	require.Equal(t, wire.CmdEvaluate, tag)
	cmd, err := wire.DecodeEvaluate(r)
	require.NoError(t, err)
	require.NoError(t, <-sent)

	sendEvt(t, debuggee, wire.EvalErrorEvt{EvalID: cmd.EvalID, Text: "division by zero"})

	select {
	case rep := <-done:
		require.Nil(t, rep.res)
		require.EqualError(t, rep.err, "division by zero")
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for evaluate error reply")
	}
}
