// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/wire"
)

// Protocol is the per-connection endpoint of the remote debugging
// protocol on the host side (§4.6): it runs one reader loop decoding
// length-prefixed event frames into Process state-machine calls, and
// exposes one method per outbound raw command, each serialized through
// sendMu so its tag and payload land on the wire contiguously.
type Protocol struct {
	conn net.Conn
	proc *Process
	log  *zap.Logger

	sendMu     sync.Mutex
	detachOnce sync.Once
}

// notifyDetached calls Process.onDetached exactly once per connection,
// whether detachment was observed via an explicit DETC frame or by the
// connection simply closing.
func (p *Protocol) notifyDetached() {
	p.detachOnce.Do(func() { p.proc.onDetached() })
}

// NewProtocol wraps conn, already correlated to proc by the Manager.
func NewProtocol(conn net.Conn, proc *Process, log *zap.Logger) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{conn: conn, proc: proc, log: log}
}

// Serve reads and dispatches frames until the connection closes or a
// malformed frame is seen, then notifies the Process of detachment.
// It blocks and should be run in its own goroutine.
func (p *Protocol) Serve() {
	defer p.notifyDetached()
	for {
		tag, r, err := wire.ReadFrame(p.conn)
		if err != nil {
			p.log.Debug("protocol: connection closed", zap.Error(err))
			return
		}
		if err := p.dispatch(tag, r); err != nil {
			p.log.Error("protocol: decode error", zap.String("tag", tag.String()), zap.Error(err))
			p.conn.Close()
			return
		}
	}
}

func (p *Protocol) dispatch(tag wire.Tag, r *wire.Reader) error {
	switch tag {
	case wire.EvtConnected:
		// Already consumed by the Manager to correlate this connection;
		// a second CONN frame on the same connection is a protocol error.
		return fmt.Errorf("host: unexpected second CONN frame")

	case wire.EvtThreadCreated:
		e, err := wire.DecodeThreadCreated(r)
		if err != nil {
			return err
		}
		p.proc.threadCreated(e.ThreadID)

	case wire.EvtThreadExited:
		e, err := wire.DecodeThreadExited(r)
		if err != nil {
			return err
		}
		p.proc.threadExited(e.ThreadID)

	case wire.EvtModuleLoaded:
		e, err := wire.DecodeModuleLoaded(r)
		if err != nil {
			return err
		}
		p.proc.moduleLoaded(e.ModuleID, e.File)

	case wire.EvtProcessLoaded:
		e, err := wire.DecodeProcessLoaded(r)
		if err != nil {
			return err
		}
		p.proc.processLoaded(e.ThreadID)

	case wire.EvtBreakpointBound:
		e, err := wire.DecodeBreakpointBound(r)
		if err != nil {
			return err
		}
		p.proc.breakpointBound(e.ID)

	case wire.EvtBreakpointFailed:
		e, err := wire.DecodeBreakpointFailed(r)
		if err != nil {
			return err
		}
		p.proc.breakpointFailed(e.ID)

	case wire.EvtBreakpointHit:
		e, err := wire.DecodeBreakpointHit(r)
		if err != nil {
			return err
		}
		p.proc.breakpointHit(e.ID, e.ThreadID)

	case wire.EvtStepDone:
		e, err := wire.DecodeStepDone(r)
		if err != nil {
			return err
		}
		p.proc.stepComplete(e.ThreadID)

	case wire.EvtAsyncBreakComplete:
		e, err := wire.DecodeAsyncBreakComplete(r)
		if err != nil {
			return err
		}
		p.proc.asyncBreakComplete(e.ThreadID)

	case wire.EvtException:
		e, err := wire.DecodeException(r)
		if err != nil {
			return err
		}
		p.proc.exceptionRaised(e.Name, e.ThreadID, e.BreakType, e.Text)

	case wire.EvtSetLineResult:
		e, err := wire.DecodeSetLineResult(r)
		if err != nil {
			return err
		}
		p.proc.setLineResult(e.Success, e.ThreadID, e.NewLine)

	case wire.EvtThreadFrames:
		e, err := wire.DecodeThreadFrames(r)
		if err != nil {
			return err
		}
		p.proc.threadFrameList(e.ThreadID, e.Name, e.Frames)

	case wire.EvtDetached:
		if _, err := wire.DecodeDetached(r); err != nil {
			return err
		}
		p.notifyDetached()

	case wire.EvtEvalError:
		e, err := wire.DecodeEvalError(r)
		if err != nil {
			return err
		}
		p.proc.evalError(e.EvalID, e.Text)

	case wire.EvtEvalResult:
		e, err := wire.DecodeEvalResult(r)
		if err != nil {
			return err
		}
		p.proc.evalResult(e.EvalID, e.Result)

	case wire.EvtChildren:
		e, err := wire.DecodeChildren(r)
		if err != nil {
			return err
		}
		p.proc.children(e.EvalID, e.Attributes, e.Indices, e.IndicesAreIndex, e.IndicesAreEnum)

	case wire.EvtOutput:
		e, err := wire.DecodeOutput(r)
		if err != nil {
			return err
		}
		p.proc.output(e.ThreadID, e.Text)

	case wire.EvtRequestHandlers:
		e, err := wire.DecodeRequestHandlers(r)
		if err != nil {
			return err
		}
		p.proc.requestHandlers(e.File)

	default:
		return fmt.Errorf("host: unknown event tag %q", tag)
	}
	return nil
}

func (p *Protocol) send(c interface{ Encode() *wire.Writer }) error {
	w := c.Encode()
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return w.WriteRawTo(p.conn)
}

func (p *Protocol) StepInto(tid int64) error { return p.send(wire.StepIntoCmd{ThreadID: tid}) }
func (p *Protocol) StepOut(tid int64) error  { return p.send(wire.StepOutCmd{ThreadID: tid}) }
func (p *Protocol) StepOver(tid int64) error { return p.send(wire.StepOverCmd{ThreadID: tid}) }
func (p *Protocol) BreakAll() error          { return p.send(wire.BreakAllCmd{}) }
func (p *Protocol) ResumeAll() error         { return p.send(wire.ResumeAllCmd{}) }
func (p *Protocol) ResumeThread(tid int64) error {
	return p.send(wire.ResumeThreadCmd{ThreadID: tid})
}

func (p *Protocol) SetBreakpoint(id, line uint32, file, condition string, breakOnChange bool) error {
	return p.send(wire.SetBreakpointCmd{ID: id, Line: line, File: file, Condition: condition, BreakOnChange: breakOnChange})
}

func (p *Protocol) UpdateCondition(id uint32, condition string, breakOnChange bool) error {
	return p.send(wire.UpdateConditionCmd{ID: id, Condition: condition, BreakOnChange: breakOnChange})
}

func (p *Protocol) RemoveBreakpoint(line, id uint32) error {
	return p.send(wire.RemoveBreakpointCmd{Line: line, ID: id})
}

func (p *Protocol) Evaluate(code string, tid int64, frameID, evalID uint32, kind wire.FrameKind) error {
	return p.send(wire.EvaluateCmd{Code: code, ThreadID: tid, FrameID: frameID, EvalID: evalID, FrameKind: kind})
}

func (p *Protocol) EnumerateChildren(code string, tid int64, frameID, evalID uint32, kind wire.FrameKind, isEnumerate bool) error {
	return p.send(wire.EnumerateChildrenCmd{Code: code, ThreadID: tid, FrameID: frameID, EvalID: evalID, FrameKind: kind, IsEnumerate: isEnumerate})
}

func (p *Protocol) SetLine(tid int64, frameID, line uint32) error {
	return p.send(wire.SetLineCmd{ThreadID: tid, FrameID: frameID, Line: line})
}

func (p *Protocol) Detach() error             { return p.send(wire.DetachCmd{}) }
func (p *Protocol) ClearStepping(tid int64) error {
	return p.send(wire.ClearSteppingCmd{ThreadID: tid})
}

func (p *Protocol) SetExceptionInfo(defaultMode wire.ExceptionMode, modes []wire.ExceptionModeEntry) error {
	return p.send(wire.SetExceptionInfoCmd{DefaultMode: defaultMode, Modes: modes})
}

func (p *Protocol) SetHandlerInfo(file string, ranges []wire.HandlerRange) error {
	return p.send(wire.SetHandlerInfoCmd{File: file, Ranges: ranges})
}

func (p *Protocol) AddTemplateBreak(id uint32, templateID string, line uint32, condition string, breakOnChange bool) error {
	return p.send(wire.AddTemplateBreakCmd{ID: id, TemplateID: templateID, Line: line, Condition: condition, BreakOnChange: breakOnChange})
}

func (p *Protocol) RemoveTemplateBreak(id uint32) error {
	return p.send(wire.RemoveTemplateBreakCmd{ID: id})
}

func (p *Protocol) AttachReplBackend(port uint32) error {
	return p.send(wire.AttachReplBackendCmd{Port: port})
}

func (p *Protocol) DetachReplBackend() error { return p.send(wire.DetachReplBackendCmd{}) }
