// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"

	"github.com/nmichaud/rdebug/wire"
)

// errNotConnected is returned by every command method below when the
// debuggee has not yet completed its CONN handshake.
var errNotConnected = errors.New("host: process has no connected debuggee")

func (p *Process) StepInto(tid int64) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.StepInto(tid)
}

func (p *Process) StepOut(tid int64) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.StepOut(tid)
}

func (p *Process) StepOver(tid int64) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.StepOver(tid)
}

func (p *Process) BreakAll() error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.BreakAll()
}

func (p *Process) ResumeAll() error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.ResumeAll()
}

func (p *Process) ResumeThread(tid int64) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.ResumeThread(tid)
}

func (p *Process) Detach() error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.Detach()
}

func (p *Process) SetLine(tid int64, frameID, line uint32) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.SetLine(tid, frameID, line)
}

func (p *Process) ClearStepping(tid int64) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.ClearStepping(tid)
}

func (p *Process) SetExceptionInfo(defaultMode wire.ExceptionMode, modes []wire.ExceptionModeEntry) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.SetExceptionInfo(defaultMode, modes)
}

func (p *Process) SetHandlerInfo(file string, ranges []wire.HandlerRange) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.SetHandlerInfo(file, ranges)
}

func (p *Process) AttachReplBackend(port uint32) error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.AttachReplBackend(port)
}

func (p *Process) DetachReplBackend() error {
	proto := p.protocol()
	if proto == nil {
		return errNotConnected
	}
	return proto.DetachReplBackend()
}
