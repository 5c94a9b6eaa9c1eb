// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"

	"github.com/nmichaud/rdebug/agent"
	"github.com/nmichaud/rdebug/interp/script"
)

var _ script.ThreadWriter = (*outputForwarder)(nil)

// outputForwarder implements script.ThreadWriter over an Agent's OUTP
// event, used by --redirect-output: every chunk a script thread prints
// is both written through to dst (the host's own terminal) and
// reported as an OUTP event attributed to the thread that wrote it
// (§4.8).
type outputForwarder struct {
	agent *agent.Agent
	dst   io.Writer
}

func newOutputForwarder(a *agent.Agent, dst io.Writer) *outputForwarder {
	return &outputForwarder{agent: a, dst: dst}
}

func (f *outputForwarder) WriteThread(tid int64, p []byte) (int, error) {
	n, err := f.dst.Write(p)
	if serr := f.agent.SendOutput(tid, string(p)); serr != nil && err == nil {
		err = serr
	}
	return n, err
}
