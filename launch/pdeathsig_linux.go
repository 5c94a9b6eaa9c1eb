// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package launch

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// killOnParentExit arranges for the debuggee to receive SIGKILL if the
// host process dies first, so an aborted debugging session never
// leaves an orphaned, untraceable child behind.
func killOnParentExit() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: unix.SIGKILL,
	}
}
