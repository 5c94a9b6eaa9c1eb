// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package launch

import "syscall"

// killOnParentExit is a no-op outside Linux: Pdeathsig has no portable
// equivalent, so a non-Linux host relies on Detach/process teardown
// instead.
func killOnParentExit() *syscall.SysProcAttr {
	return nil
}
