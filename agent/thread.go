// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"sync"

	"github.com/nmichaud/rdebug/interp"
)

// Stepping is the per-thread stepping mode driving the tracer's
// call/line/return decisions (§4.3).
type Stepping int

const (
	SteppingNone Stepping = iota
	SteppingInto
	SteppingOver
	SteppingOut
	SteppingBreak
	SteppingLaunchBreak
	SteppingAttachBreak
)

// threadRecord is the agent's per-thread state: the data model's
// Thread plus the stepping/blocking machinery §4.3 and §5 describe.
// Cyclic references are avoided by keying everything off ThreadID
// rather than back-pointers (§9).
type threadRecord struct {
	id       interp.ThreadID
	name     string
	isWorker bool

	mu            sync.Mutex
	stepping      Stepping
	stepDepth     int
	outArmed      bool
	stoppedOnLine int
	curFrame      interp.Frame
	isBlocked     bool

	// startingLock is held while is_blocked is being flipped and the
	// reason closure runs, matching §4.3's blocking protocol.
	startingLock sync.Mutex

	// workCh carries scheduled work (evaluate, enumerate children,
	// set-line) for the dispatcher to run on this thread while it is
	// blocked. resumeCh releases the block exactly once.
	workCh   chan func()
	resumeCh chan struct{}

	detachRequested bool
}

func newThreadRecord(id interp.ThreadID, isWorker bool) *threadRecord {
	name := "MainThread"
	if isWorker {
		name = "Thread"
	}
	return &threadRecord{
		id:       id,
		name:     name,
		isWorker: isWorker,
		workCh:   make(chan func(), 1),
		resumeCh: make(chan struct{}, 1),
	}
}

func (t *threadRecord) setStepping(s Stepping) {
	t.mu.Lock()
	t.stepping = s
	t.stepDepth = 0
	t.outArmed = false
	t.mu.Unlock()
}

func (t *threadRecord) clearStepping() { t.setStepping(SteppingNone) }

// block runs the blocking protocol of §4.3: the caller has already
// captured and sent the thread's frames and is about to report the
// specific break reason. block sets is_blocked, runs reason (which
// must emit exactly the event for this break), then waits for either
// scheduled work or a resume.
func (t *threadRecord) block(reason func()) {
	t.startingLock.Lock()
	t.mu.Lock()
	t.isBlocked = true
	t.mu.Unlock()
	reason()
	t.startingLock.Unlock()

	for {
		select {
		case work := <-t.workCh:
			work()
		case <-t.resumeCh:
			t.mu.Lock()
			t.isBlocked = false
			t.mu.Unlock()
			return
		}
	}
}

func (t *threadRecord) blocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isBlocked
}

// scheduleWork runs fn on t's own goroutine while it is blocked. It is
// a no-op (and reports false) if t is not currently blocked.
func (t *threadRecord) scheduleWork(fn func()) bool {
	if !t.blocked() {
		return false
	}
	select {
	case t.workCh <- fn:
		return true
	default:
		return false
	}
}

// resume releases the block-lock exactly once, per §5.
func (t *threadRecord) resume() bool {
	if !t.blocked() {
		return false
	}
	select {
	case t.resumeCh <- struct{}{}:
		return true
	default:
		return false
	}
}
