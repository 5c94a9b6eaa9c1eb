// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"path/filepath"
	"sync"
)

// debuggeeBreakpoint is the agent-side half of a Breakpoint (§3): the
// host-assigned id, source location, optional condition, and the
// break-on-change last-observed value.
type debuggeeBreakpoint struct {
	id            uint32
	line          uint32
	file          string
	condition     string
	breakOnChange bool
	bound         bool
	lastValue     string
	haveLastValue bool
}

// templateBreakpoint is the supplemented template-keyed breakpoint
// variant (SPEC_FULL.md "Supplemented features"): bkda/bkdr key by an
// opaque template id instead of a file.
type templateBreakpoint struct {
	id            uint32
	templateID    string
	line          uint32
	condition     string
	breakOnChange bool
}

// breakpointTable holds every breakpoint known to the dispatcher and
// the pending set awaiting a module bind, mutated only by the
// dispatcher goroutine and read by tracer goroutines under mu (§5).
type breakpointTable struct {
	mu sync.RWMutex

	// byLine indexes bound and pending entries by line number so the
	// tracer's per-line event lookup (§4.3) is O(matches-at-that-line).
	byLine map[uint32][]*debuggeeBreakpoint
	byID   map[uint32]*debuggeeBreakpoint

	templates map[uint32]*templateBreakpoint
}

func newBreakpointTable() *breakpointTable {
	return &breakpointTable{
		byLine:    map[uint32][]*debuggeeBreakpoint{},
		byID:      map[uint32]*debuggeeBreakpoint{},
		templates: map[uint32]*templateBreakpoint{},
	}
}

// set installs or overwrites a breakpoint. Re-submitting the same
// file+line+id after it has already bound is rejected silently (§8
// idempotence property).
func (bt *breakpointTable) set(id uint32, line uint32, file, condition string, breakOnChange bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if existing, ok := bt.byID[id]; ok {
		if existing.bound && existing.file == file && existing.line == line {
			return
		}
		old := bt.byLine[existing.line]
		for i, e := range old {
			if e == existing {
				bt.byLine[existing.line] = append(old[:i], old[i+1:]...)
				break
			}
		}
	}
	bp := &debuggeeBreakpoint{id: id, line: line, file: file, condition: condition, breakOnChange: breakOnChange}
	bt.byID[id] = bp
	bt.byLine[line] = append(bt.byLine[line], bp)
}

func (bt *breakpointTable) updateCondition(id uint32, condition string, breakOnChange bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bp, ok := bt.byID[id]; ok {
		bp.condition = condition
		bp.breakOnChange = breakOnChange
		bp.haveLastValue = false
	}
}

// remove deletes a breakpoint by id. A second removal of the same id
// is a silent no-op (§8 idempotence property); the line field carried
// on the wire is accepted but unused (§9 open question resolution).
func (bt *breakpointTable) remove(id uint32) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bp, ok := bt.byID[id]
	if !ok {
		return
	}
	delete(bt.byID, id)
	line := bt.byLine[bp.line]
	for i, e := range line {
		if e.id == id {
			bt.byLine[bp.line] = append(line[:i], line[i+1:]...)
			break
		}
	}
}

func (bt *breakpointTable) addTemplate(id uint32, templateID string, line uint32, condition string, breakOnChange bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.templates[id] = &templateBreakpoint{id: id, templateID: templateID, line: line, condition: condition, breakOnChange: breakOnChange}
}

func (bt *breakpointTable) removeTemplate(id uint32) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	delete(bt.templates, id)
}

// matchLine returns the breakpoints at line whose file matches frame
// (absolute path if bound, basename otherwise), per §4.3.
func (bt *breakpointTable) matchLine(line uint32, frameFile string) []*debuggeeBreakpoint {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	var out []*debuggeeBreakpoint
	for _, bp := range bt.byLine[line] {
		if bp.bound {
			if bp.file == frameFile {
				out = append(out, bp)
			}
			continue
		}
		if filepath.Base(bp.file) == filepath.Base(frameFile) {
			out = append(out, bp)
		}
	}
	return out
}

// bindPending marks every not-yet-bound breakpoint whose file matches
// the newly loaded module (by basename) as bound against its absolute
// path, invoking onBind(id) for each. Called from Agent.noteModule.
func (bt *breakpointTable) bindPending(file string, onBind func(id uint32)) {
	bt.mu.Lock()
	var bound []uint32
	for _, bp := range bt.byID {
		if bp.bound {
			continue
		}
		if filepath.Base(bp.file) == filepath.Base(file) {
			bp.file = file
			bp.bound = true
			bound = append(bound, bp.id)
		}
	}
	bt.mu.Unlock()
	for _, id := range bound {
		onBind(id)
	}
}

// unboundIDs returns every breakpoint id that never bound before the
// process exited, for the one-time BRKF report of §7.
func (bt *breakpointTable) unboundIDs() []uint32 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	var out []uint32
	for id, bp := range bt.byID {
		if !bp.bound {
			out = append(out, id)
		}
	}
	return out
}

// recordValue updates the break-on-change cache for id and reports
// whether the new value differs from the previous one. The cache is
// updated unconditionally, matching §4.3.
func (bt *breakpointTable) recordValue(id uint32, value string) (changed bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bp, ok := bt.byID[id]
	if !ok {
		return true
	}
	changed = !bp.haveLastValue || bp.lastValue != value
	bp.lastValue = value
	bp.haveLastValue = true
	return changed
}
