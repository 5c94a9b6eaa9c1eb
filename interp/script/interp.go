package script

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/nmichaud/rdebug/interp"
)

// scope is an insertion-ordered set of variable bindings. The first
// argCount entries are the frame's arguments, so Variables() can report
// the argument/local partition the data model requires.
type scope struct {
	order []string
	vals  map[string]any
}

func newScope() *scope { return &scope{vals: map[string]any{}} }

func (s *scope) set(name string, v any) {
	if _, ok := s.vals[name]; !ok {
		s.order = append(s.order, name)
	}
	s.vals[name] = v
}

func (s *scope) get(name string) (any, bool) {
	v, ok := s.vals[name]
	return v, ok
}

// frame is the script interpreter's concrete interp.Frame.
type frame struct {
	thread    interp.ThreadID
	funcName  string
	file      string
	firstLine int
	lastLine  int
	curLine   int
	argCount  int
	locals    *scope
	caller    *frame
}

func (f *frame) Thread() interp.ThreadID { return f.thread }
func (f *frame) FuncName() string        { return f.funcName }
func (f *frame) File() string            { return f.file }
func (f *frame) FirstLine() int          { return f.firstLine }
func (f *frame) LastLine() int           { return f.lastLine }
func (f *frame) Line() int               { return f.curLine }
func (f *frame) ArgCount() int           { return f.argCount }

func (f *frame) Variables() []interp.Variable {
	vars := make([]interp.Variable, 0, len(f.locals.order))
	for _, name := range f.locals.order {
		v, _ := f.locals.get(name)
		vars = append(vars, interp.Variable{Name: name, Value: toInterpValue(v)})
	}
	return vars
}

func (f *frame) Caller() (interp.Frame, bool) {
	if f.caller == nil {
		return nil, false
	}
	return f.caller, true
}

func toInterpValue(v any) interp.Value {
	switch x := v.(type) {
	case float64:
		return interp.Value{Repr: formatNumber(x), TypeName: "number"}
	case string:
		return interp.Value{Repr: fmt.Sprintf("%q", x), TypeName: "string"}
	default:
		return interp.Value{Repr: fmt.Sprintf("%v", x), TypeName: "unknown"}
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// threadState holds one virtual thread's call stack and detach flag. The
// module-level (top) frame is frames[0]; frames[len-1] is current.
type threadState struct {
	id      interp.ThreadID
	frames  []*frame
	trace   interp.TraceFunc
	detach  bool
}

func (t *threadState) top() *frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// scriptReturn is the internal control-flow signal for `return`.
type scriptReturn struct{ value any }

// scriptRaise is the internal control-flow signal for `raise`, also
// used to propagate an uncaught exception out of Run.
type scriptRaise struct {
	typeName string
	message  string
}

func (e *scriptRaise) Error() string { return fmt.Sprintf("%s: %s", e.typeName, e.message) }

// Machine is the script interpreter and, simultaneously, the
// interp.Adapter implementation the agent tracer drives.
type Machine struct {
	mu          sync.Mutex
	prog        *Program
	file        string
	out         io.Writer
	threads     map[interp.ThreadID]*threadState
	nextThread  int64
	onNewThread func(interp.ThreadID)
	onThreadExit func(interp.ThreadID)
	wg          sync.WaitGroup
}

var _ interp.Adapter = (*Machine)(nil)

// New parses src (attributing its statements to file for frame
// snapshots) and returns a Machine ready to Run.
func New(file, src string) (*Machine, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Machine{
		prog:    prog,
		file:    file,
		out:     os.Stdout,
		threads: map[interp.ThreadID]*threadState{},
	}, nil
}

func (m *Machine) SetOutput(w io.Writer) { m.out = w }

// ThreadWriter is implemented by an output writer that wants to know
// which thread produced a chunk of output, rather than having every
// print statement attributed to a single stream. Machine checks for it
// on each print so a redirecting writer can frame output per-thread.
type ThreadWriter interface {
	WriteThread(tid int64, p []byte) (int, error)
}

func (m *Machine) writeOutput(tid interp.ThreadID, line string) {
	if tw, ok := m.out.(ThreadWriter); ok {
		tw.WriteThread(int64(tid), []byte(line))
		return
	}
	io.WriteString(m.out, line)
}

func (m *Machine) allocThread() *threadState {
	id := interp.ThreadID(atomic.AddInt64(&m.nextThread, 1))
	ts := &threadState{id: id}
	m.mu.Lock()
	m.threads[id] = ts
	cb := m.onNewThread
	m.mu.Unlock()
	if cb != nil {
		cb(id)
	}
	return ts
}

// Run executes the program's top-level statements on a new main
// thread, blocking until it (and any threads it spawned) finish.
func (m *Machine) Run() error {
	ts := m.allocThread()
	top := &frame{thread: ts.id, funcName: "<module>", file: m.file, firstLine: 1, lastLine: m.prog.LastLine, locals: newScope()}
	ts.frames = []*frame{top}
	err := m.execBlockCatchingTop(ts, m.prog.Stmts)
	m.finishThread(ts)
	m.wg.Wait()
	return err
}

func (m *Machine) execBlockCatchingTop(ts *threadState, stmts []Stmt) error {
	_, raised, err := m.execBlock(ts, stmts)
	if err != nil {
		return err
	}
	if raised != nil {
		return raised
	}
	return nil
}

// execBlock runs stmts in order. It returns (returnSignal, raiseSignal,
// fatalErr): at most one of the first two is non-nil.
func (m *Machine) execBlock(ts *threadState, stmts []Stmt) (*scriptReturn, *scriptRaise, error) {
	if ts.detach {
		return nil, nil, nil
	}
	for _, stmt := range stmts {
		f := ts.top()
		f.curLine = stmt.stmtLine()
		if action := m.fireLine(ts, f); action == interp.ActionDetachTracing {
			ts.detach = true
			return nil, nil, nil
		}
		ret, raise, err := m.execStmt(ts, stmt)
		if err != nil {
			return nil, nil, err
		}
		if ret != nil || raise != nil {
			return ret, raise, nil
		}
		if ts.detach {
			return nil, nil, nil
		}
	}
	return nil, nil, nil
}

func (m *Machine) fireLine(ts *threadState, f *frame) interp.Action {
	if ts.trace == nil {
		return interp.ActionContinueTracing
	}
	return ts.trace(interp.EventLine, f, nil)
}

func (m *Machine) execStmt(ts *threadState, stmt Stmt) (*scriptReturn, *scriptRaise, error) {
	switch s := stmt.(type) {
	case *PrintStmt:
		v, err := m.eval(ts, s.Expr)
		if err != nil {
			return nil, nil, err
		}
		m.writeOutput(ts.id, formatPrintValue(v)+"\n")
		return nil, nil, nil
	case *AssignStmt:
		v, err := m.eval(ts, s.Expr)
		if err != nil {
			return nil, nil, err
		}
		ts.top().locals.set(s.Name, v)
		return nil, nil, nil
	case *ExprStmt:
		_, err := m.eval(ts, s.Expr)
		return nil, nil, err
	case *IfStmt:
		v, err := m.eval(ts, s.Cond)
		if err != nil {
			return nil, nil, err
		}
		if truthy(v) {
			return m.execBlock(ts, s.Then)
		}
		return m.execBlock(ts, s.Else)
	case *ForStmt:
		fromV, err := m.eval(ts, s.From)
		if err != nil {
			return nil, nil, err
		}
		toV, err := m.eval(ts, s.To)
		if err != nil {
			return nil, nil, err
		}
		from, to := fromV.(float64), toV.(float64)
		for i := from; i < to; i++ {
			ts.top().locals.set(s.Var, i)
			ret, raise, err := m.execBlock(ts, s.Body)
			if err != nil || ret != nil || raise != nil {
				return ret, raise, err
			}
			if ts.detach {
				return nil, nil, nil
			}
		}
		return nil, nil, nil
	case *ReturnStmt:
		v, err := m.eval(ts, s.Expr)
		if err != nil {
			return nil, nil, err
		}
		return &scriptReturn{value: v}, nil, nil
	case *RaiseStmt:
		msgV, err := m.eval(ts, s.Message)
		if err != nil {
			return nil, nil, err
		}
		msg := fmt.Sprintf("%v", msgV)
		f := ts.top()
		if ts.trace != nil {
			info := exceptionInfoFor(s.Type, msg)
			action := ts.trace(interp.EventException, f, &info)
			if action == interp.ActionDetachTracing {
				ts.detach = true
			}
		}
		return nil, &scriptRaise{typeName: s.Type, message: msg}, nil
	case *FuncDef:
		// Nested def: register into the enclosing program's function
		// table when the def statement runs; calls made before that
		// point do not find it.
		m.prog.Funcs[s.Name] = s
		return nil, nil, nil
	case *SpawnStmt:
		m.wg.Add(1)
		body := s.Body
		startLine := s.Line
		go func() {
			defer m.wg.Done()
			// allocThread fires onNewThread synchronously, so the agent
			// gets a chance to InstallTrace before body runs.
			child := m.allocThread()
			top := &frame{thread: child.id, funcName: "<module>", file: m.file, firstLine: startLine, lastLine: m.prog.LastLine, locals: newScope()}
			child.frames = []*frame{top}
			m.execBlockCatchingTop(child, body)
			m.finishThread(child)
		}()
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("script: unhandled statement %T", stmt)
	}
}

func exceptionInfoFor(typeName, msg string) interp.ExceptionInfo {
	return interp.ExceptionInfo{TypeName: typeName, Message: msg, TracebackHasNext: false}
}

func (m *Machine) finishThread(ts *threadState) {
	m.mu.Lock()
	delete(m.threads, ts.id)
	cb := m.onThreadExit
	m.mu.Unlock()
	if cb != nil {
		cb(ts.id)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return false
	}
}

func formatPrintValue(v any) string {
	switch x := v.(type) {
	case float64:
		return formatNumber(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func (m *Machine) eval(ts *threadState, e Expr) (any, error) {
	switch x := e.(type) {
	case *NumberLit:
		return x.Val, nil
	case *StringLit:
		return x.Val, nil
	case *Ident:
		for f := ts.top(); f != nil; f = f.caller {
			if v, ok := f.locals.get(x.Name); ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("script: line %d: undefined name %q", x.Line, x.Name)
	case *BinOp:
		return m.evalBinOp(ts, x)
	case *Call:
		return m.evalCall(ts, x)
	default:
		return nil, fmt.Errorf("script: unhandled expression %T", e)
	}
}

func (m *Machine) evalBinOp(ts *threadState, b *BinOp) (any, error) {
	l, err := m.eval(ts, b.L)
	if err != nil {
		return nil, err
	}
	r, err := m.eval(ts, b.R)
	if err != nil {
		return nil, err
	}
	lf, lok := l.(float64)
	rf, rok := r.(float64)
	if lok && rok {
		switch b.Op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("script: line %d: division by zero", b.Line)
			}
			return lf / rf, nil
		case "==":
			return boolNum(lf == rf), nil
		case "!=":
			return boolNum(lf != rf), nil
		case "<":
			return boolNum(lf < rf), nil
		case ">":
			return boolNum(lf > rf), nil
		case "<=":
			return boolNum(lf <= rf), nil
		case ">=":
			return boolNum(lf >= rf), nil
		}
	}
	if b.Op == "+" {
		return fmt.Sprintf("%v%v", l, r), nil
	}
	return nil, fmt.Errorf("script: line %d: unsupported operand types for %s", b.Line, b.Op)
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Machine) evalCall(ts *threadState, c *Call) (any, error) {
	fd, ok := m.prog.Funcs[c.Func]
	if !ok {
		return nil, fmt.Errorf("script: line %d: undefined function %q", c.Line, c.Func)
	}
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := m.eval(ts, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	sc := newScope()
	for i, p := range fd.Params {
		if i < len(args) {
			sc.set(p, args[i])
		}
	}
	callee := &frame{
		thread:    ts.id,
		funcName:  fd.Name,
		file:      m.file,
		firstLine: fd.FirstLine,
		lastLine:  fd.LastLine,
		curLine:   fd.FirstLine,
		argCount:  len(fd.Params),
		locals:    sc,
		caller:    ts.top(),
	}
	ts.frames = append(ts.frames, callee)
	if ts.trace != nil {
		ts.trace(interp.EventCall, callee, nil)
	}
	ret, raise, err := m.execBlock(ts, fd.Body)
	if ts.trace != nil {
		ts.trace(interp.EventReturn, callee, nil)
	}
	ts.frames = ts.frames[:len(ts.frames)-1]
	if err != nil {
		return nil, err
	}
	if raise != nil {
		return nil, raise
	}
	if ret != nil {
		return ret.value, nil
	}
	return float64(0), nil
}

// InstallTrace implements interp.Adapter.
func (m *Machine) InstallTrace(tid interp.ThreadID, fn interp.TraceFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.threads[tid]
	if !ok {
		return fmt.Errorf("script: unknown thread %d", tid)
	}
	ts.trace = fn
	return nil
}

// UninstallTrace implements interp.Adapter.
func (m *Machine) UninstallTrace(tid interp.ThreadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.threads[tid]
	if !ok {
		return fmt.Errorf("script: unknown thread %d", tid)
	}
	ts.trace = nil
	return nil
}

// CaptureFrame implements interp.Adapter. It is only safe to call while
// tid's trace callback is on the stack (i.e. the thread is blocked
// inside a trace event), since nothing else pauses script execution.
func (m *Machine) CaptureFrame(tid interp.ThreadID) (interp.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.threads[tid]
	if !ok {
		return nil, false
	}
	f := ts.top()
	if f == nil {
		return nil, false
	}
	return f, true
}

// EvaluateInFrame implements interp.Adapter. It tries expression syntax
// first and falls back to running code as a statement block against
// f's locals, matching the fallback §4.3 describes for the real
// runtime.
func (m *Machine) EvaluateInFrame(f interp.Frame, code string) (interp.Value, error) {
	fr, ok := f.(*frame)
	if !ok {
		return interp.Value{}, fmt.Errorf("script: frame not owned by this adapter")
	}
	ts := &threadState{id: fr.thread, frames: []*frame{fr}}
	if expr, err := ParseExpr(code); err == nil {
		v, err := m.eval(ts, expr)
		if err != nil {
			return interp.Value{}, err
		}
		return toInterpValue(v), nil
	}
	prog, err := Parse(code)
	if err != nil {
		return interp.Value{}, fmt.Errorf("script: cannot evaluate %q: %w", code, err)
	}
	if _, raise, err := m.execBlock(ts, prog.Stmts); err != nil {
		return interp.Value{}, err
	} else if raise != nil {
		return interp.Value{}, raise
	}
	return interp.Value{Repr: "None", TypeName: "none"}, nil
}

// MutateLocals implements interp.Adapter. The script interpreter writes
// assignments straight into the frame's scope as they execute, so
// nothing further needs to happen here.
func (m *Machine) MutateLocals(f interp.Frame) error { return nil }

// SetFrameLine implements interp.Adapter. A tree-walking interpreter
// has no instruction pointer to rewind, so only within-statement
// requests (the no-op case) are honored; anything else is rejected and
// the frame's current line is reported unchanged.
func (m *Machine) SetFrameLine(f interp.Frame, line int) (int, error) {
	fr, ok := f.(*frame)
	if !ok {
		return f.Line(), fmt.Errorf("script: frame not owned by this adapter")
	}
	if line == fr.curLine {
		return fr.curLine, nil
	}
	return fr.curLine, fmt.Errorf("script: line %d rejected, cannot rewind a running statement", line)
}

// InterceptThreadStart implements interp.Adapter.
func (m *Machine) InterceptThreadStart(fn func(interp.ThreadID)) {
	m.mu.Lock()
	m.onNewThread = fn
	m.mu.Unlock()
}

// InterceptThreadExit implements interp.Adapter.
func (m *Machine) InterceptThreadExit(fn func(interp.ThreadID)) {
	m.mu.Lock()
	m.onThreadExit = fn
	m.mu.Unlock()
}
