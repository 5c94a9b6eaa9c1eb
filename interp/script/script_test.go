package script

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmichaud/rdebug/interp"
)

func TestRunPrintsExpression(t *testing.T) {
	m, err := New("t.script", `print(1 + 2 * 3)`)
	require.NoError(t, err)
	var out bytes.Buffer
	m.SetOutput(&out)
	require.NoError(t, m.Run())
	assert.Equal(t, "7\n", out.String())
}

func TestFunctionCallAndReturn(t *testing.T) {
	src := `
def add(a, b) {
	return a + b
}
print(add(2, 3))
`
	m, err := New("t.script", src)
	require.NoError(t, err)
	var out bytes.Buffer
	m.SetOutput(&out)
	require.NoError(t, m.Run())
	assert.Equal(t, "5\n", out.String())
}

func TestForLoopAccumulates(t *testing.T) {
	src := `
total = 0
for i = 0 to 5 {
	total = total + i
}
print(total)
`
	m, err := New("t.script", src)
	require.NoError(t, err)
	var out bytes.Buffer
	m.SetOutput(&out)
	require.NoError(t, m.Run())
	assert.Equal(t, "10\n", out.String())
}

func TestTraceCallbackSeesLineEvents(t *testing.T) {
	m, err := New("t.script", "x = 1\nprint(x)")
	require.NoError(t, err)
	var out bytes.Buffer
	m.SetOutput(&out)

	var lines []int
	m.InterceptThreadStart(func(tid interp.ThreadID) {
		err := m.InstallTrace(tid, func(ev interp.Event, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
			if ev == interp.EventLine {
				lines = append(lines, f.Line())
			}
			return interp.ActionContinueTracing
		})
		require.NoError(t, err)
	})

	require.NoError(t, m.Run())
	assert.Equal(t, []int{1, 2}, lines)
}

func TestDetachTracingStopsCallbacks(t *testing.T) {
	m, err := New("t.script", "x = 1\ny = 2\nz = 3")
	require.NoError(t, err)
	m.SetOutput(&bytes.Buffer{})

	calls := 0
	m.InterceptThreadStart(func(tid interp.ThreadID) {
		_ = m.InstallTrace(tid, func(ev interp.Event, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
			calls++
			return interp.ActionDetachTracing
		})
	})

	require.NoError(t, m.Run())
	assert.Equal(t, 1, calls)
}

func TestExceptionEventFiresAndPropagates(t *testing.T) {
	m, err := New("t.script", `raise Boom("bad thing")`)
	require.NoError(t, err)
	m.SetOutput(&bytes.Buffer{})

	var seen *interp.ExceptionInfo
	m.InterceptThreadStart(func(tid interp.ThreadID) {
		_ = m.InstallTrace(tid, func(ev interp.Event, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
			if ev == interp.EventException {
				seen = exc
			}
			return interp.ActionContinueTracing
		})
	})

	err = m.Run()
	require.Error(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "Boom", seen.TypeName)
	assert.Equal(t, "bad thing", seen.Message)
}

func TestEvaluateInFrameDuringLineEvent(t *testing.T) {
	m, err := New("t.script", "x = 41\nprint(x)")
	require.NoError(t, err)
	m.SetOutput(&bytes.Buffer{})

	var result interp.Value
	var evalErr error
	m.InterceptThreadStart(func(tid interp.ThreadID) {
		_ = m.InstallTrace(tid, func(ev interp.Event, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
			if ev == interp.EventLine && f.Line() == 2 {
				result, evalErr = m.EvaluateInFrame(f, "x + 1")
			}
			return interp.ActionContinueTracing
		})
	})

	require.NoError(t, m.Run())
	require.NoError(t, evalErr)
	assert.Equal(t, "42", result.Repr)
}

func TestSpawnCreatesVirtualThread(t *testing.T) {
	src := `
spawn {
	print("child")
}
print("parent")
`
	m, err := New("t.script", src)
	require.NoError(t, err)
	var out bytes.Buffer
	m.SetOutput(&out)

	var started []interp.ThreadID
	m.InterceptThreadStart(func(tid interp.ThreadID) {
		started = append(started, tid)
	})

	require.NoError(t, m.Run())
	assert.Len(t, started, 2, "expected one virtual thread for the module and one for the spawned block")
	assert.Contains(t, out.String(), "parent")
	assert.Contains(t, out.String(), "child")
}

func TestCallEventFrameReflectsArguments(t *testing.T) {
	src := `
def greet(name) {
	print(name)
}
greet("ogle")
`
	m, err := New("t.script", src)
	require.NoError(t, err)
	var out bytes.Buffer
	m.SetOutput(&out)

	var argCount int
	var varNames []string
	m.InterceptThreadStart(func(tid interp.ThreadID) {
		_ = m.InstallTrace(tid, func(ev interp.Event, f interp.Frame, exc *interp.ExceptionInfo) interp.Action {
			if ev == interp.EventCall && f.FuncName() == "greet" {
				argCount = f.ArgCount()
				for _, v := range f.Variables() {
					varNames = append(varNames, v.Name)
				}
			}
			return interp.ActionContinueTracing
		})
	})

	require.NoError(t, m.Run())
	assert.Equal(t, 1, argCount)
	assert.Equal(t, []string{"name"}, varNames)
}
