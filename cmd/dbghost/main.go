// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The dbghost command is the debugger-host CLI: it launches (or
// attaches to) a scriptrun debuggee and drives it through an
// interactive console backed by package host's object model (§4.8).
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/host"
	"github.com/nmichaud/rdebug/launch"
	"github.com/nmichaud/rdebug/wire"
)

func main() {
	var (
		addr             string
		interpreter      string
		waitOnException  bool
		waitOnExit       bool
		debugStdlib      bool
		redirectOutput   bool
		attach           bool
	)

	root := &cobra.Command{
		Use:   "dbghost",
		Short: "launches and drives a scriptrun debuggee over the remote debugging protocol",
	}

	launchCmd := &cobra.Command{
		Use:   "launch <script> [-- target-args...]",
		Short: "launch a .script debuggee and open an interactive console",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync()

			mgr := host.NewManager(log)
			if err := mgr.Listen(addr); err != nil {
				return fmt.Errorf("dbghost: %w", err)
			}
			defer mgr.Close()

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			proc, err := launch.Launch(mgr, launch.Options{
				Interpreter:     interpreter,
				ScriptPath:      args[0],
				Args:            args[1:],
				Dir:             cwd,
				Attach:          attach,
				WaitOnException: waitOnException,
				WaitOnExit:      waitOnExit,
				DebugStdlib:     debugStdlib,
				RedirectOutput:  redirectOutput,
			})
			if err != nil {
				return fmt.Errorf("dbghost: %w", err)
			}
			proc.AddObserver(&consoleObserver{log: log})

			return runConsole(proc, log)
		},
	}
	launchCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "address to listen for the debuggee's connection on")
	launchCmd.Flags().StringVar(&interpreter, "interpreter", "scriptrun", "path to the scriptrun binary")
	launchCmd.Flags().BoolVar(&waitOnException, "wait-on-exception", false, "block a thread after it reports an exception until the host resumes it")
	launchCmd.Flags().BoolVar(&waitOnExit, "wait-on-exit", false, "keep the debuggee's dispatcher alive after its main thread exits")
	launchCmd.Flags().BoolVar(&debugStdlib, "debug-stdlib", false, "trace standard-library frames too")
	launchCmd.Flags().BoolVar(&redirectOutput, "redirect-output", false, "capture the debuggee's output as OUTP events")
	launchCmd.Flags().BoolVar(&attach, "attach", false, "wait for an already-running debuggee instead of spawning one")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "listen for an attach-mode debuggee and print its correlation id and address",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync()

			mgr := host.NewManager(log)
			if err := mgr.Listen(addr); err != nil {
				return fmt.Errorf("dbghost: %w", err)
			}
			defer mgr.Close()

			proc, err := launch.Launch(mgr, launch.Options{Attach: true})
			if err != nil {
				return fmt.Errorf("dbghost: %w", err)
			}
			proc.AddObserver(&consoleObserver{log: log})
			fmt.Printf("listening on %s, correlation id %s\n", mgr.Addr(), proc.ID)

			return runConsole(proc, log)
		},
	}
	listenCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "address to listen on")

	root.AddCommand(launchCmd, listenCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// consoleObserver prints protocol-driven state transitions to the
// console as they arrive (§4.7).
type consoleObserver struct {
	host.NopObserver
	log *zap.Logger
}

func (c *consoleObserver) ProcessLoaded(p *host.Process) {
	fmt.Println("process loaded")
}

func (c *consoleObserver) ThreadCreated(p *host.Process, t *host.Thread) {
	fmt.Printf("thread %d created (%s)\n", t.ID, t.Name)
}

func (c *consoleObserver) ThreadExited(p *host.Process, threadID int64) {
	fmt.Printf("thread %d exited\n", threadID)
}

func (c *consoleObserver) ModuleLoaded(p *host.Process, m host.Module) {
	fmt.Printf("module %d loaded: %s\n", m.ID, m.File)
}

func (c *consoleObserver) BreakpointBound(p *host.Process, id uint32) {
	fmt.Printf("breakpoint %d bound\n", id)
}

func (c *consoleObserver) BreakpointFailed(p *host.Process, id uint32) {
	fmt.Printf("breakpoint %d failed to bind\n", id)
}

func (c *consoleObserver) BreakpointHit(p *host.Process, id uint32, t *host.Thread) {
	fmt.Printf("thread %d hit breakpoint %d at line %d\n", t.ID, id, t.StoppedLine())
}

func (c *consoleObserver) StepComplete(p *host.Process, t *host.Thread) {
	fmt.Printf("thread %d stopped at line %d\n", t.ID, t.StoppedLine())
}

func (c *consoleObserver) AsyncBreakComplete(p *host.Process, t *host.Thread) {
	fmt.Printf("thread %d broke at line %d\n", t.ID, t.StoppedLine())
}

func (c *consoleObserver) ExceptionRaised(p *host.Process, t *host.Thread, name string, bt wire.BreakType, text string) {
	fmt.Printf("thread %d raised %s: %s\n", t.ID, name, text)
}

func (c *consoleObserver) Output(p *host.Process, threadID int64, text string) {
	fmt.Print(text)
}

func (c *consoleObserver) Detached(p *host.Process) {
	fmt.Println("debuggee detached")
}

// runConsole drives proc from stdin until the user quits or the
// debuggee detaches.
func runConsole(proc *host.Process, log *zap.Logger) error {
	rl, err := readline.New("(dbghost) ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := dispatchConsoleCommand(proc, fields); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func dispatchConsoleCommand(proc *host.Process, fields []string) error {
	switch fields[0] {
	case "quit", "exit":
		return errQuit

	case "threads":
		for _, t := range proc.Threads() {
			fmt.Printf("%d\t%s\tblocked=%v\n", t.ID, t.Name, t.Blocked())
		}
		return nil

	case "stepi", "stepo", "stepv":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s <thread-id>", fields[0])
		}
		tid, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		switch fields[0] {
		case "stepi":
			return proc.StepInto(tid)
		case "stepo":
			return proc.StepOut(tid)
		default:
			return proc.StepOver(tid)
		}

	case "cont":
		return proc.ResumeAll()

	case "break":
		if len(fields) < 2 {
			return fmt.Errorf("usage: break <file>:<line> [condition...]")
		}
		file, lineStr, ok := cutLast(fields[1], ":")
		if !ok {
			return fmt.Errorf("expected <file>:<line>, got %q", fields[1])
		}
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			return err
		}
		condition := strings.Join(fields[2:], " ")
		proc.AddBreakPoint(file, line, condition)
		return nil

	case "eval":
		if len(fields) < 4 {
			return fmt.Errorf("usage: eval <thread-id> <frame-id> <expr...>")
		}
		tid, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		frameID, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return err
		}
		code := strings.Join(fields[3:], " ")
		return proc.Evaluate(code, tid, uint32(frameID), wire.FrameKindNormal, func(res *host.EvaluationResult, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "eval error: %v\n", err)
				return
			}
			fmt.Printf("= %s (%s)\n", res.Repr, res.TypeName)
		})

	case "detach":
		return proc.Detach()

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

// cutLast splits s on the last occurrence of sep, for "<file>:<line>"
// where file itself may contain ':' (Windows paths, URIs).
func cutLast(s, sep string) (before, after string, ok bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}
