// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The scriptrun command is the debuggee entry point: it interprets a
// .script program under interp/script while reporting to a debugging
// host over the remote debugging protocol. A host launches it with
//
//	scriptrun <cwd> <port> <correlation-id> [flags] <script> [-- target-args...]
//
// matching the process start-up contract of §4.8.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/agent"
	"github.com/nmichaud/rdebug/interp/script"
)

func main() {
	var (
		waitOnException  bool
		waitOnExit       bool
		debugStdlib      bool
		suppressExitZero bool
		redirectOutput   bool
		attach           bool
	)

	root := &cobra.Command{
		Use:   "scriptrun <cwd> <port> <correlation-id> <script> [-- target-args...]",
		Short: "interpret a .script program, reporting to a remote debugging host",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, portStr, correlationID, scriptPath := args[0], args[1], args[2], args[3]

			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("scriptrun: building logger: %w", err)
			}
			defer log.Sync()

			if cwd != "" && cwd != "." {
				if err := os.Chdir(cwd); err != nil {
					return fmt.Errorf("scriptrun: chdir %s: %w", cwd, err)
				}
			}

			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("scriptrun: bad port %q: %w", portStr, err)
			}

			src, err := os.ReadFile(scriptPath)
			if err != nil {
				return fmt.Errorf("scriptrun: reading %s: %w", scriptPath, err)
			}

			m, err := script.New(scriptPath, string(src))
			if err != nil {
				return fmt.Errorf("scriptrun: parsing %s: %w", scriptPath, err)
			}

			opts := agent.Options{
				CorrelationID:          correlationID,
				Attach:                 attach,
				WaitOnException:        waitOnException,
				WaitOnExit:             waitOnExit,
				DebugStdlib:            debugStdlib,
				SuppressSystemExitZero: suppressExitZero,
			}
			a := agent.New(m, opts, log)
			if err := a.Connect(fmt.Sprintf("127.0.0.1:%d", port)); err != nil {
				return fmt.Errorf("scriptrun: %w", err)
			}
			if redirectOutput {
				m.SetOutput(newOutputForwarder(a, os.Stdout))
			}

			disp := agent.NewDispatcher(a)
			done := make(chan error, 1)
			go func() { done <- disp.Serve() }()

			if err := m.Run(); err != nil {
				log.Error("script terminated with error", zap.Error(err))
			}
			<-done
			return nil
		},
	}

	root.Flags().BoolVar(&waitOnException, "wait-on-exception", false, "block a thread after it reports an exception until the host resumes it")
	root.Flags().BoolVar(&waitOnExit, "wait-on-exit", false, "keep serving host commands after the main thread's script ends")
	root.Flags().BoolVar(&debugStdlib, "debug-stdlib", false, "install the tracer on standard-library frames too")
	root.Flags().BoolVar(&suppressExitZero, "suppress-system-exit-zero", false, "do not report a zero-status SystemExit as an exception")
	root.Flags().BoolVar(&redirectOutput, "redirect-output", false, "also report the script's printed output as OUTP events; it is still written to stdout")
	root.Flags().BoolVar(&attach, "attach", false, "break every thread on attach (only the first reports it) instead of launch-break on the first")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
