/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package runner starts external programs (the editor, user scripts, butler) and
// supervises them: output is teed and tailed, progress is polled, and a cancel
// kills the whole process tree.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	applog "unideploy/internal/log"
)

// TailSize bounds the output kept in Result.Output.
const TailSize = 64 << 10

// ErrStopped is returned when the progress callback asked to cancel.
var ErrStopped = errors.New("stopped by user")

// Spec describes one process to run.
type Spec struct {
	Name    string // label for progress and logs
	Path    string
	Args    []string
	Dir     string
	Env     []string // added to the current environment
	Stdout  io.Writer
	Stderr  io.Writer
	Timeout time.Duration
}

// Progress is passed to the callback on every poll.
type Progress struct {
	Name    string
	Elapsed time.Duration
	Status  Status
}

// ProgressFunc returns false to cancel the process.
type ProgressFunc func(Progress) bool

// Result is the outcome of Run.
type Result struct {
	ExitCode int
	Duration time.Duration
	Status   Status
	Output   string // last TailSize bytes of stdout+stderr
}

// ExitError reports a non-zero exit code.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
}

// Runner runs external processes.
type Runner interface {
	Run(ctx context.Context, spec Spec, onProgress ProgressFunc) (Result, error)
}

// Func adapts a function to Runner.
type Func func(ctx context.Context, spec Spec, onProgress ProgressFunc) (Result, error)

func (f Func) Run(ctx context.Context, spec Spec, onProgress ProgressFunc) (Result, error) {
	return f(ctx, spec, onProgress)
}

// Local runs processes on this machine.
type Local struct {
	Poll time.Duration
}

// New returns a Local runner polling every 100ms.
func New() *Local { return &Local{Poll: 100 * time.Millisecond} }

// Run starts spec and blocks until it exits or is cancelled.
func (l *Local) Run(ctx context.Context, spec Spec, onProgress ProgressFunc) (Result, error) {
	if spec.Name == "" {
		spec.Name = spec.Path
	}
	logger := applog.WithComponent("runner").With("proc", spec.Name)
	poll := l.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if spec.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, spec.Timeout)
		defer cancelTimeout()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tail := &tailBuffer{max: TailSize}
	cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = teeTo(tail, spec.Stdout)
	cmd.Stderr = teeTo(tail, spec.Stderr)
	cmd.Cancel = func() error { return killTree(cmd.Process.Pid) }
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	notify := func(st Status) bool {
		if onProgress == nil {
			return true
		}
		return onProgress(Progress{Name: spec.Name, Elapsed: time.Since(start), Status: st})
	}
	notify(StatusStarting)
	logger.InfoContext(ctx, "starting", "path", spec.Path, "args", spec.Args)
	if err := cmd.Start(); err != nil {
		res := Result{ExitCode: -1, Status: StatusError, Duration: time.Since(start)}
		notify(StatusError)
		return res, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	status := StatusRunning
	stopped := false
	var waitErr error
wait:
	for {
		select {
		case waitErr = <-done:
			break wait
		case <-ticker.C:
			if status == StatusRunning && !notify(StatusRunning) {
				logger.InfoContext(ctx, "cancel requested")
				status, stopped = StatusStopping, true
				notify(status)
				cancel()
			}
		}
	}

	res := Result{Duration: time.Since(start), Output: tail.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	var err error
	switch {
	case stopped:
		res.Status = StatusStopped
		err = fmt.Errorf("%s: %w", spec.Name, ErrStopped)
	case ctx.Err() != nil:
		res.Status = StatusStopped
		err = fmt.Errorf("%s: %w", spec.Name, ctx.Err())
	case waitErr != nil:
		res.Status = StatusError
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			err = &ExitError{Name: spec.Name, Code: ee.ExitCode()}
		} else {
			err = fmt.Errorf("wait %s: %w", spec.Name, waitErr)
		}
	default:
		res.Status = StatusCompleted
	}
	notify(res.Status)
	logger.InfoContext(ctx, "finished", "status", res.Status, "exit", res.ExitCode, "dur", res.Duration.Round(time.Millisecond))
	return res, err
}

func teeTo(tail io.Writer, w io.Writer) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(tail, w)
}

// killTree kills pid and all of its descendants, children first.
func killTree(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return os.ErrProcessDone
	}
	killProcess(p)
	return nil
}

func killProcess(p *process.Process) {
	if children, err := p.Children(); err == nil {
		for _, c := range children {
			killProcess(c)
		}
	}
	_ = p.Kill()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
