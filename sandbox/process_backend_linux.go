//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/BaSui01/codexec/types"
)

// ProcessBackend runs code through an external interpreter in its own
// process group with hard OS resource limits (RLIMIT_AS, RLIMIT_CPU).
// This is the reference isolation mode: runaway code is killed at the
// kernel level and cannot outlive the call. The workspace and tool
// bindings of the interpreter mode are not bridged into the child;
// this backend covers plain computation.
type ProcessBackend struct {
	interpreter string
	args        []string
	logger      *zap.Logger
}

// NewProcessBackend creates the OS-process backend. interpreter is the
// executable that receives the code file as its last argument, e.g.
// "node".
func NewProcessBackend(interpreter string, args []string, logger *zap.Logger) *ProcessBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessBackend{
		interpreter: interpreter,
		args:        args,
		logger:      logger.With(zap.String("backend", "process")),
	}
}

func (b *ProcessBackend) Name() string { return "process" }

func (b *ProcessBackend) Close() error { return nil }

func (b *ProcessBackend) Execute(ctx context.Context, req *Request) (*RawResult, error) {
	dir, err := os.MkdirTemp("", "codexec-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	codePath := filepath.Join(dir, "agent.js")
	if err := os.WriteFile(codePath, []byte(req.Code), 0o600); err != nil {
		return nil, fmt.Errorf("write code file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Limits.Timeout)
	defer cancel()

	args := append(append([]string{}, b.args...), codePath)
	cmd := exec.Command(b.interpreter, args...)
	cmd.Dir = dir
	cmd.Env = []string{} // no host environment, no credentials
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newBoundedWriter(&stdout, req.Limits.MaxOutputBytes)
	cmd.Stderr = newBoundedWriter(&stderr, req.Limits.MaxOutputBytes)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start interpreter: %w", err)
	}
	pid := cmd.Process.Pid
	b.applyRlimits(pid, req.Limits)

	timedOut := false
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		timedOut = true
		// Kill the whole process group so children die with the parent.
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		waitErr = <-done
	}

	result := &RawResult{State: types.StateCompleted, Stdout: stdout.String()}
	switch {
	case timedOut:
		// Partial output before forced termination is discarded.
		return &RawResult{State: types.StateTimedOut, ErrMsg: "execution exceeded the wall-clock timeout"}, nil
	case waitErr == nil:
		return result, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				switch status.Signal() {
				case syscall.SIGXCPU, syscall.SIGKILL:
					return &RawResult{State: types.StateResourceExceeded, ErrMsg: "execution exceeded a resource limit"}, nil
				}
			}
			return &RawResult{
				State:  types.StateErrored,
				Stdout: stdout.String(),
				ErrMsg: sanitizeGuestError(stderr.String()),
			}, nil
		}
		return nil, fmt.Errorf("wait for interpreter: %w", waitErr)
	}
}

// applyRlimits sets hard kernel limits on the child. Failures are
// logged, not fatal: the wall-clock kill still bounds the run.
func (b *ProcessBackend) applyRlimits(pid int, limits Limits) {
	if limits.MaxMemoryBytes > 0 {
		mem := uint64(limits.MaxMemoryBytes)
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: mem, Max: mem}, nil); err != nil {
			b.logger.Warn("set RLIMIT_AS failed", zap.Error(err))
		}
	}
	if limits.CPUSeconds > 0 {
		cpu := uint64(limits.CPUSeconds)
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu}, nil); err != nil {
			b.logger.Warn("set RLIMIT_CPU failed", zap.Error(err))
		}
	}
}

// boundedWriter caps how much child output is buffered; the rest is
// dropped silently here and surfaced as truncation by the optimizer.
type boundedWriter struct {
	dst *bytes.Buffer
	max int
}

func newBoundedWriter(dst *bytes.Buffer, max int) *boundedWriter {
	return &boundedWriter{dst: dst, max: max}
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if remaining := w.max - w.dst.Len(); remaining > 0 {
		if len(p) > remaining {
			w.dst.Write(p[:remaining])
		} else {
			w.dst.Write(p)
		}
	}
	return len(p), nil
}
