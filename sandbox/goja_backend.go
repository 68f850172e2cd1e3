package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/BaSui01/codexec/types"
)

// interrupt reasons, carried through goja.InterruptedError.
type interruptReason string

const (
	interruptTimeout  interruptReason = "timeout"
	interruptMemory   interruptReason = "memory"
	interruptCanceled interruptReason = "canceled"
)

// GojaBackend executes code in a fresh ECMAScript interpreter per run.
// Isolation is capability-based: the runtime starts with no host access
// at all, and only the allow-listed bindings (console, fs mediated by
// the session workspace, callTool mediated by the tool bridge) are
// added. This is interpreter-level isolation — weaker than the
// OS-process mode because the memory ceiling is enforced by a sampling
// watchdog on the shared heap rather than by a hard rlimit.
type GojaBackend struct {
	logger *zap.Logger
}

// NewGojaBackend creates the interpreter backend.
func NewGojaBackend(logger *zap.Logger) *GojaBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GojaBackend{logger: logger.With(zap.String("backend", "goja"))}
}

func (b *GojaBackend) Name() string { return "goja" }

func (b *GojaBackend) Close() error { return nil }

func (b *GojaBackend) Execute(ctx context.Context, req *Request) (*RawResult, error) {
	prg, err := goja.Compile("agent.js", req.Code, true)
	if err != nil {
		// Validator-passed code can still fail strict-mode compilation.
		return &RawResult{
			State:  types.StateErrored,
			ErrMsg: sanitizeGuestError(err.Error()),
		}, nil
	}

	rt := goja.New()
	rt.SetMaxCallStackSize(2048)

	run := &guestRun{backend: b, rt: rt, req: req, ctx: ctx}
	if err := run.bind(); err != nil {
		return nil, fmt.Errorf("bind capabilities: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)

	timer := time.AfterFunc(req.Limits.Timeout, func() {
		rt.Interrupt(interruptTimeout)
	})
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(interruptCanceled)
		case <-stop:
		}
	}()
	go run.memoryWatchdog(stop)

	value, runErr := rt.RunProgram(prg)

	result := &RawResult{
		State:           types.StateCompleted,
		Stdout:          run.stdout.String(),
		MemoryPeakBytes: run.memoryPeak.Load(),
		ToolCalls:       run.toolCalls,
	}
	if runErr != nil {
		// Partial output from a forcibly terminated run is discarded.
		state, msg := classifyRunError(runErr)
		return &RawResult{State: state, ErrMsg: msg, MemoryPeakBytes: run.memoryPeak.Load(), ToolCalls: run.toolCalls}, nil
	}
	result.Value = renderValue(value)
	return result, nil
}

// guestRun holds the per-execution state shared between bindings.
type guestRun struct {
	backend    *GojaBackend
	rt         *goja.Runtime
	req        *Request
	ctx        context.Context
	stdout     strings.Builder
	stdoutFull bool
	toolCalls  int

	// memoryPeak is written by the watchdog goroutine while the run is
	// still being observed, so access is atomic.
	memoryPeak atomic.Int64
}

// bind installs the allow-listed capabilities into the runtime.
func (g *guestRun) bind() error {
	console := g.rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, g.consoleWrite); err != nil {
			return err
		}
	}
	if err := g.rt.Set("console", console); err != nil {
		return err
	}

	fs := g.rt.NewObject()
	if err := fs.Set("readFile", g.fsRead); err != nil {
		return err
	}
	if err := fs.Set("writeFile", g.fsWrite); err != nil {
		return err
	}
	if err := fs.Set("listDir", g.fsList); err != nil {
		return err
	}
	if err := fs.Set("exists", g.fsExists); err != nil {
		return err
	}
	if err := g.rt.Set("fs", fs); err != nil {
		return err
	}

	return g.rt.Set("callTool", g.callTool)
}

func (g *guestRun) consoleWrite(call goja.FunctionCall) goja.Value {
	if g.stdoutFull {
		return goja.Undefined()
	}
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = renderValue(arg)
	}
	line := strings.Join(parts, " ") + "\n"
	if g.stdout.Len()+len(line) > g.req.Limits.MaxOutputBytes {
		g.stdoutFull = true
		return goja.Undefined()
	}
	g.stdout.WriteString(line)
	return goja.Undefined()
}

// throw raises a sanitized guest-visible error. Host details never
// reach the guest; workspace-relative paths are the only paths shown.
func (g *guestRun) throw(msg string) goja.Value {
	panic(g.rt.NewGoError(errors.New(msg)))
}

func (g *guestRun) fsRead(call goja.FunctionCall) goja.Value {
	p := call.Argument(0).String()
	content, err := g.req.Workspace.Read(p)
	if err != nil {
		return g.throw(fsErrorMessage(err))
	}
	return g.rt.ToValue(string(content))
}

func (g *guestRun) fsWrite(call goja.FunctionCall) goja.Value {
	p := call.Argument(0).String()
	content := call.Argument(1).String()
	if err := g.req.Workspace.Write(p, []byte(content)); err != nil {
		return g.throw(fsErrorMessage(err))
	}
	return goja.Undefined()
}

func (g *guestRun) fsList(call goja.FunctionCall) goja.Value {
	p := call.Argument(0).String()
	entries, err := g.req.Workspace.List(p)
	if err != nil {
		return g.throw(fsErrorMessage(err))
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{"name": e.Name, "path": e.Path, "isDir": e.IsDir}
	}
	return g.rt.ToValue(out)
}

func (g *guestRun) fsExists(call goja.FunctionCall) goja.Value {
	return g.rt.ToValue(g.req.Workspace.Exists(call.Argument(0).String()))
}

func (g *guestRun) callTool(call goja.FunctionCall) goja.Value {
	if g.req.Tools == nil {
		return g.throw("no tools are available in this session")
	}
	if g.toolCalls >= g.req.Limits.MaxToolCalls {
		return g.throw(fmt.Sprintf("tool call limit reached (%d)", g.req.Limits.MaxToolCalls))
	}
	g.toolCalls++

	server := call.Argument(0).String()
	tool := call.Argument(1).String()
	var args json.RawMessage
	if raw := call.Argument(2); !goja.IsUndefined(raw) && !goja.IsNull(raw) {
		encoded, err := json.Marshal(raw.Export())
		if err != nil {
			return g.throw("tool arguments are not serializable")
		}
		args = encoded
	}

	out, err := g.req.Tools.Invoke(g.ctx, server, tool, args)
	if err != nil {
		// types.Error messages are already sanitized.
		if e, ok := err.(*types.Error); ok {
			return g.throw(e.Message)
		}
		return g.throw("tool call failed: " + server + "/" + tool)
	}
	if len(out) == 0 {
		return goja.Undefined()
	}
	var decoded any
	if err := json.Unmarshal(out, &decoded); err != nil {
		return g.rt.ToValue(string(out))
	}
	return g.rt.ToValue(decoded)
}

// memoryWatchdog samples heap growth and interrupts the run when it
// exceeds the configured ceiling. Sampling on the shared Go heap is an
// approximation; the process backend is the hard-limit reference.
func (g *guestRun) memoryWatchdog(stop <-chan struct{}) {
	var base runtime.MemStats
	runtime.ReadMemStats(&base)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			grown := int64(m.HeapAlloc) - int64(base.HeapAlloc)
			if grown > g.memoryPeak.Load() {
				g.memoryPeak.Store(grown)
			}
			if g.req.Limits.MaxMemoryBytes > 0 && grown > g.req.Limits.MaxMemoryBytes {
				g.rt.Interrupt(interruptMemory)
				return
			}
		}
	}
}

// classifyRunError maps an interpreter error to a terminal state with a
// sanitized message.
func classifyRunError(err error) (types.ExecutionState, string) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch reason, _ := interrupted.Value().(interruptReason); reason {
		case interruptTimeout:
			return types.StateTimedOut, "execution exceeded the wall-clock timeout"
		case interruptMemory:
			return types.StateResourceExceeded, "execution exceeded the memory ceiling"
		case interruptCanceled:
			return types.StateTimedOut, "execution was canceled"
		default:
			return types.StateErrored, "execution was interrupted"
		}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return types.StateErrored, sanitizeGuestError(exception.Value().String())
	}
	var stackOverflow *goja.StackOverflowError
	if errors.As(err, &stackOverflow) {
		return types.StateResourceExceeded, "execution exceeded the call stack limit"
	}
	return types.StateErrored, sanitizeGuestError(err.Error())
}

// fsErrorMessage maps a workspace error to a guest-safe message that
// never echoes a resolved path.
func fsErrorMessage(err error) string {
	switch types.GetErrorCode(err) {
	case types.ErrNotFound:
		return "file not found"
	case types.ErrPathTraversal, types.ErrPermissionDenied:
		return "access denied"
	default:
		return "file operation failed"
	}
}

// sanitizeGuestError keeps the first line of a guest error and strips
// anything that looks like a host path or stack frame.
func sanitizeGuestError(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if i := strings.Index(msg, " at "); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "execution failed"
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

// renderValue turns a guest value into a display string: strings pass
// through, everything else is JSON-encoded.
func renderValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	encoded, err := json.Marshal(exported)
	if err != nil {
		return v.String()
	}
	return string(encoded)
}
