// Package sandbox runs validated agent code under resource isolation.
// Two backends are provided: GojaBackend builds a capability-based
// interpreter context from an explicit allow-list of primitives, and
// ProcessBackend delegates to an external interpreter under OS-level
// rlimits. The interpreter mode is the default; the process mode is
// the reference for hard resource enforcement.
package sandbox

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/codexec/types"
)

// ExecutorStats tracks execution statistics.
type ExecutorStats struct {
	TotalExecutions    int64         `json:"total_executions"`
	SuccessExecutions  int64         `json:"success_executions"`
	FailedExecutions   int64         `json:"failed_executions"`
	TimeoutExecutions  int64         `json:"timeout_executions"`
	ResourceExecutions int64         `json:"resource_executions"`
	TotalDuration      time.Duration `json:"total_duration"`
}

// Executor drives a backend, clamps per-request limits against the
// configured maxima, and keeps stats.
type Executor struct {
	limits  Limits
	maxima  Limits
	backend Backend
	logger  *zap.Logger
	mu      sync.Mutex
	stats   ExecutorStats
}

// NewExecutor creates an executor. limits are the per-execution
// defaults; maxima bound any per-request overrides.
func NewExecutor(limits, maxima Limits, backend Backend, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		limits:  limits,
		maxima:  maxima,
		backend: backend,
		logger:  logger.With(zap.String("component", "sandbox")),
	}
}

// ClampLimits applies per-request overrides bounded by the configured
// maxima. Zero overrides keep the defaults.
func (e *Executor) ClampLimits(timeout time.Duration, maxMemoryMB int) Limits {
	limits := e.limits
	if timeout > 0 {
		limits.Timeout = min(timeout, e.maxima.Timeout)
	}
	if maxMemoryMB > 0 {
		limits.MaxMemoryBytes = min(int64(maxMemoryMB)*1024*1024, e.maxima.MaxMemoryBytes)
	}
	return limits
}

// Execute runs one request through the backend. The returned RawResult
// always carries a terminal state; a non-nil error means the isolation
// backend itself failed (infrastructure class, retryable).
func (e *Executor) Execute(ctx context.Context, req *Request) (*RawResult, error) {
	start := time.Now()
	if req.Limits == (Limits{}) {
		req.Limits = e.limits
	}

	e.logger.Debug("executing code",
		zap.String("backend", e.backend.Name()),
		zap.Int("code_bytes", len(req.Code)),
		zap.Duration("timeout", req.Limits.Timeout))

	result, err := e.backend.Execute(ctx, req)

	e.mu.Lock()
	e.stats.TotalExecutions++
	e.stats.TotalDuration += time.Since(start)
	switch {
	case err != nil:
		e.stats.FailedExecutions++
	case result.State == types.StateCompleted:
		e.stats.SuccessExecutions++
	case result.State == types.StateTimedOut:
		e.stats.TimeoutExecutions++
	case result.State == types.StateResourceExceeded:
		e.stats.ResourceExecutions++
	default:
		e.stats.FailedExecutions++
	}
	e.mu.Unlock()

	if err != nil {
		return nil, types.NewError(types.ErrInfrastructure, "execution backend failed").
			WithRetryable(true).WithCause(err)
	}

	// Hard cap on what leaves the backend, before optimization.
	result.Stdout = truncateUTF8(result.Stdout, req.Limits.MaxOutputBytes)
	result.Value = truncateUTF8(result.Value, req.Limits.MaxOutputBytes)
	return result, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Stats returns a copy of the execution statistics.
func (e *Executor) Stats() ExecutorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close releases backend resources.
func (e *Executor) Close() error {
	return e.backend.Close()
}
