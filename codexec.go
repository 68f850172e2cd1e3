// Package codexec executes model-written code against a catalog of
// registered tools instead of exposing the tools one call at a time.
// The orchestrator validates submitted code, runs it in an isolated
// sandbox with a session-scoped virtual workspace, mediates tool
// invocations host-side, and bounds what returns to the caller's
// context window.
package codexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/codexec/audit"
	"github.com/BaSui01/codexec/config"
	"github.com/BaSui01/codexec/internal/metrics"
	"github.com/BaSui01/codexec/optimizer"
	"github.com/BaSui01/codexec/sandbox"
	"github.com/BaSui01/codexec/security"
	"github.com/BaSui01/codexec/session"
	"github.com/BaSui01/codexec/toolfs"
	"github.com/BaSui01/codexec/types"
)

// Orchestrator is the subsystem facade. It owns the tool registry, the
// session manager, the validator, the sandbox executor, the output
// optimizer, and the audit trail, and is safe for concurrent use.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *toolfs.Registry
	validator *security.Validator
	executor  *sandbox.Executor
	optimizer *optimizer.Optimizer
	sessions  *session.Manager
	trail     *audit.Trail
	metrics   *metrics.Collector
	sem       *semaphore.Weighted
}

// New creates an orchestrator from the given options. With no options
// it uses the default configuration and the interpreter backend.
func New(opts ...Option) (*Orchestrator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = newLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	backend := o.backend
	if backend == nil {
		switch cfg.Sandbox.Backend {
		case "process":
			backend = sandbox.NewProcessBackend(cfg.Sandbox.Interpreter, nil, logger)
		default:
			backend = sandbox.NewGojaBackend(logger)
		}
	}

	limits := sandbox.Limits{
		Timeout:        cfg.Sandbox.Timeout,
		MaxMemoryBytes: int64(cfg.Sandbox.MemoryLimitMB) * 1024 * 1024,
		CPUSeconds:     cfg.Sandbox.CPUSeconds,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		MaxToolCalls:   cfg.Sandbox.MaxToolCalls,
	}
	maxima := limits
	maxima.Timeout = cfg.Sandbox.MaxTimeout
	maxima.MaxMemoryBytes = int64(cfg.Sandbox.MaxMemoryMB) * 1024 * 1024

	registry := toolfs.NewRegistry(logger)
	sessions := session.NewManager(session.Config{
		TTL:       cfg.Session.TTL,
		RateRPS:   cfg.Session.RateRPS,
		RateBurst: cfg.Session.RateBurst,
	}, registry.Mount, logger)

	reg := o.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	concurrent := cfg.Sandbox.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}

	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		validator: security.NewValidator(security.Config{
			ExtraDeniedIdentifiers: cfg.Security.ExtraDeniedGlobals,
			MaxCodeBytes:           cfg.Security.MaxCodeBytes,
		}, logger),
		registry:  registry,
		executor:  sandbox.NewExecutor(limits, maxima, backend, logger),
		optimizer: optimizer.New(o.tokenizer, logger),
		sessions:  sessions,
		trail:     audit.NewTrail(1024, logger),
		metrics:   metrics.NewCollector("codexec", reg, logger),
		sem:       semaphore.NewWeighted(int64(concurrent)),
	}, nil
}

// InitializeTools registers tool descriptors. Registration is
// per-descriptor: an invalid descriptor is rejected and reported
// without affecting the others. Returns the number registered and one
// error per rejected descriptor.
func (o *Orchestrator) InitializeTools(tools []types.ToolDescriptor) (int, []error) {
	registered := 0
	var errs []error
	for _, d := range tools {
		if err := o.registry.Register(d); err != nil {
			errs = append(errs, err)
			continue
		}
		registered++
	}
	o.logger.Info("tools initialized",
		zap.Int("registered", registered),
		zap.Int("rejected", len(errs)))
	return registered, errs
}

// CreateSession allocates a fresh isolated session with the tool stub
// tree mounted, returning its capability token.
func (o *Orchestrator) CreateSession() (string, error) {
	s, err := o.sessions.Create()
	if err != nil {
		return "", err
	}
	o.metrics.SetActiveSessions(o.sessions.Len())
	o.trail.Append(audit.Record{Kind: audit.KindSession, SessionToken: s.Token, Success: true, Note: "created"})
	return s.Token, nil
}

// ResetSession clears a session's workspace back to its
// post-initialization state and restarts its TTL.
func (o *Orchestrator) ResetSession(token string) error {
	if err := o.sessions.Reset(token); err != nil {
		return err
	}
	o.trail.Append(audit.Record{Kind: audit.KindSession, SessionToken: token, Success: true, Note: "reset"})
	return nil
}

// CloseSession destroys a session and its workspace.
func (o *Orchestrator) CloseSession(token string) error {
	if err := o.sessions.Close(token); err != nil {
		return err
	}
	o.metrics.SetActiveSessions(o.sessions.Len())
	o.trail.Append(audit.Record{Kind: audit.KindSession, SessionToken: token, Success: true, Note: "closed"})
	return nil
}

// ExecuteAgentCode validates and runs one code submission inside the
// named session. The returned result is terminal, sanitized, and
// bounded by the output token budget. An error return means the
// request never started: unknown session, rate limit, cancellation,
// or an infrastructure failure (the only retryable class).
func (o *Orchestrator) ExecuteAgentCode(ctx context.Context, req types.ExecutionRequest) (*types.ExecutionResult, error) {
	sess, err := o.sessions.Get(req.SessionToken)
	if err != nil {
		return nil, err
	}
	if sess.Limiter != nil && !sess.Limiter.Allow() {
		return nil, types.NewError(types.ErrRateLimited, "session rate limit exceeded").WithRetryable(true)
	}

	start := time.Now()

	vr := o.validator.Validate(req.Code, req.Language)
	if !vr.Allowed {
		return o.reject(sess.Token, vr.Violations, start), nil
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, types.NewError(types.ErrInfrastructure, "execution canceled while queued").
			WithRetryable(true).WithCause(err)
	}
	defer o.sem.Release(1)

	// Executions within one session never interleave.
	sess.Lock()
	defer sess.Unlock()

	raw, err := o.executor.Execute(ctx, &sandbox.Request{
		Code:      req.Code,
		Workspace: sess.Workspace,
		Tools:     o.registry,
		Limits:    o.executor.ClampLimits(req.Timeout, req.MaxMemoryMB),
	})
	if err != nil {
		o.trail.Append(audit.Record{
			Kind:         audit.KindExecution,
			SessionToken: sess.Token,
			State:        types.StateErrored,
			Duration:     time.Since(start),
		})
		return nil, err
	}

	opt := o.optimizer.Optimize(combineOutput(raw), optimizer.Policy{
		Strategy:   o.cfg.Optimizer.Strategy,
		MaxTokens:  o.cfg.Optimizer.MaxOutputTokens,
		SampleHead: o.cfg.Optimizer.SampleHead,
		SampleTail: o.cfg.Optimizer.SampleTail,
	})

	result := &types.ExecutionResult{
		Success: raw.State == types.StateCompleted,
		State:   raw.State,
		Payload: opt.Payload,
		Metrics: types.ExecutionMetrics{
			Duration:          time.Since(start),
			MemoryPeakBytes:   raw.MemoryPeakBytes,
			ToolCalls:         raw.ToolCalls,
			TokensBefore:      opt.Metrics.TokensBefore,
			TokensAfter:       opt.Metrics.TokensAfter,
			TokenSavingsRatio: opt.Metrics.SavingsRatio,
		},
	}
	if !result.Success {
		result.Error = raw.ErrMsg
		result.ErrorCode = errorCodeForState(raw.State)
	}

	o.metrics.RecordExecution(raw.State, result.Metrics.Duration, result.Metrics)
	o.trail.Append(audit.Record{
		Kind:         audit.KindExecution,
		SessionToken: sess.Token,
		State:        raw.State,
		Success:      result.Success,
		Duration:     result.Metrics.Duration,
		TokenSavings: result.Metrics.TokenSavingsRatio,
	})
	return result, nil
}

// Stats returns cumulative execution statistics.
func (o *Orchestrator) Stats() sandbox.ExecutorStats {
	return o.executor.Stats()
}

// Audit returns the audit trail for queries.
func (o *Orchestrator) Audit() *audit.Trail {
	return o.trail
}

// Registry exposes the tool registry, e.g. for direct host-side
// invocation or token accounting.
func (o *Orchestrator) Registry() *toolfs.Registry {
	return o.registry
}

// Close releases backend resources.
func (o *Orchestrator) Close() error {
	return o.executor.Close()
}

// reject builds the terminal result for a failed validation. One
// rejection produces exactly one violation audit record, carrying the
// first violation; metrics still count every kind found. Rejected code
// never reaches a sandbox backend.
func (o *Orchestrator) reject(token string, violations []types.SecurityViolation, start time.Time) *types.ExecutionResult {
	details := make([]string, 0, len(violations))
	for _, v := range violations {
		details = append(details, v.Detail)
		o.metrics.RecordViolation(v.Kind)
	}
	primary := violations[0]
	primary.SessionToken = token
	o.trail.Append(audit.Record{
		Kind:         audit.KindViolation,
		SessionToken: token,
		State:        types.StateRejected,
		Violation:    &primary,
		Note:         fmt.Sprintf("%d violations", len(violations)),
	})
	duration := time.Since(start)
	o.metrics.RecordExecution(types.StateRejected, duration, types.ExecutionMetrics{})
	return &types.ExecutionResult{
		State:     types.StateRejected,
		Error:     "code rejected by security validation: " + strings.Join(details, "; "),
		ErrorCode: types.ErrSecurityViolation,
		Metrics:   types.ExecutionMetrics{Duration: duration},
	}
}

// combineOutput merges captured console output and the final expression
// value into one payload.
func combineOutput(raw *sandbox.RawResult) string {
	switch {
	case raw.Stdout == "":
		return raw.Value
	case raw.Value == "":
		return raw.Stdout
	default:
		return raw.Stdout + "\n" + raw.Value
	}
}

func errorCodeForState(state types.ExecutionState) types.ErrorCode {
	switch state {
	case types.StateTimedOut:
		return types.ErrTimedOut
	case types.StateResourceExceeded:
		return types.ErrResourceExceeded
	default:
		return types.ErrExecution
	}
}
