package types

import "time"

// Language represents the guest language of submitted code.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
)

// ExecutionState is the terminal (or in-flight) state of one execution.
// Transitions: Received -> Validated -> Running -> one of the terminal
// states. Rejected is terminal out of Received.
type ExecutionState string

const (
	StateReceived         ExecutionState = "received"
	StateValidated        ExecutionState = "validated"
	StateRunning          ExecutionState = "running"
	StateCompleted        ExecutionState = "completed"
	StateTimedOut         ExecutionState = "timed_out"
	StateResourceExceeded ExecutionState = "resource_exceeded"
	StateErrored          ExecutionState = "errored"
	StateRejected         ExecutionState = "rejected"
)

// Terminal reports whether the state ends an execution.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateResourceExceeded, StateErrored, StateRejected:
		return true
	}
	return false
}

// ExecutionRequest is one code-execution call. Transient: it exists only
// for the duration of the call. Override fields are clamped against the
// configured global maxima before use.
type ExecutionRequest struct {
	Code         string        `json:"code"`
	Language     Language      `json:"language"`
	SessionToken string        `json:"session_token"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	MaxMemoryMB  int           `json:"max_memory_mb,omitempty"`
}

// ExecutionMetrics carries per-execution accounting.
type ExecutionMetrics struct {
	Duration          time.Duration `json:"duration"`
	MemoryPeakBytes   int64         `json:"memory_peak_bytes,omitempty"`
	ToolCalls         int           `json:"tool_calls"`
	TokensBefore      int           `json:"tokens_before"`
	TokensAfter       int           `json:"tokens_after"`
	TokenSavingsRatio float64       `json:"token_savings_ratio"`
}

// ExecutionResult is the immutable outcome of one ExecutionRequest.
// Payload is post-optimization and context-budget-safe; Error is
// sanitized and never contains host paths or stack traces.
type ExecutionResult struct {
	Success   bool             `json:"success"`
	State     ExecutionState   `json:"state"`
	Payload   string           `json:"payload,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode ErrorCode        `json:"error_code,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
	Metrics   ExecutionMetrics `json:"metrics"`
}
