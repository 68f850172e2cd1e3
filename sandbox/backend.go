package sandbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/codexec/types"
	"github.com/BaSui01/codexec/vfs"
)

// Limits are the enforced resource ceilings for one execution.
type Limits struct {
	Timeout        time.Duration `json:"timeout"`
	MaxMemoryBytes int64         `json:"max_memory_bytes"`
	CPUSeconds     int           `json:"cpu_seconds"`
	MaxOutputBytes int           `json:"max_output_bytes"`
	MaxToolCalls   int           `json:"max_tool_calls"`
}

// DefaultLimits returns the documented defaults: 5s wall clock, 512MB
// memory, 5 CPU seconds.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        5 * time.Second,
		MaxMemoryBytes: 512 * 1024 * 1024,
		CPUSeconds:     5,
		MaxOutputBytes: 1024 * 1024,
		MaxToolCalls:   32,
	}
}

// ToolBridge mediates tool invocations out of the restricted execution
// context. Implementations run host-side; guest code never holds
// network access or credentials.
type ToolBridge interface {
	Invoke(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error)
}

// Request is one unit of sandboxed work, already validated.
type Request struct {
	Code      string
	Workspace *vfs.Workspace
	Tools     ToolBridge
	Limits    Limits
}

// RawResult is the pre-optimization outcome of one backend run.
type RawResult struct {
	State           types.ExecutionState
	Stdout          string
	Value           string
	ErrMsg          string
	MemoryPeakBytes int64
	ToolCalls       int
}

// Backend runs code under some isolation mechanism. Implementations
// must guarantee that a run never outlives Timeout: termination is
// forced, not cooperative.
type Backend interface {
	Execute(ctx context.Context, req *Request) (*RawResult, error)
	Name() string
	Close() error
}
