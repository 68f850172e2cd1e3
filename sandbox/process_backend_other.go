//go:build !linux

package sandbox

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ProcessBackend requires Linux prlimit support. On other platforms it
// reports an infrastructure failure instead of silently substituting a
// weaker mode.
type ProcessBackend struct {
	logger *zap.Logger
}

func NewProcessBackend(interpreter string, args []string, logger *zap.Logger) *ProcessBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessBackend{logger: logger}
}

func (b *ProcessBackend) Name() string { return "process" }

func (b *ProcessBackend) Close() error { return nil }

func (b *ProcessBackend) Execute(ctx context.Context, req *Request) (*RawResult, error) {
	return nil, errors.New("process backend is only supported on linux")
}
