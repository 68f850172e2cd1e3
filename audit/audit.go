// Package audit records execution and security events as structured,
// append-only records. Records are sanitized at the source: no
// credentials, no raw host paths. The in-memory ring supports queries;
// the zap sink makes every record ship-ready as a structured log line.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/codexec/types"
)

// Kind classifies an audit record.
type Kind string

const (
	KindExecution Kind = "execution"
	KindViolation Kind = "security_violation"
	KindSession   Kind = "session"
)

// Record is one append-only audit entry.
type Record struct {
	Timestamp    time.Time                `json:"timestamp"`
	Kind         Kind                     `json:"kind"`
	SessionToken string                   `json:"session_token,omitempty"`
	State        types.ExecutionState     `json:"state,omitempty"`
	Success      bool                     `json:"success"`
	Duration     time.Duration            `json:"duration,omitempty"`
	TokenSavings float64                  `json:"token_savings,omitempty"`
	Violation    *types.SecurityViolation `json:"violation,omitempty"`
	Note         string                   `json:"note,omitempty"`
}

// Trail is a bounded append-only audit trail.
type Trail struct {
	mu      sync.RWMutex
	records []Record
	start   int
	count   int
	logger  *zap.Logger
}

// NewTrail creates a trail keeping at most capacity records in memory.
// Older records age out of the ring but have already been emitted to
// the log sink.
func NewTrail(capacity int, logger *zap.Logger) *Trail {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{
		records: make([]Record, capacity),
		logger:  logger.With(zap.String("component", "audit")),
	}
}

// Append records one event.
func (t *Trail) Append(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	idx := (t.start + t.count) % len(t.records)
	if t.count == len(t.records) {
		t.start = (t.start + 1) % len(t.records)
	} else {
		t.count++
	}
	t.records[idx] = r
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("kind", string(r.Kind)),
		zap.String("session", r.SessionToken),
		zap.Bool("success", r.Success),
	}
	if r.Duration > 0 {
		fields = append(fields, zap.Duration("duration", r.Duration))
	}
	if r.TokenSavings > 0 {
		fields = append(fields, zap.Float64("token_savings", r.TokenSavings))
	}
	if r.Violation != nil {
		fields = append(fields, zap.String("violation_kind", string(r.Violation.Kind)))
	}
	t.logger.Info("audit", fields...)
}

// Records returns a snapshot of the retained records, oldest first.
func (t *Trail) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, t.count)
	for i := 0; i < t.count; i++ {
		out = append(out, t.records[(t.start+i)%len(t.records)])
	}
	return out
}

// ByKind returns retained records of one kind, oldest first.
func (t *Trail) ByKind(kind Kind) []Record {
	var out []Record
	for _, r := range t.Records() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Violations returns the retained security violations, oldest first.
func (t *Trail) Violations() []types.SecurityViolation {
	var out []types.SecurityViolation
	for _, r := range t.ByKind(KindViolation) {
		if r.Violation != nil {
			out = append(out, *r.Violation)
		}
	}
	return out
}
