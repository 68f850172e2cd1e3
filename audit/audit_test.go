package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/codexec/types"
)

func TestAppendAndQuery(t *testing.T) {
	trail := NewTrail(16, nil)

	trail.Append(Record{Kind: KindExecution, SessionToken: "s1", Success: true, Duration: time.Second})
	trail.Append(Record{Kind: KindViolation, SessionToken: "s1", Violation: &types.SecurityViolation{
		Kind:   types.ViolationDynamicCode,
		Detail: "reference to restricted identifier eval",
	}})
	trail.Append(Record{Kind: KindExecution, SessionToken: "s2", Success: false})

	all := trail.Records()
	require.Len(t, all, 3)
	assert.Equal(t, "s1", all[0].SessionToken)
	assert.False(t, all[0].Timestamp.IsZero(), "timestamp is filled in on append")

	executions := trail.ByKind(KindExecution)
	assert.Len(t, executions, 2)

	violations := trail.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationDynamicCode, violations[0].Kind)
}

func TestRingBound(t *testing.T) {
	trail := NewTrail(4, nil)
	for i := 0; i < 10; i++ {
		trail.Append(Record{Kind: KindExecution, Note: fmt.Sprintf("n%d", i)})
	}

	records := trail.Records()
	require.Len(t, records, 4)
	// Oldest records aged out; the last four remain in order.
	assert.Equal(t, "n6", records[0].Note)
	assert.Equal(t, "n9", records[3].Note)
}
