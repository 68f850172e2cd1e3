package codexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/codexec/audit"
	"github.com/BaSui01/codexec/config"
	"github.com/BaSui01/codexec/sandbox"
	"github.com/BaSui01/codexec/types"
)

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	}, opts...)
	o, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func documentTool(body string) types.ToolDescriptor {
	return types.ToolDescriptor{
		Server:      "docs",
		Name:        "getDocument",
		Description: "Fetch a document by id",
		InputSchema: json.RawMessage(`{"type":"object","required":["id"],"properties":{"id":{"type":"string"}}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			out, _ := json.Marshal(map[string]string{"text": body})
			return out, nil
		},
	}
}

func TestEndToEndTokenSavings(t *testing.T) {
	o := newTestOrchestrator(t)

	body := strings.Repeat("the quick brown fox jumps over the lazy dog ", 1200) // ~53k chars
	n, errs := o.InitializeTools([]types.ToolDescriptor{documentTool(body)})
	require.Empty(t, errs)
	require.Equal(t, 1, n)

	token, err := o.CreateSession()
	require.NoError(t, err)

	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code: `
			const doc = callTool("docs", "getDocument", {id: "report-1"});
			doc.text
		`,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, types.StateCompleted, result.State)
	assert.Equal(t, 1, result.Metrics.ToolCalls)

	// The raw document is ~13k estimated tokens; the payload crossing
	// back must fit the 1000-token budget with an explicit marker.
	assert.LessOrEqual(t, result.Metrics.TokensAfter, 1000)
	assert.GreaterOrEqual(t, result.Metrics.TokenSavingsRatio, 0.9)
	assert.Contains(t, result.Payload, "truncated")
}

func TestToolStubsDiscoverableInWorkspace(t *testing.T) {
	o := newTestOrchestrator(t)
	_, errs := o.InitializeTools([]types.ToolDescriptor{documentTool("x")})
	require.Empty(t, errs)

	token, err := o.CreateSession()
	require.NoError(t, err)

	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `fs.readFile("servers/docs/getDocument.ts")`,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Contains(t, result.Payload, "getDocument")
	assert.Contains(t, result.Payload, "export async function")
}

// spyBackend records whether any code ever reached it.
type spyBackend struct {
	mu    sync.Mutex
	calls int
}

func (s *spyBackend) Execute(ctx context.Context, req *sandbox.Request) (*sandbox.RawResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &sandbox.RawResult{State: types.StateCompleted}, nil
}
func (s *spyBackend) Name() string { return "spy" }
func (s *spyBackend) Close() error { return nil }

func TestRejectedCodeNeverReachesBackend(t *testing.T) {
	spy := &spyBackend{}
	o := newTestOrchestrator(t, WithBackend(spy))

	token, err := o.CreateSession()
	require.NoError(t, err)

	samples := []string{
		`eval("1+1")`,
		`new Function("return this")()`,
		`require("fs")`,
		`({}).constructor.constructor("return 1")()`,
		`fs.readFile("../../etc/passwd")`,
		`const x = {`, // unparseable
	}
	for _, code := range samples {
		result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
			SessionToken: token,
			Language:     types.LangJavaScript,
			Code:         code,
		})
		require.NoError(t, err)
		assert.Equal(t, types.StateRejected, result.State, "code: %s", code)
		assert.Equal(t, types.ErrSecurityViolation, result.ErrorCode)
		assert.False(t, result.Success)
	}

	assert.Zero(t, spy.calls, "rejected code must never reach the sandbox backend")
	assert.NotEmpty(t, o.Audit().Violations())
}

func TestUnsupportedLanguageRejected(t *testing.T) {
	o := newTestOrchestrator(t)
	token, err := o.CreateSession()
	require.NoError(t, err)

	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangTypeScript,
		Code:         `const x: number = 1`,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StateRejected, result.State)
}

func TestCrossSessionIsolation(t *testing.T) {
	o := newTestOrchestrator(t)

	tokenA, err := o.CreateSession()
	require.NoError(t, err)
	tokenB, err := o.CreateSession()
	require.NoError(t, err)

	run := func(token, marker string) (*types.ExecutionResult, error) {
		return o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
			SessionToken: token,
			Language:     types.LangJavaScript,
			Code: fmt.Sprintf(`
				fs.writeFile("scratch.txt", %q);
				fs.readFile("scratch.txt")
			`, marker),
		})
	}

	var wg sync.WaitGroup
	results := make([]*types.ExecutionResult, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0], errs[0] = run(tokenA, "from-a") }()
	go func() { defer wg.Done(); results[1], errs[1] = run(tokenB, "from-b") }()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.True(t, results[0].Success, "error: %s", results[0].Error)
	require.True(t, results[1].Success, "error: %s", results[1].Error)
	assert.Equal(t, "from-a", results[0].Payload)
	assert.Equal(t, "from-b", results[1].Payload)

	// Neither session can read the other's file by any path.
	leak, err := run(tokenA, "from-a-second")
	require.NoError(t, err)
	assert.Equal(t, "from-a-second", leak.Payload)
}

func TestResetSessionClearsState(t *testing.T) {
	o := newTestOrchestrator(t)
	_, errs := o.InitializeTools([]types.ToolDescriptor{documentTool("x")})
	require.Empty(t, errs)

	token, err := o.CreateSession()
	require.NoError(t, err)

	_, err = o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `fs.writeFile("notes.txt", "draft")`,
	})
	require.NoError(t, err)

	require.NoError(t, o.ResetSession(token))

	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `fs.exists("notes.txt") + ":" + fs.exists("servers/docs/getDocument.ts")`,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "false:true", result.Payload, "user files discarded, stubs regenerated")
}

func TestSessionNotFound(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: "no-such-token",
		Language:     types.LangJavaScript,
		Code:         `1 + 1`,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))

	token, err := o.CreateSession()
	require.NoError(t, err)
	require.NoError(t, o.CloseSession(token))

	_, err = o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `1 + 1`,
	})
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}

func TestPerDescriptorRegistration(t *testing.T) {
	o := newTestOrchestrator(t)

	n, errs := o.InitializeTools([]types.ToolDescriptor{
		documentTool("x"),
		{Server: "bad server!", Name: "tool"},
		{Server: "docs", Name: "searchDocs"},
	})
	assert.Equal(t, 2, n)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrToolRegistration, types.GetErrorCode(errs[0]))
}

func TestSessionRateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Session.RateRPS = 1
	cfg.Session.RateBurst = 2
	o := newTestOrchestrator(t, WithConfig(cfg))

	token, err := o.CreateSession()
	require.NoError(t, err)

	var limited bool
	for i := 0; i < 5; i++ {
		_, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
			SessionToken: token,
			Language:     types.LangJavaScript,
			Code:         `1`,
		})
		if types.GetErrorCode(err) == types.ErrRateLimited {
			limited = true
			assert.True(t, types.IsRetryable(err))
		}
	}
	assert.True(t, limited, "burst of 2 at 1 rps must trip the limiter within 5 calls")
}

func TestTimeoutSurfacesAsTerminalState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sandbox.Timeout = 200 * time.Millisecond
	o := newTestOrchestrator(t, WithConfig(cfg))

	token, err := o.CreateSession()
	require.NoError(t, err)

	start := time.Now()
	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `while (true) {}`,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StateTimedOut, result.State)
	assert.Equal(t, types.ErrTimedOut, result.ErrorCode)
	assert.False(t, result.Retryable)
	assert.Less(t, time.Since(start), 5*time.Second, "termination is forced, not cooperative")

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.TimeoutExecutions)
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	o := newTestOrchestrator(t)
	token, err := o.CreateSession()
	require.NoError(t, err)

	_, err = o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `1 + 1`,
	})
	require.NoError(t, err)
	require.NoError(t, o.CloseSession(token))

	assert.Len(t, o.Audit().ByKind(audit.KindSession), 2)
	executions := o.Audit().ByKind(audit.KindExecution)
	require.Len(t, executions, 1)
	assert.True(t, executions[0].Success)
	assert.Equal(t, token, executions[0].SessionToken)
}

func TestRejectionProducesSingleAuditRecord(t *testing.T) {
	o := newTestOrchestrator(t)
	token, err := o.CreateSession()
	require.NoError(t, err)

	// Three distinct violations in one submission.
	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `eval("1"); require("fs"); fetch("http://x")`,
	})
	require.NoError(t, err)
	require.Equal(t, types.StateRejected, result.State)

	records := o.Audit().ByKind(audit.KindViolation)
	require.Len(t, records, 1, "one rejection produces exactly one violation record")
	require.NotNil(t, records[0].Violation)
	assert.Equal(t, token, records[0].Violation.SessionToken)
	assert.Equal(t, token, records[0].SessionToken)
}

func TestDynamicComputedKeyRejected(t *testing.T) {
	spy := &spyBackend{}
	o := newTestOrchestrator(t, WithBackend(spy))
	token, err := o.CreateSession()
	require.NoError(t, err)

	result, err := o.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		SessionToken: token,
		Language:     types.LangJavaScript,
		Code:         `var k = "constr" + "uctor"; var F = ({})[k][k]; F("return 7")()`,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StateRejected, result.State)
	assert.Zero(t, spy.calls)
}
