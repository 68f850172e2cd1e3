package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/codexec/types"
	"github.com/BaSui01/codexec/vfs"
)

func testLimits() Limits {
	l := DefaultLimits()
	l.Timeout = 2 * time.Second
	return l
}

func run(t *testing.T, code string, mutate func(*Request)) *RawResult {
	t.Helper()
	req := &Request{
		Code:      code,
		Workspace: vfs.NewWorkspace(nil),
		Limits:    testLimits(),
	}
	if mutate != nil {
		mutate(req)
	}
	result, err := NewGojaBackend(nil).Execute(context.Background(), req)
	require.NoError(t, err)
	return result
}

func TestGojaBackendBasics(t *testing.T) {
	t.Run("return value", func(t *testing.T) {
		result := run(t, `1 + 2`, nil)
		assert.Equal(t, types.StateCompleted, result.State)
		assert.Equal(t, "3", result.Value)
	})

	t.Run("string value passes through", func(t *testing.T) {
		result := run(t, `"hello".toUpperCase()`, nil)
		assert.Equal(t, "HELLO", result.Value)
	})

	t.Run("console output captured", func(t *testing.T) {
		result := run(t, `console.log("a", 1); console.warn("b");`, nil)
		assert.Equal(t, types.StateCompleted, result.State)
		assert.Equal(t, "a 1\nb\n", result.Stdout)
	})

	t.Run("object value rendered as json", func(t *testing.T) {
		result := run(t, `({count: 2})`, nil)
		assert.JSONEq(t, `{"count":2}`, result.Value)
	})
}

func TestGojaBackendNoAmbientCapabilities(t *testing.T) {
	// The runtime is built from an allow-list; nothing host-reaching
	// exists to reference.
	for _, code := range []string{
		`typeof require`,
		`typeof process`,
		`typeof fetch`,
		`typeof setTimeout`,
	} {
		result := run(t, code, nil)
		require.Equal(t, types.StateCompleted, result.State)
		assert.Equal(t, "undefined", result.Value, "expected no binding for %s", code)
	}
}

func TestGojaBackendGuestErrors(t *testing.T) {
	result := run(t, `nope.deref()`, nil)
	assert.Equal(t, types.StateErrored, result.State)
	assert.NotEmpty(t, result.ErrMsg)
	assert.NotContains(t, result.ErrMsg, "/root")
	assert.NotContains(t, result.ErrMsg, "goroutine")
}

func TestGojaBackendTimeout(t *testing.T) {
	start := time.Now()
	result := run(t, `while (true) {}`, func(req *Request) {
		req.Limits.Timeout = 200 * time.Millisecond
	})
	elapsed := time.Since(start)

	assert.Equal(t, types.StateTimedOut, result.State)
	assert.Less(t, elapsed, 2*time.Second, "timeout must terminate the run promptly")
	assert.Empty(t, result.Value)
}

func TestGojaBackendContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	req := &Request{Code: `while (true) {}`, Workspace: vfs.NewWorkspace(nil), Limits: testLimits()}
	result, err := NewGojaBackend(nil).Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StateTimedOut, result.State)
}

func TestGojaBackendFilesystemMediation(t *testing.T) {
	t.Run("read write inside workspace", func(t *testing.T) {
		result := run(t, `
			fs.writeFile("scratch.txt", "from guest");
			fs.readFile("scratch.txt");
		`, nil)
		require.Equal(t, types.StateCompleted, result.State)
		assert.Equal(t, "from guest", result.Value)
	})

	t.Run("escape attempt denied without echoing paths", func(t *testing.T) {
		result := run(t, `fs.readFile("../../etc/passwd")`, nil)
		assert.Equal(t, types.StateErrored, result.State)
		assert.Contains(t, result.ErrMsg, "access denied")
		assert.NotContains(t, result.ErrMsg, "etc/passwd")
	})

	t.Run("listing", func(t *testing.T) {
		result := run(t, `fs.listDir("/").map(e => e.name).join(",")`, func(req *Request) {
			require.NoError(t, req.Workspace.Write("b.txt", []byte("x")))
			require.NoError(t, req.Workspace.Write("a.txt", []byte("y")))
		})
		require.Equal(t, types.StateCompleted, result.State)
		assert.Equal(t, "a.txt,b.txt", result.Value)
	})
}

type fakeBridge struct {
	calls []string
	out   json.RawMessage
	err   error
}

func (f *fakeBridge) Invoke(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, server+"/"+tool)
	return f.out, f.err
}

func TestGojaBackendToolMediation(t *testing.T) {
	t.Run("multi-step tool workflow in one execution", func(t *testing.T) {
		bridge := &fakeBridge{out: json.RawMessage(`{"body":"document text"}`)}
		result := run(t, `
			const a = callTool("files", "getDocument", { documentId: "d1" });
			const b = callTool("files", "getDocument", { documentId: "d2" });
			a.body + "|" + b.body;
		`, func(req *Request) { req.Tools = bridge })

		require.Equal(t, types.StateCompleted, result.State)
		assert.Equal(t, "document text|document text", result.Value)
		assert.Equal(t, 2, result.ToolCalls)
		assert.Equal(t, []string{"files/getDocument", "files/getDocument"}, bridge.calls)
	})

	t.Run("tool call limit", func(t *testing.T) {
		bridge := &fakeBridge{out: json.RawMessage(`1`)}
		result := run(t, `for (let i = 0; i < 100; i++) { callTool("s", "t", {}); }`, func(req *Request) {
			req.Tools = bridge
			req.Limits.MaxToolCalls = 3
		})
		assert.Equal(t, types.StateErrored, result.State)
		assert.Contains(t, result.ErrMsg, "tool call limit")
		assert.Len(t, bridge.calls, 3)
	})

	t.Run("no bridge configured", func(t *testing.T) {
		result := run(t, `callTool("s", "t", {})`, nil)
		assert.Equal(t, types.StateErrored, result.State)
	})
}

func TestExecutorClampLimits(t *testing.T) {
	maxima := Limits{Timeout: 10 * time.Second, MaxMemoryBytes: 1024 * 1024 * 1024}
	e := NewExecutor(DefaultLimits(), maxima, NewGojaBackend(nil), nil)

	t.Run("zero overrides keep defaults", func(t *testing.T) {
		limits := e.ClampLimits(0, 0)
		assert.Equal(t, DefaultLimits().Timeout, limits.Timeout)
		assert.Equal(t, DefaultLimits().MaxMemoryBytes, limits.MaxMemoryBytes)
	})

	t.Run("overrides bounded by maxima", func(t *testing.T) {
		limits := e.ClampLimits(time.Minute, 10_000)
		assert.Equal(t, 10*time.Second, limits.Timeout)
		assert.Equal(t, int64(1024*1024*1024), limits.MaxMemoryBytes)
	})

	t.Run("small overrides pass through", func(t *testing.T) {
		limits := e.ClampLimits(time.Second, 64)
		assert.Equal(t, time.Second, limits.Timeout)
		assert.Equal(t, int64(64*1024*1024), limits.MaxMemoryBytes)
	})
}

func TestExecutorStats(t *testing.T) {
	e := NewExecutor(testLimits(), DefaultLimits(), NewGojaBackend(nil), nil)
	ctx := context.Background()

	_, err := e.Execute(ctx, &Request{Code: `1`, Workspace: vfs.NewWorkspace(nil)})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &Request{Code: `nope()`, Workspace: vfs.NewWorkspace(nil)})
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessExecutions)
	assert.Equal(t, int64(1), stats.FailedExecutions)
	assert.Positive(t, stats.TotalDuration)
}

func TestGojaBackendMemoryPeakSampling(t *testing.T) {
	// Allocation churn long enough for the watchdog to take samples
	// while the run is still in flight.
	result := run(t, `
		let chunks = [];
		const end = Date.now() + 150;
		while (Date.now() < end) {
			chunks.push(new Array(1024).fill(0));
			if (chunks.length > 512) { chunks = []; }
		}
		"done";
	`, nil)
	require.Equal(t, types.StateCompleted, result.State)
	assert.Equal(t, "done", result.Value)
	assert.GreaterOrEqual(t, result.MemoryPeakBytes, int64(0))
}

func TestExecutorOutputCapRuneSafe(t *testing.T) {
	limits := testLimits()
	limits.MaxOutputBytes = 100

	e := NewExecutor(limits, DefaultLimits(), NewGojaBackend(nil), nil)
	result, err := e.Execute(context.Background(), &Request{
		Code:      `"日本語テキスト".repeat(200)`,
		Workspace: vfs.NewWorkspace(nil),
		Limits:    limits,
	})
	require.NoError(t, err)
	require.Equal(t, types.StateCompleted, result.State)
	assert.LessOrEqual(t, len(result.Value), 100)
	assert.True(t, utf8.ValidString(result.Value), "cap must not split a rune")
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"日本語", 9, "日本語"},
		{"日本語", 8, "日本"},
		{"日本語", 4, "日"},
		{"日本語", 2, ""},
		{"", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUTF8(tt.in, tt.n), "truncateUTF8(%q, %d)", tt.in, tt.n)
	}
}
