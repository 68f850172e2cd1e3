package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/codexec/types"
	"github.com/BaSui01/codexec/vfs"
)

func TestCreateAndGet(t *testing.T) {
	m := NewManager(Config{}, nil, nil)

	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.NotSame(t, a.Workspace, b.Workspace)
	assert.Equal(t, 2, m.Len())

	got, err := m.Get(a.Token)
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = m.Get("not-a-token")
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}

func TestMounterRunsOnCreateAndReset(t *testing.T) {
	mounts := 0
	mount := func(ws *vfs.Workspace) error {
		mounts++
		return ws.MountFile("servers/s/t.ts", []byte("stub"))
	}
	m := NewManager(Config{}, mount, nil)

	s, err := m.Create()
	require.NoError(t, err)
	assert.Equal(t, 1, mounts)
	assert.True(t, s.Workspace.Exists("servers/s/t.ts"))

	require.NoError(t, s.Workspace.Write("scratch.txt", []byte("user data")))
	require.NoError(t, m.Reset(s.Token))

	assert.Equal(t, 2, mounts)
	assert.False(t, s.Workspace.Exists("scratch.txt"), "user files are discarded on reset")
	assert.True(t, s.Workspace.Exists("servers/s/t.ts"), "stubs are regenerated on reset")
}

func TestExpiry(t *testing.T) {
	m := NewManager(Config{TTL: time.Minute}, nil, nil)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	s, err := m.Create()
	require.NoError(t, err)

	_, err = m.Get(s.Token)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = m.Get(s.Token)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
	assert.Zero(t, m.Len(), "expired session is collected")
}

func TestResetRestartsTTL(t *testing.T) {
	m := NewManager(Config{TTL: time.Minute}, nil, nil)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	s, err := m.Create()
	require.NoError(t, err)

	current = current.Add(45 * time.Second)
	require.NoError(t, m.Reset(s.Token))

	current = current.Add(45 * time.Second)
	_, err = m.Get(s.Token)
	assert.NoError(t, err, "reset restarts the TTL clock")
}

func TestClose(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	s, err := m.Create()
	require.NoError(t, err)

	require.NoError(t, m.Close(s.Token))
	assert.Zero(t, m.Len())
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(m.Close(s.Token)))
}

func TestRateLimiter(t *testing.T) {
	m := NewManager(Config{RateRPS: 1, RateBurst: 2}, nil, nil)
	s, err := m.Create()
	require.NoError(t, err)
	require.NotNil(t, s.Limiter)

	assert.True(t, s.Limiter.Allow())
	assert.True(t, s.Limiter.Allow())
	assert.False(t, s.Limiter.Allow(), "burst exhausted")

	none, err := NewManager(Config{}, nil, nil).Create()
	require.NoError(t, err)
	assert.Nil(t, none.Limiter)
}
