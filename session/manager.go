// Package session manages agent sessions: capability tokens, workspace
// ownership, expiry, and the per-session execution lock that keeps
// executions against one workspace totally ordered.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/codexec/types"
	"github.com/BaSui01/codexec/vfs"
)

// Session is one agent's isolated execution context. The workspace is
// exclusively owned: no other session can ever read or write it.
type Session struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Workspace *vfs.Workspace
	Limiter   *rate.Limiter

	// execMu serializes executions within the session. Cross-session
	// executions run concurrently; within a session they never interleave.
	execMu sync.Mutex
}

// Lock acquires the session's execution slot.
func (s *Session) Lock() { s.execMu.Lock() }

// Unlock releases the session's execution slot.
func (s *Session) Unlock() { s.execMu.Unlock() }

// Config tunes the session manager.
type Config struct {
	// TTL is how long a session lives without being reset. Zero means
	// sessions never expire.
	TTL time.Duration
	// RateRPS/RateBurst bound execute calls per session. Zero RPS
	// disables rate limiting.
	RateRPS   float64
	RateBurst int
}

// Mounter re-populates a fresh or reset workspace (tool stubs).
type Mounter func(*vfs.Workspace) error

// Manager owns all live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   Config
	mount    Mounter
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a session manager. mount runs on every session
// creation and reset; it may be nil.
func NewManager(config Config, mount Mounter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		config:   config,
		mount:    mount,
		logger:   logger.With(zap.String("component", "session")),
		now:      time.Now,
	}
}

// Create allocates a fresh session with its own workspace and an
// unguessable token. The token is the only handle: treat it as a
// capability.
func (m *Manager) Create() (*Session, error) {
	ws := vfs.NewWorkspace(m.logger)
	if m.mount != nil {
		if err := m.mount(ws); err != nil {
			return nil, types.NewError(types.ErrInfrastructure, "workspace initialization failed").
				WithRetryable(true).WithCause(err)
		}
	}

	now := m.now()
	s := &Session{
		Token:     uuid.NewString(),
		CreatedAt: now,
		Workspace: ws,
	}
	if m.config.TTL > 0 {
		s.ExpiresAt = now.Add(m.config.TTL)
	}
	if m.config.RateRPS > 0 {
		burst := m.config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.Limiter = rate.NewLimiter(rate.Limit(m.config.RateRPS), burst)
	}

	m.mu.Lock()
	m.sweepLocked(now)
	m.sessions[s.Token] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session created", zap.Int("active_sessions", count))
	return s, nil
}

// Get returns the live session for token, or SESSION_NOT_FOUND for an
// unknown or expired token. Expired sessions are collected on sight.
func (m *Manager) Get(token string) (*Session, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, types.NewError(types.ErrSessionNotFound, "unknown session token")
	}
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		delete(m.sessions, token)
		return nil, types.NewError(types.ErrSessionNotFound, "session expired")
	}
	return s, nil
}

// Reset clears the session's workspace back to its post-initialization
// state: user files are discarded, tool stubs regenerated, and the TTL
// clock restarts.
func (m *Manager) Reset(token string) error {
	s, err := m.Get(token)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.Workspace.Reset()
	if m.mount != nil {
		if err := m.mount(s.Workspace); err != nil {
			return types.NewError(types.ErrInfrastructure, "workspace re-initialization failed").
				WithRetryable(true).WithCause(err)
		}
	}
	if m.config.TTL > 0 {
		m.mu.Lock()
		s.ExpiresAt = m.now().Add(m.config.TTL)
		m.mu.Unlock()
	}
	return nil
}

// Close destroys a session and frees its workspace.
func (m *Manager) Close(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return types.NewError(types.ErrSessionNotFound, "unknown session token")
	}
	delete(m.sessions, token)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// sweepLocked drops expired sessions. Caller holds mu.
func (m *Manager) sweepLocked(now time.Time) {
	for token, s := range m.sessions {
		if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
			delete(m.sessions, token)
		}
	}
}
