package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/metrics"
)

// SessionAuthenticator produces authenticated sessions.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Session, error)
}

// SessionManager owns the session of one run and re-authenticates at most
// once per expired session, no matter how many workers observe the expiry.
type SessionManager struct {
	auth   SessionAuthenticator
	creds  Credentials
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	current    *Session
	generation int
	reauths    int
	fatal      error
}

// NewSessionManager builds a manager; call Start before Do.
func NewSessionManager(auth SessionAuthenticator, creds Credentials, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{auth: auth, creds: creds, logger: logger, now: time.Now}
}

// Start performs the initial login. Any failure is fatal to the run.
func (m *SessionManager) Start(ctx context.Context) error {
	session, err := m.auth.Authenticate(ctx, m.creds)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.fatal = asAuthError(err)
		return m.fatal
	}
	m.current = session
	m.generation++
	return nil
}

// Reauthentications returns how many times the session was replaced.
func (m *SessionManager) Reauthentications() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reauths
}

// Err returns the fatal authentication error, if any.
func (m *SessionManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Do runs fn with the current session. When fn reports ErrSessionExpired the
// session is renewed once and fn is retried; if the renewal fails or the new
// session is rejected as well, a fatal *AuthError is returned.
func (m *SessionManager) Do(ctx context.Context, fn func(*Session) error) error {
	session, gen, err := m.session(ctx)
	if err != nil {
		return err
	}
	err = fn(session)
	if !errors.Is(err, ErrSessionExpired) {
		return err
	}

	session, err = m.renew(ctx, gen)
	if err != nil {
		return err
	}
	err = fn(session)
	if errors.Is(err, ErrSessionExpired) {
		return m.fail(&AuthError{
			Kind:   UnexpectedResponseShape,
			Reason: "session rejected immediately after re-authentication",
			Err:    err,
		})
	}
	return err
}

func (m *SessionManager) session(ctx context.Context) (*Session, int, error) {
	m.mu.Lock()
	if m.fatal != nil {
		defer m.mu.Unlock()
		return nil, 0, m.fatal
	}
	if m.current == nil {
		m.mu.Unlock()
		return nil, 0, errors.New("session manager not started")
	}
	session, gen := m.current, m.generation
	expired := session.Expired(m.now())
	m.mu.Unlock()

	if !expired {
		return session, gen, nil
	}
	renewed, err := m.renew(ctx, gen)
	if err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return renewed, m.generation, nil
}

// renew replaces the session of generation gen. Callers that lost the race
// receive the session the winner obtained.
func (m *SessionManager) renew(ctx context.Context, gen int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatal != nil {
		return nil, m.fatal
	}
	if m.generation != gen {
		return m.current, nil
	}

	m.logger.Info("portal session expired, re-authenticating",
		zap.String("session_id", m.current.ID),
		zap.Int64("requests", m.current.Requests()),
	)
	session, err := m.auth.Authenticate(ctx, m.creds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("re-authenticate: %w", ctxErr)
		}
		metrics.ObserveReauth("failed")
		m.fatal = asAuthError(err)
		m.logger.Error("re-authentication failed", zap.Error(m.fatal))
		return nil, m.fatal
	}
	metrics.ObserveReauth("ok")
	m.current = session
	m.generation++
	m.reauths++
	return session, nil
}

func (m *SessionManager) fail(err *AuthError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatal == nil {
		m.fatal = err
	}
	return m.fatal
}

func asAuthError(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &AuthError{Kind: PortalUnavailable, Err: err}
}
