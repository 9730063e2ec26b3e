package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/metrics"
)

// Authenticator performs the portal login handshake.
type Authenticator struct {
	opts      Options
	base      *url.URL
	transport http.RoundTripper
	limiter   *Limiter
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthenticator validates opts and builds an Authenticator.
func NewAuthenticator(opts Options, limiter *Limiter, logger *zap.Logger) (*Authenticator, error) {
	opts = opts.withDefaults()
	base, err := opts.baseURL()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		opts:    opts,
		base:    base,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Authenticate logs in and returns a session carrying the portal cookie.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Empty() {
		return nil, &AuthError{Kind: InvalidCredentials, Reason: "credentials are not configured"}
	}
	start := time.Now()
	session, err := newSession(a.opts, a.transport)
	if err != nil {
		return nil, &AuthError{Kind: PortalUnavailable, Err: err}
	}
	loginURL := resolve(a.base, a.opts.LoginPath)

	form, err := a.loginForm(ctx, session, loginURL)
	if err != nil {
		return nil, err
	}
	form[a.opts.UsernameField] = creds.username
	form[a.opts.PasswordField] = creds.password

	if err := a.limiter.Wait(ctx, loginURL); err != nil {
		return nil, err
	}
	resp, err := session.send(ctx, loginURL, form)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("login canceled: %w", ctxErr)
		}
		metrics.ObservePortalRequest("login", "error", time.Since(start))
		return nil, &AuthError{Kind: PortalUnavailable, Err: err}
	}
	if err := a.checkLoginResponse(session, resp); err != nil {
		metrics.ObservePortalRequest("login", "rejected", time.Since(start))
		a.logger.Warn("portal login rejected",
			zap.Object("credentials", creds),
			zap.Int("status", resp.status),
			zap.Error(err),
		)
		return nil, err
	}

	session.ObtainedAt = a.now()
	if a.opts.SessionTTL > 0 {
		session.ExpiresAt = session.ObtainedAt.Add(a.opts.SessionTTL)
	}
	metrics.ObservePortalRequest("login", "ok", time.Since(start))
	a.logger.Info("portal login succeeded",
		zap.String("session_id", session.ID),
		zap.String("username", creds.Username()),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return session, nil
}

// loginForm fetches the login page and collects its hidden inputs (CSRF tokens and the like).
func (a *Authenticator) loginForm(ctx context.Context, session *Session, loginURL string) (map[string]string, error) {
	form := make(map[string]string)
	resp, err := a.opts.Retry.retry(ctx, loginURL, nil, func() (response, error) {
		if err := a.limiter.Wait(ctx, loginURL); err != nil {
			return response{}, err
		}
		r, err := session.send(ctx, loginURL, nil)
		if err != nil {
			return r, err
		}
		if r.status >= http.StatusInternalServerError || r.status == http.StatusTooManyRequests {
			return r, &StatusError{URL: loginURL, Code: r.status}
		}
		return r, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("login canceled: %w", ctxErr)
		}
		return nil, &AuthError{Kind: PortalUnavailable, Err: err}
	}
	if resp.status != http.StatusOK {
		return form, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.body))
	if err != nil {
		return form, nil
	}
	doc.Find(a.opts.LoginFormSelector + ` input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			form[name] = s.AttrOr("value", "")
		}
	})
	return form, nil
}

func (a *Authenticator) checkLoginResponse(session *Session, resp response) error {
	switch {
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return &AuthError{Kind: InvalidCredentials, Reason: fmt.Sprintf("status %d", resp.status)}
	case resp.status >= http.StatusInternalServerError || resp.status == http.StatusTooManyRequests:
		return &AuthError{Kind: PortalUnavailable, Reason: fmt.Sprintf("status %d", resp.status)}
	case resp.status >= 300 && resp.status < 400:
		if isLoginRedirect(a.base, a.opts.LoginPath, resp) {
			return &AuthError{Kind: InvalidCredentials, Reason: "redirected back to login"}
		}
	case resp.status >= 200 && resp.status < 300:
		if hasLoginForm(resp.body, a.opts.LoginFormSelector) {
			return &AuthError{Kind: InvalidCredentials, Reason: "login form rendered again"}
		}
	default:
		return &AuthError{Kind: UnexpectedResponseShape, Reason: fmt.Sprintf("status %d", resp.status)}
	}
	if !session.HasCookie(a.base, a.opts.SessionCookie) {
		return &AuthError{
			Kind:   UnexpectedResponseShape,
			Reason: fmt.Sprintf("session cookie %q not set", a.opts.SessionCookie),
		}
	}
	return nil
}

func isLoginRedirect(base *url.URL, loginPath string, resp response) bool {
	loc := resp.location()
	if loc == "" {
		return false
	}
	target, err := url.Parse(loc)
	if err != nil {
		return false
	}
	from := base
	if u, err := url.Parse(resp.url); err == nil {
		from = u
	}
	login, err := url.Parse(loginPath)
	if err != nil {
		return false
	}
	return from.ResolveReference(target).Path == base.ResolveReference(login).Path
}

func hasLoginForm(body []byte, selector string) bool {
	if len(body) == 0 || selector == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
