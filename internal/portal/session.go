package portal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
)

// Session is the authenticated cookie session owned by one run.
type Session struct {
	ID         string
	ObtainedAt time.Time
	ExpiresAt  time.Time

	collector *colly.Collector
	jar       http.CookieJar
	requests  atomic.Int64
}

// Expired reports whether the session passed its configured lifetime.
// A zero ExpiresAt never expires locally; the portal decides.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Requests returns how many portal requests used this session.
func (s *Session) Requests() int64 { return s.requests.Load() }

// HasCookie reports whether the jar holds a cookie named name for u.
func (s *Session) HasCookie(u *url.URL, name string) bool {
	for _, c := range s.jar.Cookies(u) {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

func newSession(opts Options, transport http.RoundTripper) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	if opts.UserAgent != "" {
		c.UserAgent = opts.UserAgent
	}
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetCookieJar(jar)
	c.SetRequestTimeout(opts.Timeout)
	// Redirects are inspected by the caller so a bounce to the login page is visible.
	c.SetRedirectHandler(func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	})
	return &Session{
		ID:        uuid.NewString(),
		collector: c,
		jar:       jar,
	}, nil
}

type response struct {
	url     string
	status  int
	headers http.Header
	body    []byte
}

func (r response) location() string {
	if r.headers == nil {
		return ""
	}
	return r.headers.Get("Location")
}

// send issues one request through a clone of the session collector. form
// selects POST when non-nil. The request is bound to ctx, so cancellation
// aborts the in-flight HTTP call.
func (s *Session) send(ctx context.Context, target string, form map[string]string) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, fmt.Errorf("portal request canceled: %w", err)
	}
	s.requests.Add(1)
	collector := s.collector.Clone()
	collector.Context = ctx

	var (
		result   response
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = response{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	var err error
	if form != nil {
		err = collector.Post(target, form)
	} else {
		err = collector.Visit(target)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return response{}, fmt.Errorf("portal request canceled: %w", ctxErr)
	}
	if err != nil {
		return response{}, fmt.Errorf("portal request %s: %w", target, err)
	}
	if fetchErr != nil {
		return response{}, fmt.Errorf("portal response %s: %w", target, fetchErr)
	}
	return result, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
