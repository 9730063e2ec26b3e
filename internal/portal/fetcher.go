package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/metrics"
)

// ListingParser extracts discipline references and the next page link from a listing page.
type ListingParser interface {
	ParseDisciplineList(raw []byte, pageURL *url.URL) ([]catalog.DisciplineRef, string, error)
}

const maxListingPages = 500

// Fetcher issues authenticated portal requests.
type Fetcher struct {
	opts    Options
	base    *url.URL
	lists   ListingParser
	limiter *Limiter
	logger  *zap.Logger
}

// NewFetcher builds a Fetcher for the configured portal.
func NewFetcher(opts Options, lists ListingParser, limiter *Limiter, logger *zap.Logger) (*Fetcher, error) {
	opts = opts.withDefaults()
	base, err := opts.baseURL()
	if err != nil {
		return nil, err
	}
	if lists == nil {
		return nil, errors.New("portal fetcher requires a listing parser")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{opts: opts, base: base, lists: lists, limiter: limiter, logger: logger}, nil
}

// ListDisciplines walks every listing page. On error it also returns the
// references gathered so far; callers must treat them as an incomplete set.
func (f *Fetcher) ListDisciplines(ctx context.Context, session *Session) ([]catalog.DisciplineRef, error) {
	var (
		refs    []catalog.DisciplineRef
		seenIDs = make(map[string]struct{})
		visited = make(map[string]struct{})
		next    = resolve(f.base, f.opts.DisciplinesPath)
	)
	for page := 1; next != ""; page++ {
		if page > maxListingPages {
			return refs, fmt.Errorf("discipline listing exceeded %d pages", maxListingPages)
		}
		if _, loop := visited[next]; loop {
			return refs, fmt.Errorf("discipline listing pagination loops at %s", next)
		}
		visited[next] = struct{}{}

		resp, err := f.get(ctx, session, "listing", next)
		if err != nil {
			return refs, fmt.Errorf("list disciplines page %d: %w", page, err)
		}
		pageURL, err := url.Parse(resp.url)
		if err != nil {
			pageURL, _ = url.Parse(next)
		}
		pageRefs, nextLink, err := f.lists.ParseDisciplineList(resp.body, pageURL)
		if err != nil {
			return refs, fmt.Errorf("parse listing page %d: %w", page, err)
		}
		for _, ref := range pageRefs {
			if _, dup := seenIDs[ref.ID]; dup {
				continue
			}
			seenIDs[ref.ID] = struct{}{}
			if ref.URL == "" {
				ref.URL = resolve(f.base, f.opts.classesPath(ref.ID))
			}
			refs = append(refs, ref)
		}
		f.logger.Debug("listing page fetched",
			zap.Int("page", page),
			zap.Int("refs", len(pageRefs)),
			zap.String("next", nextLink),
		)
		next = nextLink
	}
	return refs, nil
}

// FetchClassPage returns the raw class page of one discipline.
func (f *Fetcher) FetchClassPage(ctx context.Context, session *Session, ref catalog.DisciplineRef) ([]byte, error) {
	target := ref.URL
	if target == "" {
		target = resolve(f.base, f.opts.classesPath(ref.ID))
	}
	resp, err := f.get(ctx, session, "class_page", target)
	if err != nil {
		return nil, fmt.Errorf("fetch class page %s: %w", ref.ID, err)
	}
	return resp.body, nil
}

// get performs a rate-limited GET with retries, following redirects that do
// not land on the login page.
func (f *Fetcher) get(ctx context.Context, session *Session, endpoint, target string) (response, error) {
	start := time.Now()
	notify := func(err error, wait time.Duration) {
		metrics.ObservePortalRetry(endpoint)
		f.logger.Debug("retrying portal request",
			zap.String("endpoint", endpoint),
			zap.String("url", target),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	resp, err := f.opts.Retry.retry(ctx, target, notify, func() (response, error) {
		return f.attempt(ctx, session, target)
	})
	if err != nil {
		metrics.ObservePortalRequest(endpoint, outcomeLabel(err), time.Since(start))
		return response{}, err
	}
	metrics.ObservePortalRequest(endpoint, "ok", time.Since(start))
	return resp, nil
}

func (f *Fetcher) attempt(ctx context.Context, session *Session, target string) (response, error) {
	current := target
	for hop := 0; ; hop++ {
		if err := ctx.Err(); err != nil {
			return response{}, err
		}
		if err := f.limiter.Wait(ctx, current); err != nil {
			return response{}, err
		}
		resp, err := session.send(ctx, current, nil)
		if err != nil {
			return response{}, err
		}
		if resp.url == "" {
			resp.url = current
		}
		switch {
		case resp.status >= 200 && resp.status < 300:
			if hasLoginForm(resp.body, f.opts.LoginFormSelector) {
				return resp, expiredError{url: current}
			}
			return resp, nil
		case resp.status >= 300 && resp.status < 400:
			if isLoginRedirect(f.base, f.opts.LoginPath, resp) {
				return resp, expiredError{url: current}
			}
			loc := resp.location()
			if loc == "" || hop >= maxRedirects {
				return resp, &StatusError{URL: current, Code: resp.status}
			}
			from, err := url.Parse(resp.url)
			if err != nil {
				return resp, fmt.Errorf("parse redirect origin: %w", err)
			}
			to, err := url.Parse(loc)
			if err != nil {
				return resp, fmt.Errorf("parse redirect location: %w", err)
			}
			current = from.ResolveReference(to).String()
		case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
			return resp, expiredError{url: current}
		case resp.status == http.StatusNotFound || resp.status == http.StatusGone:
			return resp, notFoundError{url: current}
		default:
			return resp, &StatusError{URL: current, Code: resp.status}
		}
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
