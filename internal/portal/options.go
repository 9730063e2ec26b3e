package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Options describes the portal shape and client behaviour.
type Options struct {
	BaseURL             string
	LoginPath           string
	DisciplinesPath     string
	ClassesPathTemplate string
	UserAgent           string
	SessionCookie       string
	SessionTTL          time.Duration
	UsernameField       string
	PasswordField       string
	LoginFormSelector   string
	Timeout             time.Duration
	Retry               RetryPolicy
	RateLimitRPS        float64
	RateLimitBurst      int
}

// RetryPolicy bounds fetch-level retries.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

const maxRedirects = 5

func (o Options) withDefaults() Options {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.DisciplinesPath == "" {
		o.DisciplinesPath = "/disciplinas"
	}
	if o.ClassesPathTemplate == "" {
		o.ClassesPathTemplate = "/disciplinas/{id}/turmas"
	}
	if o.SessionCookie == "" {
		o.SessionCookie = "JSESSIONID"
	}
	if o.UsernameField == "" {
		o.UsernameField = "username"
	}
	if o.PasswordField == "" {
		o.PasswordField = "password"
	}
	if o.LoginFormSelector == "" {
		o.LoginFormSelector = "form#login"
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retry.Initial <= 0 {
		o.Retry.Initial = 250 * time.Millisecond
	}
	if o.Retry.Max < o.Retry.Initial {
		o.Retry.Max = o.Retry.Initial
	}
	return o
}

func (o Options) baseURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(o.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse portal base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("portal base url %q must be absolute", o.BaseURL)
	}
	return u, nil
}

func resolve(base *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return base.String() + path
	}
	return base.ResolveReference(ref).String()
}

func (o Options) classesPath(id string) string {
	return strings.ReplaceAll(o.ClassesPathTemplate, "{id}", url.PathEscape(id))
}
