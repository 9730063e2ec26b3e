package portal

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

var (
	// ErrSessionExpired means the portal rejected the session; re-authenticate.
	ErrSessionExpired = errors.New("portal session expired")
	// ErrNotFound means the resource is permanently missing on the portal.
	ErrNotFound = errors.New("portal resource not found")
)

// AuthErrorKind classifies login failures.
type AuthErrorKind string

// Authentication failure kinds.
const (
	InvalidCredentials      AuthErrorKind = "invalid_credentials"
	PortalUnavailable       AuthErrorKind = "portal_unavailable"
	UnexpectedResponseShape AuthErrorKind = "unexpected_response_shape"
)

// AuthError is fatal to a run.
type AuthError struct {
	Kind   AuthErrorKind
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("portal auth failed (%s)", e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// FailureKind implements catalog.Classifier.
func (e *AuthError) FailureKind() catalog.FailureKind { return catalog.FailureAuth }

// NetworkError is returned once the retry budget for a request is spent.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("portal request %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FailureKind implements catalog.Classifier.
func (e *NetworkError) FailureKind() catalog.FailureKind {
	if errors.Is(e.Err, ErrNotFound) {
		return catalog.FailureNotFound
	}
	return catalog.FailureNetwork
}

// StatusError is an HTTP status the fetcher does not know how to handle.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal returned status %d for %s", e.Code, e.URL)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == 429 || e.Code >= 500
}

// FailureKind implements catalog.Classifier.
func (e *StatusError) FailureKind() catalog.FailureKind { return catalog.FailureNetwork }

type notFoundError struct {
	url string
}

func (e notFoundError) Error() string { return fmt.Sprintf("%s: %s", ErrNotFound, e.url) }

func (e notFoundError) Is(target error) bool { return target == ErrNotFound }

func (e notFoundError) FailureKind() catalog.FailureKind { return catalog.FailureNotFound }

type expiredError struct {
	url string
}

func (e expiredError) Error() string { return fmt.Sprintf("%s: %s", ErrSessionExpired, e.url) }

func (e expiredError) Is(target error) bool { return target == ErrSessionExpired }

func (e expiredError) FailureKind() catalog.FailureKind { return catalog.FailureAuth }
