package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrKind classifies check failures. Every kind is contained per account.
type ErrKind string

const (
	KindNone                      ErrKind = ""
	KindAuthenticationRequired    ErrKind = "authentication_required"
	KindCredentialsNotConfigured  ErrKind = "credentials_not_configured"
	KindTokenExpiredRefreshFailed ErrKind = "token_expired_refresh_failed"
	KindCapabilityUnavailable     ErrKind = "capability_unavailable"
	KindNetworkOrNavigation       ErrKind = "network_or_navigation"
	KindUnknown                   ErrKind = "unknown"
)

// Expected reports whether the kind is an expected, silent state
// (pre-login, not configured, scraper not provisioned).
func (k ErrKind) Expected() bool {
	switch k {
	case KindAuthenticationRequired, KindCredentialsNotConfigured, KindCapabilityUnavailable:
		return true
	}
	return false
}

var (
	ErrAuthenticationRequired    = errors.New("authentication required")
	ErrCredentialsNotConfigured  = errors.New("credentials not configured")
	ErrTokenExpiredRefreshFailed = errors.New("token expired and refresh failed")
	ErrCapabilityUnavailable     = errors.New("capability unavailable")
	ErrNetworkOrNavigation       = errors.New("network or navigation failure")
	ErrUnsupportedPlatform       = errors.New("unsupported platform")
)

// CheckError carries a failure kind plus the platform it happened on.
type CheckError struct {
	Kind     ErrKind
	Platform Platform
	Err      error
}

func (e *CheckError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Platform, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Kind, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// Errorf builds a CheckError of the given kind.
func Errorf(kind ErrKind, platform Platform, format string, args ...any) error {
	return &CheckError{Kind: kind, Platform: platform, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with a kind. Nil stays nil.
func Wrap(kind ErrKind, platform Platform, err error) error {
	if err == nil {
		return nil
	}
	return &CheckError{Kind: kind, Platform: platform, Err: err}
}

// KindOf classifies any error.
func KindOf(err error) ErrKind {
	if err == nil {
		return KindNone
	}
	var ce *CheckError
	if errors.As(err, &ce) && ce.Kind != KindNone {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return KindAuthenticationRequired
	case errors.Is(err, ErrCredentialsNotConfigured):
		return KindCredentialsNotConfigured
	case errors.Is(err, ErrTokenExpiredRefreshFailed):
		return KindTokenExpiredRefreshFailed
	case errors.Is(err, ErrCapabilityUnavailable):
		return KindCapabilityUnavailable
	case errors.Is(err, ErrNetworkOrNavigation),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetworkOrNavigation
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetworkOrNavigation
	}
	return KindUnknown
}
