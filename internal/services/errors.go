package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
	"golang.org/x/oauth2"
)

// ErrorKind classifies a provider failure.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindRateLimited
	KindAuthExpired
	KindNotFound
	KindMalformed
)

// Sentinels matched by [errors.Is] against any [*ProviderError] of the same kind.
var (
	ErrNetwork     = errors.New("network error")
	ErrRateLimited = errors.New("rate limited")
	ErrAuthExpired = errors.New("authentication expired")
	ErrNotFound    = errors.New("not found")
	ErrMalformed   = errors.New("malformed response")
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	default:
		return "network"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindAuthExpired:
		return ErrAuthExpired
	case KindNotFound:
		return ErrNotFound
	case KindMalformed:
		return ErrMalformed
	default:
		return ErrNetwork
	}
}

// ProviderError is the single error type returned by every adapter operation.
type ProviderError struct {
	Provider   models.ProviderID
	Op         string
	Kind       ErrorKind
	Status     int           // HTTP status, 0 when no response was received
	RetryAfter time.Duration // set for rate limiting when the provider says so
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Provider, e.Op, e.Kind.sentinel())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf extracts the [ErrorKind] from err when it carries a [*ProviderError].
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return KindNetwork, false
}

func newProviderError(provider models.ProviderID, op string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: kind, Err: err}
}

// kindForStatus maps an HTTP status onto an [ErrorKind].
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthExpired
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindNetwork
	}
}

// statusError builds a [*ProviderError] from a non-2xx response.
func statusError(provider models.ProviderID, op string, resp *APIResponse) *ProviderError {
	pe := newProviderError(provider, op, kindForStatus(resp.StatusCode), nil)
	pe.Status = resp.StatusCode
	if detail := errorDetail(resp.Body); detail != "" {
		pe.Err = errors.New(detail)
	}
	if pe.Kind == KindRateLimited {
		pe.RetryAfter = parseRetryAfter(resp.Headers.Get("Retry-After"))
	}
	return pe
}

// transportError classifies a failure that happened before a response was read.
//
// Token refresh failures surface as [KindAuthExpired]. Cancellation and deadlines stay
// [KindNetwork] with the context error kept in the chain.
func transportError(provider models.ProviderID, op string, err error) *ProviderError {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) || errors.Is(err, shared.ErrRefreshFailed) || errors.Is(err, shared.ErrNotAuthenticated) {
		return newProviderError(provider, op, KindAuthExpired, err)
	}
	return newProviderError(provider, op, KindNetwork, err)
}

// isContextErr reports whether err came from cancellation or a deadline.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// errorDetail extracts a human readable message from the error bodies the providers return.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  string          `json:"detail"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil {
			return s
		}
	}
	return ""
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
