package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rate-limit"
	KindNetwork        Kind = "network"
	KindInvalidRequest Kind = "invalid-request"
	KindServer         Kind = "server"
)

// Error wraps a provider API failure with its classification.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the call can succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindServer:
		return true
	}
	return false
}

// Classify wraps an API error with a failure kind derived from its
// message. Context cancellation passes through untouched so callers
// can distinguish an abort from a provider fault.
func Classify(providerName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var perr *Error
	if errors.As(err, &perr) {
		return err
	}

	return &Error{Provider: providerName, Kind: classifyKind(err.Error()), Err: err}
}

func classifyKind(msg string) Kind {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "authentication") || strings.Contains(lower, "api key"):
		return KindAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "overloaded"):
		return KindRateLimit
	case strings.Contains(lower, "econnreset") || strings.Contains(lower, "etimedout") ||
		strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "eof"):
		return KindNetwork
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		return KindServer
	default:
		return KindInvalidRequest
	}
}

// IsRetryableError reports whether the error is worth retrying.
func IsRetryableError(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}
