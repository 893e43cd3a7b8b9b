package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrProviderBackedOff = errors.New("provider backed off")
	ErrMalformedOutput   = errors.New("malformed output")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ProviderError is a non-2xx response from a reasoning provider.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider status error"
	}
	prefix := e.Provider
	if e.Operation != "" {
		prefix += " " + e.Operation
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s status: %s", prefix, status)
	}
	return fmt.Sprintf("%s status: %s: %s", prefix, status, strings.TrimSpace(e.Body))
}

// Throttled reports whether the provider asked the caller to slow down.
func (e *ProviderError) Throttled() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == 429 {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "rate limit") ||
		strings.Contains(body, "quota") ||
		strings.Contains(body, "resource_exhausted") ||
		strings.Contains(body, "too many requests")
}
