package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors of the engine. Each maps to a stable string code in the
// public answer schema; callers match with errors.Is.
var (
	ErrURLInvalid   = errors.New("UrlInvalid")
	ErrNotFound     = errors.New("NotFound")
	ErrUnauthorized = errors.New("Unauthorized")
	ErrRateLimited  = errors.New("RateLimited")
	ErrTransport    = errors.New("Transport")

	ErrCacheMiss = errors.New("CacheMiss")

	ErrSandboxTimeout   = errors.New("SandboxTimeout")
	ErrSandboxExec      = errors.New("SandboxExecError")
	ErrCapabilityDenied = errors.New("CapabilityDenied")

	ErrParse          = errors.New("ParseError")
	ErrBudgetExceeded = errors.New("BudgetExceeded")
	ErrCancelled      = errors.New("Cancelled")
	ErrDeadline       = errors.New("Deadline")

	ErrValidation = errors.New("ValidationError")
)

var codes = []error{
	ErrURLInvalid, ErrNotFound, ErrUnauthorized, ErrRateLimited, ErrTransport,
	ErrCacheMiss, ErrSandboxTimeout, ErrSandboxExec, ErrCapabilityDenied,
	ErrParse, ErrBudgetExceeded, ErrCancelled, ErrDeadline, ErrValidation,
}

// ErrorCode returns the stable code for err, or "Internal" when the error is
// outside the taxonomy.
func ErrorCode(err error) string {
	for _, sentinel := range codes {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Internal"
}

// RateLimitError wraps ErrRateLimited with the provider's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
