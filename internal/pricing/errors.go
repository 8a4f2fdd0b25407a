package pricing

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a ticker or bond identifier is unknown to the
// upstream feed. Batch paths swallow it; single-item validating paths surface it.
type NotFoundError struct {
	Kind       string // "ticker" or "bond"
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Identifier)
}

// ProviderUnavailableError wraps a timeout or transport failure from a feed.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// RateLimitError is returned when a feed rejects a request for quota reasons.
type RateLimitError struct {
	Provider string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s rate limit exceeded", e.Provider)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
