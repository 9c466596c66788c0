package providers

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstreamDetectionFailed wraps every failure of a corner detector.
	ErrUpstreamDetectionFailed = errors.New("corner detection failed")

	// ErrCredentialInvalid means the API key was missing, rejected or expired.
	// The caller should ask for a new key.
	ErrCredentialInvalid = errors.New("detector credential invalid")

	// ErrNoResultParsed means the response held no recoverable quadrilateral.
	ErrNoResultParsed = errors.New("no corners in detector response")

	// ErrTransportFailure covers network errors and non-auth HTTP errors.
	ErrTransportFailure = errors.New("detector transport failure")
)

// DetectionError is returned by detectors. errors.Is matches it against
// ErrUpstreamDetectionFailed, its Kind and its cause.
type DetectionError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *DetectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *DetectionError) Unwrap() []error {
	errs := []error{ErrUpstreamDetectionFailed, e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newDetectionError(provider string, kind, err error) *DetectionError {
	return &DetectionError{Provider: provider, Kind: kind, Err: err}
}

// IsCredentialInvalid reports whether err means the stored key must be replaced.
func IsCredentialInvalid(err error) bool {
	return errors.Is(err, ErrCredentialInvalid)
}

// RateLimitError is a 429 from the upstream API.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}
