package domain

import (
	"context"
	"errors"
)

// ErrorKind classifies failures and soft markers produced by the pipeline
type ErrorKind string

const (
	KindLayerTimeout                ErrorKind = "LayerTimeout"
	KindLayerAPIError               ErrorKind = "LayerAPIError"
	KindLayerMalformedOutput        ErrorKind = "LayerMalformedOutput"
	KindRateLimitExhausted          ErrorKind = "RateLimitExhausted"
	KindConsensusBelowThreshold     ErrorKind = "ConsensusBelowThreshold"
	KindAmbiguousLocationUnresolved ErrorKind = "AmbiguousLocationUnresolved"
	KindReferenceDataUnavailable    ErrorKind = "ReferenceDataUnavailable"

	// KindFieldDisagreement annotates a field on which the layers did not all agree.
	KindFieldDisagreement ErrorKind = "FieldDisagreement"
)

var (
	ErrLayerTimeout             = errors.New("extraction layer timed out")
	ErrLayerAPI                 = errors.New("extraction layer api error")
	ErrLayerMalformedOutput     = errors.New("extraction layer returned malformed output")
	ErrRateLimitExhausted       = errors.New("rate limit retries exhausted")
	ErrReferenceDataUnavailable = errors.New("reference data unavailable")
)

// KindOf maps an error onto the taxonomy. Unknown errors are reported as
// layer API errors since that is the only place they can surface.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLayerTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindLayerTimeout
	case errors.Is(err, ErrLayerMalformedOutput):
		return KindLayerMalformedOutput
	case errors.Is(err, ErrRateLimitExhausted):
		return KindRateLimitExhausted
	case errors.Is(err, ErrReferenceDataUnavailable):
		return KindReferenceDataUnavailable
	}
	return KindLayerAPIError
}

type retryableError struct {
	cause error
}

func (e *retryableError) Error() string {
	return e.cause.Error()
}

func (e *retryableError) Unwrap() error {
	return e.cause
}

// Retryable marks err as transient so the rate limiter may try again
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{cause: err}
}

// IsRetryable reports whether err was marked with Retryable
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
