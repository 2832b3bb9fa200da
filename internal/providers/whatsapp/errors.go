package whatsapp

import (
	"errors"
	"time"
)

type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindAPIError    ErrorKind = "api_error"
)

// SendError is a classified send failure. RetryAfter is only set for
// rate-limited outcomes.
type SendError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
}

func (e *SendError) Error() string { return string(e.Kind) + ": " + e.Message }

// Retryable reports whether the failure is transient. Anything that is not a
// timeout, connection error or rate limit is permanent.
func Retryable(err error) bool {
	var se *SendError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindTimeout, KindConnection, KindRateLimited:
		return true
	}
	return false
}

// Backoff is the wait before retry attempt+1: 2^attempt seconds, raised to the
// provider's retry-after hint when the failure was a rate limit.
func Backoff(attempt int, err error) time.Duration {
	wait := time.Duration(1<<uint(attempt)) * time.Second
	var se *SendError
	if errors.As(err, &se) && se.Kind == KindRateLimited && se.RetryAfter > wait {
		wait = se.RetryAfter
	}
	return wait
}
