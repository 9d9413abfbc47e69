package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for fetch outcomes.
var (
	// ErrCircuitOpen is returned without any I/O when the circuit breaker
	// is blocking requests to the upstream target.
	ErrCircuitOpen = errors.New("upstream: circuit breaker is open")

	// ErrRateLimitWaitTimeout is returned when the caller's deadline
	// expires while waiting for a rate limiter slot.
	ErrRateLimitWaitTimeout = errors.New("upstream: deadline expired waiting for a rate limit slot")

	// ErrCancelled is returned when the caller's cancellation signal is
	// honored mid-wait or mid-retry.
	ErrCancelled = errors.New("upstream: operation cancelled")

	// ErrRetriesExhausted wraps the last attempt error once a single
	// strategy's retry budget is used up.
	ErrRetriesExhausted = errors.New("upstream: retries exhausted")

	// ErrStrategiesExhausted is matched by the aggregate error returned
	// when every strategy in the chain has failed.
	ErrStrategiesExhausted = errors.New("upstream: all strategies exhausted")

	// ErrAttemptTimeout is returned when a single transport attempt
	// exceeds its per-attempt deadline. It is retryable.
	ErrAttemptTimeout = errors.New("upstream: attempt timed out")

	// ErrTooManyInFlight is returned when the in-flight fetch cap is
	// reached and waiting is disabled or exhausted.
	ErrTooManyInFlight = errors.New("upstream: too many in-flight fetches")

	// ErrNilTransport is returned by NewClient when no transport
	// function is supplied.
	ErrNilTransport = errors.New("upstream: transport function is required")
)

// FailureKind classifies a transport failure for retry decisions.
type FailureKind int

const (
	// FailureTransient covers connection resets, DNS hiccups, and other
	// network-level faults.
	FailureTransient FailureKind = iota
	// FailureThrottled is an explicit "too many requests" signal.
	FailureThrottled
	// FailureBlocked is an explicit "forbidden" signal, typically a
	// fingerprint or egress address ban.
	FailureBlocked
	// FailureServer is an upstream-side server error.
	FailureServer
	// FailureBadInput is a malformed-request signal; retrying cannot help.
	FailureBadInput
	// FailureNotFound means the resource does not exist upstream.
	FailureNotFound
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureThrottled:
		return "throttled"
	case FailureBlocked:
		return "blocked"
	case FailureServer:
		return "server"
	case FailureBadInput:
		return "bad-input"
	case FailureNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt can reasonably succeed for
// this kind of failure.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureBadInput, FailureNotFound:
		return false
	default:
		return true
	}
}

// TransportError is the error shape transports should return so the retry
// policy can classify outcomes. Errors of any other type are treated as
// transient.
type TransportError struct {
	Kind FailureKind
	Err  error
}

// NewTransportError wraps err with a failure classification.
func NewTransportError(kind FailureKind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

// Error returns the formatted error string.
func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream: %s failure", e.Kind)
	}
	return fmt.Sprintf("upstream: %s failure: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is the default retry classifier. Cancellation is never
// retried; classified transport failures follow their kind; attempt
// timeouts and unrecognized errors are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind.Retryable()
	}
	return true
}

// StrategyFailure pairs a strategy name with its terminal error.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// ExhaustedError aggregates the terminal failure of every strategy in the
// chain. It matches ErrStrategiesExhausted under errors.Is and exposes
// each per-strategy cause through Unwrap.
type ExhaustedError struct {
	Failures []StrategyFailure
}

// Error returns the formatted aggregate error string.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Strategy, f.Err)
	}
	return fmt.Sprintf("upstream: all %d strategies exhausted [%s]", len(e.Failures), strings.Join(parts, "; "))
}

// Is reports whether target is ErrStrategiesExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrStrategiesExhausted
}

// Unwrap exposes each strategy's cause to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
