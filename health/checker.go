package health

import (
	"context"
	"time"
)

// Status grades how well a piece of the fetch pipeline is doing. Degraded
// sits between the extremes: the upstream is still being served, but a
// breaker in cooldown, a saturated rate window, or a recovery probe in
// flight warrants attention.
type Status int

const (
	// StatusHealthy means fetches are flowing normally.
	StatusHealthy Status = iota
	// StatusDegraded means fetches still succeed but a resilience
	// mechanism is actively compensating.
	StatusDegraded
	// StatusUnhealthy means fetches are failing or blocked outright.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is one check's verdict on the upstream client or the process
// hosting it.
type Result struct {
	// Status is the graded verdict.
	Status Status

	// Message explains the verdict in one line, e.g. which breaker state
	// or rate window triggered it.
	Message string

	// Details carries check-specific metadata, such as circuit state or
	// window occupancy counts.
	Details map[string]any

	// Duration is how long the check took.
	Duration time.Duration

	// Timestamp is when the check ran.
	Timestamp time.Time

	// Error is the failure cause for unhealthy verdicts.
	Error error
}

// Healthy builds a passing result.
func Healthy(message string) Result {
	return Result{
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded builds a result for a client that is serving fetches while a
// resilience mechanism compensates.
func Degraded(message string) Result {
	return Result{
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy builds a failing result carrying its cause.
func Unhealthy(message string, err error) Result {
	return Result{
		Status:    StatusUnhealthy,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails attaches check-specific metadata to the result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration sets how long the check took.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker grades one aspect of the fetch pipeline on demand. The client
// checker reads breaker and cooldown snapshots; the process checker reads
// runtime stats; callers may register their own.
type Checker interface {
	// Name identifies this checker in aggregated reports.
	Name() string

	// Check grades the subject and returns the verdict.
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a plain function into a named Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc wraps fn as a Checker under the given name.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name identifies this checker in aggregated reports.
func (f *CheckerFunc) Name() string {
	return f.name
}

// Check runs the wrapped function.
func (f *CheckerFunc) Check(ctx context.Context) Result {
	return f.fn(ctx)
}
