package identity

import (
	"context"
	"time"
)

// Mode selects the egress route for an attempt.
type Mode int

const (
	// ModeDirect sends the attempt straight to the upstream target.
	ModeDirect Mode = iota
	// ModeRelayed sends the attempt through a relay endpoint.
	ModeRelayed
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeRelayed:
		return "relayed"
	default:
		return "unknown"
	}
}

// Route describes how an attempt leaves the process.
type Route struct {
	Mode Mode

	// RelayID is the relay endpoint, set only when Mode is ModeRelayed.
	RelayID string
}

// Identity is the per-attempt fingerprint and egress route. Identities
// are immutable once issued and never reused across attempts; Serial is
// unique per issue.
type Identity struct {
	Fingerprint string
	Route       Route
	Serial      string
	IssuedAt    time.Time
}

// Provider supplies a fresh Identity per attempt.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ownership: every call returns a distinct Identity; no reuse.
type Provider interface {
	Next(ctx context.Context) (Identity, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Identity, error)

// Next calls the wrapped function.
func (f ProviderFunc) Next(ctx context.Context) (Identity, error) {
	return f(ctx)
}
