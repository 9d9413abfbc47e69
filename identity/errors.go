package identity

import "errors"

// Sentinel errors for identity issuance.
var (
	// ErrNoRelayEndpoints indicates relaying was enabled without any
	// relay endpoints configured.
	ErrNoRelayEndpoints = errors.New("identity: relay enabled with no relay endpoints")
)
