// Package identity issues the per-attempt fingerprint and egress route
// used by the resilient upstream client.
//
// Every attempt draws a fresh Identity from a Provider; identities are
// immutable and never reused. The RotatingProvider mixes fingerprints
// minted as short-lived signed tokens with a small curated static pool
// (roughly 70/30 by default), and when relaying is enabled rotates the
// relay endpoint on a fixed period independent of request volume.
//
// # Usage
//
//	provider, err := identity.NewRotatingProvider(identity.Config{
//	    RelayEnabled:   true,
//	    RelayEndpoints: []string{"relay-eu-1", "relay-us-2"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	id, err := provider.Next(ctx)
//	// id.Fingerprint, id.Route, id.Serial
package identity
