package identity

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// defaultStaticFingerprints is the curated pool used when the
// configuration supplies none.
var defaultStaticFingerprints = []string{
	"web.stable.2024090100",
	"web.stable.2024120400",
	"android.tv.2025011500",
	"ios.music.2025032100",
}

// Config configures the rotating identity provider.
type Config struct {
	// DynamicShare is the fraction of issues that mint a fresh signed
	// fingerprint; the remainder draw from the static pool. A negative
	// value means all-static.
	// Default: 0.70
	DynamicShare float64

	// StaticFingerprints is the curated fingerprint pool.
	// Default: a small built-in list.
	StaticFingerprints []string

	// TokenTTL is the validity window stamped into minted fingerprints.
	// Default: 10 minutes
	TokenTTL time.Duration

	// KeyRotationPeriod is how often the signing key is replaced.
	// Default: 15 minutes
	KeyRotationPeriod time.Duration

	// RelayEnabled routes attempts through relay endpoints when true.
	RelayEnabled bool

	// RelayEndpoints is the relay pool, rotated on a fixed period
	// independent of request volume.
	RelayEndpoints []string

	// RelayRotationPeriod is the relay rotation interval.
	// Default: 45 seconds
	RelayRotationPeriod time.Duration

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time

	// Rand is the randomness source for pool selection.
	// Default: the shared math/rand/v2 source.
	Rand *rand.Rand
}

// RotatingProvider issues a fresh Identity per call from a weighted
// mixture of minted and curated fingerprints, selecting the egress route
// by elapsed-time epoch when relaying is enabled.
type RotatingProvider struct {
	config Config

	mu        sync.Mutex
	key       []byte
	keyIssued time.Time

	rekey singleflight.Group
}

// NewRotatingProvider creates a new provider.
func NewRotatingProvider(config Config) (*RotatingProvider, error) {
	// Apply defaults
	if config.DynamicShare == 0 {
		config.DynamicShare = 0.70
	}
	if config.DynamicShare < 0 {
		config.DynamicShare = 0
	}
	if config.DynamicShare > 1 {
		config.DynamicShare = 1
	}
	if len(config.StaticFingerprints) == 0 {
		config.StaticFingerprints = defaultStaticFingerprints
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 10 * time.Minute
	}
	if config.KeyRotationPeriod <= 0 {
		config.KeyRotationPeriod = 15 * time.Minute
	}
	if config.RelayRotationPeriod <= 0 {
		config.RelayRotationPeriod = 45 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	if config.RelayEnabled && len(config.RelayEndpoints) == 0 {
		return nil, ErrNoRelayEndpoints
	}

	return &RotatingProvider{config: config}, nil
}

// Next issues a fresh Identity. The fingerprint is minted for roughly
// DynamicShare of the calls and drawn from the static pool otherwise;
// the uuid serial guarantees no two identities are ever the same.
func (p *RotatingProvider) Next(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	now := p.config.Now()
	serial := uuid.NewString()

	var fingerprint string
	if p.roll() < p.config.DynamicShare {
		minted, err := p.mint(serial, now)
		if err != nil {
			return Identity{}, err
		}
		fingerprint = minted
	} else {
		fingerprint = p.config.StaticFingerprints[p.pick(len(p.config.StaticFingerprints))]
	}

	return Identity{
		Fingerprint: fingerprint,
		Route:       p.route(now),
		Serial:      serial,
		IssuedAt:    now,
	}, nil
}

// route selects the egress route. Relay endpoints rotate purely by
// elapsed-time epoch, independent of request volume.
func (p *RotatingProvider) route(now time.Time) Route {
	if !p.config.RelayEnabled {
		return Route{Mode: ModeDirect}
	}

	epoch := now.UnixNano() / int64(p.config.RelayRotationPeriod)
	idx := int(epoch % int64(len(p.config.RelayEndpoints)))
	if idx < 0 {
		idx += len(p.config.RelayEndpoints)
	}
	return Route{Mode: ModeRelayed, RelayID: p.config.RelayEndpoints[idx]}
}

// mint produces a signed HS256 token carrying the serial, issue time, and
// a random visitor blob, so every dynamic fingerprint is distinct and
// verifiable against the current signing key.
func (p *RotatingProvider) mint(serial string, now time.Time) (string, error) {
	key, err := p.signingKey(now)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 12)
	if _, err := cryptorand.Read(blob); err != nil {
		return "", fmt.Errorf("identity: visitor blob: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": serial,
		"iat": now.Unix(),
		"exp": now.Add(p.config.TokenTTL).Unix(),
		"vid": hex.EncodeToString(blob),
	})

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("identity: sign fingerprint: %w", err)
	}
	return signed, nil
}

// signingKey returns the current key, re-keying through singleflight when
// the rotation period has elapsed so concurrent issuers share one re-key.
func (p *RotatingProvider) signingKey(now time.Time) ([]byte, error) {
	p.mu.Lock()
	if p.key != nil && now.Sub(p.keyIssued) < p.config.KeyRotationPeriod {
		key := p.key
		p.mu.Unlock()
		return key, nil
	}
	p.mu.Unlock()

	_, err, _ := p.rekey.Do("rekey", func() (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.key != nil && now.Sub(p.keyIssued) < p.config.KeyRotationPeriod {
			return nil, nil
		}

		key := make([]byte, 32)
		if _, err := cryptorand.Read(key); err != nil {
			return nil, fmt.Errorf("identity: generate signing key: %w", err)
		}
		p.key = key
		p.keyIssued = now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key, nil
}

// SigningKey exposes the current key so callers can verify minted
// fingerprints, primarily in tests.
func (p *RotatingProvider) SigningKey() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

func (p *RotatingProvider) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.Rand != nil {
		return p.config.Rand.Float64()
	}
	// #nosec G404 -- pool weighting is non-cryptographic.
	return rand.Float64()
}

func (p *RotatingProvider) pick(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.Rand != nil {
		return p.config.Rand.IntN(n)
	}
	// #nosec G404 -- pool selection is non-cryptographic.
	return rand.IntN(n)
}
