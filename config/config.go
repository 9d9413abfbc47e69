// Package config loads the resilient client configuration from a YAML
// file and UPSTREAM_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mediaforge/upstream"
	"github.com/mediaforge/upstream/identity"
	"github.com/mediaforge/upstream/observe"
)

// File is the on-disk configuration shape. Every field has a working
// default; a zero-value File yields the library defaults.
type File struct {
	Target string `mapstructure:"target"`

	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	RateLimitPerHour   int           `mapstructure:"rate_limit_per_hour"`
	JitterMin          time.Duration `mapstructure:"jitter_min"`
	JitterMax          time.Duration `mapstructure:"jitter_max"`

	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelayMin time.Duration `mapstructure:"retry_delay_min"`
	RetryDelayMax time.Duration `mapstructure:"retry_delay_max"`

	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	CircuitFailureThreshold int           `mapstructure:"circuit_failure_threshold"`
	CircuitCooldown         time.Duration `mapstructure:"circuit_cooldown"`

	CooldownBase        time.Duration `mapstructure:"cooldown_base"`
	CooldownMaxExponent int           `mapstructure:"cooldown_max_exponent"`

	MaxInFlight  int           `mapstructure:"max_in_flight"`
	InFlightWait time.Duration `mapstructure:"in_flight_wait"`

	Strategies []StrategySection `mapstructure:"strategies"`
	Identity   IdentitySection   `mapstructure:"identity"`
	Observe    ObserveSection    `mapstructure:"observe"`
	Health     HealthSection     `mapstructure:"health"`
}

// StrategySection declares one fallback strategy.
type StrategySection struct {
	Name     string            `mapstructure:"name"`
	Priority int               `mapstructure:"priority"`
	Profile  map[string]string `mapstructure:"profile"`
}

// IdentitySection configures identity rotation.
type IdentitySection struct {
	DynamicShare        float64       `mapstructure:"dynamic_share"`
	StaticFingerprints  []string      `mapstructure:"static_fingerprints"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	KeyRotationPeriod   time.Duration `mapstructure:"key_rotation_period"`
	RelayEnabled        bool          `mapstructure:"relay_enabled"`
	RelayEndpoints      []string      `mapstructure:"relay_endpoints"`
	RelayRotationPeriod time.Duration `mapstructure:"relay_rotation_period"`
}

// ObserveSection configures telemetry.
type ObserveSection struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	Tracing     bool    `mapstructure:"tracing"`
	TraceExport string  `mapstructure:"trace_exporter"`
	SamplePct   float64 `mapstructure:"sample_pct"`
	Endpoint    string  `mapstructure:"endpoint"`
	Metrics     bool    `mapstructure:"metrics"`
	MetricsExp  string  `mapstructure:"metrics_exporter"`
	Logging     bool    `mapstructure:"logging"`
	LogLevel    string  `mapstructure:"log_level"`
}

// HealthSection configures the probe endpoint.
type HealthSection struct {
	Addr string `mapstructure:"addr"`
}

// Load reads an optional YAML file and environment overrides. Relay
// endpoints and static fingerprints go through strict ${VAR} expansion
// so credentials never live in the file itself.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("UPSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var f File
	err := v.Unmarshal(&f, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := f.expand(); err != nil {
		return nil, err
	}
	return &f, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target", "upstream")
	v.SetDefault("rate_limit_per_minute", 10)
	v.SetDefault("rate_limit_per_hour", 100)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay_min", "2s")
	v.SetDefault("retry_delay_max", "10s")
	v.SetDefault("attempt_timeout", "30s")
	v.SetDefault("circuit_failure_threshold", 5)
	v.SetDefault("circuit_cooldown", "5m")
	v.SetDefault("cooldown_base", "30s")
	v.SetDefault("cooldown_max_exponent", 5)
	v.SetDefault("identity.dynamic_share", 0.70)
	v.SetDefault("identity.relay_rotation_period", "45s")
	v.SetDefault("observe.service_name", "upstream-client")
	v.SetDefault("observe.log_level", "info")
	v.SetDefault("health.addr", ":9090")
}

// expand applies strict environment expansion to the secret-bearing
// values.
func (f *File) expand() error {
	for i, ep := range f.Identity.RelayEndpoints {
		expanded, err := ExpandEnvStrict(ep)
		if err != nil {
			return fmt.Errorf("config: relay endpoint %d: %w", i, err)
		}
		f.Identity.RelayEndpoints[i] = expanded
	}
	for i, fp := range f.Identity.StaticFingerprints {
		expanded, err := ExpandEnvStrict(fp)
		if err != nil {
			return fmt.Errorf("config: static fingerprint %d: %w", i, err)
		}
		f.Identity.StaticFingerprints[i] = expanded
	}
	return nil
}

// Client translates the file into a ClientConfig. The identity provider
// and observer are wired separately by the caller (see IdentityConfig
// and ObserveConfig).
func (f *File) Client() upstream.ClientConfig {
	strategies := make([]upstream.Strategy, 0, len(f.Strategies))
	for _, s := range f.Strategies {
		strategies = append(strategies, upstream.Strategy{
			Name:     s.Name,
			Priority: s.Priority,
			Profile:  s.Profile,
		})
	}

	return upstream.ClientConfig{
		Target: f.Target,
		RateLimit: upstream.RateLimiterConfig{
			PerMinute: f.RateLimitPerMinute,
			PerHour:   f.RateLimitPerHour,
			JitterMin: f.JitterMin,
			JitterMax: f.JitterMax,
		},
		Breaker: upstream.BreakerConfig{
			FailureThreshold: f.CircuitFailureThreshold,
			Cooldown:         f.CircuitCooldown,
		},
		Retry: upstream.RetryConfig{
			MaxAttempts: f.MaxRetries,
			BaseDelay:   f.RetryDelayMin,
			MaxDelay:    f.RetryDelayMax,
		},
		Cooldown: upstream.CooldownConfig{
			Base:        f.CooldownBase,
			MaxExponent: f.CooldownMaxExponent,
		},
		AttemptTimeout: f.AttemptTimeout,
		Strategies:     strategies,
		MaxInFlight:    f.MaxInFlight,
		InFlightWait:   f.InFlightWait,
	}
}

// IdentityConfig translates the identity section.
func (f *File) IdentityConfig() identity.Config {
	return identity.Config{
		DynamicShare:        f.Identity.DynamicShare,
		StaticFingerprints:  f.Identity.StaticFingerprints,
		TokenTTL:            f.Identity.TokenTTL,
		KeyRotationPeriod:   f.Identity.KeyRotationPeriod,
		RelayEnabled:        f.Identity.RelayEnabled,
		RelayEndpoints:      f.Identity.RelayEndpoints,
		RelayRotationPeriod: f.Identity.RelayRotationPeriod,
	}
}

// ObserveConfig translates the observe section.
func (f *File) ObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: f.Observe.ServiceName,
		Version:     f.Observe.Version,
		Tracing: observe.TracingConfig{
			Enabled:   f.Observe.Tracing,
			Exporter:  f.Observe.TraceExport,
			SamplePct: f.Observe.SamplePct,
			Endpoint:  f.Observe.Endpoint,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  f.Observe.Metrics,
			Exporter: f.Observe.MetricsExp,
			Endpoint: f.Observe.Endpoint,
		},
		Logging: observe.LoggingConfig{
			Enabled: f.Observe.Logging,
			Level:   f.Observe.LogLevel,
		},
	}
}
