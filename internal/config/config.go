package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for a single listener (tool HTTP or RPC).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the vault service.
type Config struct {
	// Mode records the security mode: "prod" (default) or "testing". No
	// component reads it, so it does not change behavior.
	Mode string

	// KeysetDir is the directory holding the keyset files (EncKey, EvalKey,
	// SecKey, MetadataKey). Created with 0700 if missing.
	KeysetDir string
	// KeyID is an opaque identifier for the active keyset, passed to the key
	// generator when the keyset is created. It is not part of the public bundle.
	KeyID string
	// IndexName, when set, is included in the public bundle so clients can
	// bind their ciphertexts to the index the keyset was generated for.
	IndexName string

	// Tokens is the set of bearer tokens accepted by the token validator.
	// Populated from a comma-separated VAULT_TOKENS env var.
	Tokens []string

	// Rate limiting (sliding window).
	RateLimitMaxRequests int
	RateLimitWindow       time.Duration

	// DecryptScores bounds.
	TopKMax int

	// Transports.
	StdioEnabled bool
	HTTPEnabled  bool
	RPCEnabled   bool

	// Listeners.
	HTTPListener ListenerConfig
	RPCListener  ListenerConfig
	// SinglePort multiplexes HTTP and RPC on HTTPListener.Port via cmux/h2c
	// instead of opening RPCListener's own port.
	SinglePort bool

	// Management/observability.
	ManagementAccessLog bool
	MaxBodySize         int64

	// Graceful shutdown drain timeout (seconds).
	DrainTimeout int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeProd,
		KeysetDir:            "./keyset",
		KeyID:                "default",
		RateLimitMaxRequests: 30,
		RateLimitWindow:      60 * time.Second,
		TopKMax:              10,
		StdioEnabled:         true,
		HTTPEnabled:          true,
		RPCEnabled:           true,
		HTTPListener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		RPCListener: ListenerConfig{
			Port:            8081,
			EnablePlainText: true,
		},
		SinglePort:           false,
		ManagementAccessLog:  false,
		MaxBodySize:          256 * 1024 * 1024, // matches RPC max message size, §6.2
		DrainTimeout:         5,
		MetricsLabels:        "service=rune-vault",
	}
}

// ParseTokens splits a comma-separated VAULT_TOKENS value into a token list,
// trimming whitespace and dropping empty entries.
func ParseTokens(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
