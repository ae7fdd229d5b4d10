// Package auth implements the vault's token validator: an exact-byte-equality
// allowlist check composed with a sliding-window rate limiter.
package auth

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/cryptolabinc/rune-vault/internal/ratelimit"
)

// DemoTokens is loaded when no VAULT_TOKENS configuration is supplied.
var DemoTokens = []string{"demo-token"}

// Kind distinguishes thrown error kinds from the rest of the error taxonomy.
type Kind int

const (
	KindUnauthenticated Kind = iota
	KindRateLimited
)

// Error is a thrown authentication/rate-limit failure. Unlike the service
// layer's soft errors, Error always propagates as a transport-level failure.
type Error struct {
	Kind       Kind
	RetryAfter int // seconds; only meaningful for KindRateLimited
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfter)
	default:
		return "unauthenticated"
	}
}

// IsRateLimited reports whether err is a rate-limit Error.
func IsRateLimited(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindRateLimited {
		return ae, true
	}
	return nil, false
}

// IsUnauthenticated reports whether err is an unauthenticated Error.
func IsUnauthenticated(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindUnauthenticated {
		return ae, true
	}
	return nil, false
}

// Validator holds the configured token allowlist and the shared rate limiter.
type Validator struct {
	valid   map[string]bool
	limiter *ratelimit.Limiter
}

// New constructs a Validator. If tokens is empty, a demo token set is loaded
// and a warning is logged — callers should not rely on this in production.
func New(tokens []string, limiter *ratelimit.Limiter) *Validator {
	if len(tokens) == 0 {
		log.Warn("VAULT_TOKENS not configured; falling back to demo token set", "tokens", DemoTokens)
		tokens = DemoTokens
	}
	valid := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		valid[t] = true
	}
	return &Validator{valid: valid, limiter: limiter}
}

// Validate applies the rate limiter first (so unknown tokens still consume
// quota, per the documented brute-force-resistance policy), then checks
// exact-byte-equality membership in the token allowlist.
func (v *Validator) Validate(token string) error {
	if !v.limiter.IsAllowed(token) {
		return &Error{Kind: KindRateLimited, RetryAfter: v.limiter.RetryAfter(token)}
	}
	if !v.valid[token] {
		return &Error{Kind: KindUnauthenticated}
	}
	return nil
}
