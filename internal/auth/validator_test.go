package auth_test

import (
	"testing"
	"time"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsKnownToken(t *testing.T) {
	v := auth.New([]string{"T"}, ratelimit.New(30, time.Minute))
	require.NoError(t, v.Validate("T"))
}

func TestValidate_RejectsUnknownToken(t *testing.T) {
	v := auth.New([]string{"T"}, ratelimit.New(30, time.Minute))
	err := v.Validate("BAD")
	_, ok := auth.IsUnauthenticated(err)
	require.True(t, ok)
}

func TestValidate_ExactByteEquality(t *testing.T) {
	v := auth.New([]string{"Tok"}, ratelimit.New(30, time.Minute))
	_, ok := auth.IsUnauthenticated(v.Validate("tok"))
	require.True(t, ok, "comparison must be case-sensitive")
	_, ok = auth.IsUnauthenticated(v.Validate(" Tok"))
	require.True(t, ok, "comparison must not trim whitespace")
}

func TestValidate_UnknownTokenConsumesQuota(t *testing.T) {
	v := auth.New([]string{"T"}, ratelimit.New(1, time.Minute))
	_, ok := auth.IsUnauthenticated(v.Validate("BAD"))
	require.True(t, ok)
	err := v.Validate("BAD")
	_, ok = auth.IsRateLimited(err)
	require.True(t, ok)
}

func TestValidate_FallsBackToDemoTokens(t *testing.T) {
	v := auth.New(nil, ratelimit.New(30, time.Minute))
	require.NoError(t, v.Validate(auth.DemoTokens[0]))
}
