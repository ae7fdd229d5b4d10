package health_test

import (
	"testing"
	"time"

	"github.com/cryptolabinc/rune-vault/internal/health"
	"github.com/stretchr/testify/require"
)

type fakeKeyChecker struct{ present bool }

func (f fakeKeyChecker) MetadataKeyPresent() bool { return f.present }

func TestSample_UnhealthyWhenKeysMissing(t *testing.T) {
	c := health.New(fakeKeyChecker{present: false}, time.Now())
	snap, err := c.Sample(t.Context())
	require.NoError(t, err)
	require.Equal(t, health.StatusUnhealthy, snap.Status)
	require.False(t, snap.KeysAccessible)
}

func TestSample_ReportsUptime(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	c := health.New(fakeKeyChecker{present: true}, start)
	snap, err := c.Sample(t.Context())
	require.NoError(t, err)
	require.Greater(t, snap.UptimeSeconds, 3500.0)
}
