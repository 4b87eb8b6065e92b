package ratelimit

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iselk/kvarn/pkg/kerr"
)

func addr(s string) net.Addr { return tcpAddr(s) }

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3, time.Minute, 0)
	a := addr("10.0.0.1:1234")
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(a))
	}
}

func TestAllowRejectsBeyondBurst(t *testing.T) {
	l := New(1, 1, time.Minute, 0)
	a := addr("10.0.0.2:1234")
	require.NoError(t, l.Allow(a))
	err := l.Allow(a)
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.RateLimited))
}

func TestAllowIsolatesByIP(t *testing.T) {
	l := New(1, 1, time.Minute, 0)
	a1 := addr("10.0.0.3:1111")
	a2 := addr("10.0.0.4:2222")
	require.NoError(t, l.Allow(a1))
	require.NoError(t, l.Allow(a2))
	assert.Error(t, l.Allow(a1))
}
