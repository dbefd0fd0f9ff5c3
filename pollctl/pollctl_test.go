package pollctl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackoffFixedMode(t *testing.T) {
	b := NewBackoff(BackoffConfig{Mode: BackoffFixed, Step: 3, MaxValue: 100})
	require.False(t, b.Active())
	require.Equal(t, 3, b.Bump())
	require.Equal(t, 3, b.Bump())
	require.True(t, b.Active())
}

func TestBackoffExponentialModeCapsAtMax(t *testing.T) {
	b := NewBackoff(BackoffConfig{Mode: BackoffExponential, Step: 2, MaxValue: 10})
	b.Bump() // 2^1 = 2
	b.Bump() // 2^2 = 4
	b.Bump() // 2^3 = 8
	v := b.Bump() // 2^4 = 16, capped to 10
	require.Equal(t, 10, v)
}

func TestBackoffResetClearsState(t *testing.T) {
	b := NewBackoff(BackoffConfig{Mode: BackoffFixed, Step: 5, MaxValue: 100})
	b.Bump()
	b.Reset()
	require.False(t, b.Active())
}

func TestGlobalExponentIsMinimumAcrossPeers(t *testing.T) {
	got, ok := GlobalExponent(map[string]int{"a": 6, "b": 4, "c": 8})
	require.True(t, ok)
	require.Equal(t, 4, got)
}

func TestGlobalExponentEmptySetHasNoOpinion(t *testing.T) {
	_, ok := GlobalExponent(map[string]int{})
	require.False(t, ok)
}

func TestDesiredExponentClampsAndAddsBackoff(t *testing.T) {
	c := New(2, 10, BackoffConfig{Mode: BackoffFixed, Step: 1, MaxValue: 5})
	require.Equal(t, 10, c.DesiredExponent("peerA", 20))
	c.OnFailure("peerA")
	require.Equal(t, 6, c.DesiredExponent("peerA", 5))
}
