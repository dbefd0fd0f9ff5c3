package estimate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayRingEvictsOldestOnceFull(t *testing.T) {
	r := NewDelayRing(3)
	require.Equal(t, 0, r.Len())

	r.Add(10 * time.Millisecond)
	r.Add(20 * time.Millisecond)
	require.Equal(t, 2, r.Len())
	require.Equal(t, []float64{0.010, 0.020}, r.Samples())

	r.Add(30 * time.Millisecond)
	r.Add(40 * time.Millisecond) // evicts the 10ms sample
	require.Equal(t, 3, r.Len())
	require.Equal(t, []float64{0.020, 0.030, 0.040}, r.Samples())
}

func TestDelayRingFloorsSizeAtOne(t *testing.T) {
	r := NewDelayRing(0)
	r.Add(time.Millisecond)
	r.Add(2 * time.Millisecond)
	require.Equal(t, 1, r.Len())
	require.Equal(t, []float64{0.002}, r.Samples())
}

func TestBoundedCounterRailsHighAndResets(t *testing.T) {
	c := NewBoundedCounter(2)
	require.Equal(t, 0, c.Vote(1))
	require.Equal(t, 0, c.Vote(1))
	require.Equal(t, 1, c.Vote(1)) // 3rd +1 crosses Cap+1=3
	require.Equal(t, 0, c.Value)
}

func TestBoundedCounterRailsLowAndResets(t *testing.T) {
	c := NewBoundedCounter(1)
	require.Equal(t, 0, c.Vote(-1))
	require.Equal(t, -1, c.Vote(-1)) // 2nd -1 crosses -(Cap+1)=-2
	require.Equal(t, 0, c.Value)
}

func TestBoundedCounterTowardZero(t *testing.T) {
	c := NewBoundedCounter(5)
	c.Vote(1)
	c.Vote(1)
	require.Equal(t, 2, c.Value)
	c.TowardZero()
	require.Equal(t, 1, c.Value)
	c.TowardZero()
	c.TowardZero()
	require.Equal(t, 0, c.Value) // no-op once at zero
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "Startup", PhaseStartup.String())
	require.Equal(t, "Running", PhaseRunning.String())
}
