package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ntpsteer/ntpsteerd/estimate"
)

func usable(id string, offset, stddev float64) estimate.Estimate {
	return estimate.Estimate{
		PeerID:  id,
		X:       estimate.Vector2{Offset: offset},
		P:       estimate.Matrix2{P00: stddev * stddev},
		Usable:  true,
		ValidAt: time.Now(),
	}
}

func usableWithDelay(id string, offset, stddev float64, delayMean time.Duration) estimate.Estimate {
	e := usable(id, offset, stddev)
	e.DelayMean = delayMean
	return e
}

func TestSelectAgreeingClusterWinsQuorum(t *testing.T) {
	cfg := DefaultConfig()
	ests := []estimate.Estimate{
		usable("a", 0.001, 0.0005),
		usable("b", 0.0012, 0.0005),
		usable("c", 0.0009, 0.0005),
		usable("d", 0.050, 0.0005), // far outlier
	}
	res := Select(ests, cfg)
	require.True(t, res.Set.Quorum)
	require.ElementsMatch(t, []string{"a", "b", "c"}, res.Set.PeerIDs)
	require.Equal(t, FalseTicker, res.Statuses["d"])
	require.Equal(t, SysPeer, res.Statuses["a"])
}

func TestSelectNoQuorumWhenTooFewAgree(t *testing.T) {
	cfg := DefaultConfig()
	ests := []estimate.Estimate{
		usable("a", 0.001, 0.0005),
		usable("b", 0.050, 0.0005),
		usable("c", -0.050, 0.0005),
	}
	res := Select(ests, cfg)
	require.False(t, res.Set.Quorum)
}

// The half-width formula is hi = 2*sqrt(Pi,00) + 1/4*di,mean (spec
// §4.2); a large mean delay widens the interval even when P00 is tiny.
func TestSelectHalfWidthIncludesDelayMeanTerm(t *testing.T) {
	cfg := DefaultConfig()
	// sigma=0 so the whole half-width comes from the delay-mean term:
	// 0.25 * 8ms = 2ms.
	ests := []estimate.Estimate{
		usableWithDelay("a", 0.0000, 0, 8*time.Millisecond),
		usableWithDelay("b", 0.0015, 0, 8*time.Millisecond),
		usableWithDelay("c", -0.0015, 0, 8*time.Millisecond),
	}
	res := Select(ests, cfg)
	// a:[-0.002,0.002] b:[-0.0005,0.0035] c:[-0.0035,0.0005] all three
	// overlap in [-0.0005,0.0005]; without the delay-mean term
	// (half-width 0) the three point offsets would never overlap and
	// there would be no quorum at all.
	require.True(t, res.Set.Quorum)
	require.ElementsMatch(t, []string{"a", "b", "c"}, res.Set.PeerIDs)
}

// A peer whose half-width exceeds max_source_uncertainty/2 (full interval
// wider than max_source_uncertainty) must be dropped before the sweep,
// per spec §4.2.
func TestSelectDropsPeerExceedingMaxSourceUncertainty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSourceUncertainty = 0.010 // hi must be <= 5ms
	ests := []estimate.Estimate{
		usable("a", 0.001, 0.0005),
		usable("b", 0.0012, 0.0005),
		usable("c", 0.0009, 0.0005),
		usableWithDelay("noisy", 0.001, 0.0005, 100*time.Millisecond), // hi = 2*0.0005 + 0.25*0.1 = 0.026
	}
	res := Select(ests, cfg)
	require.Equal(t, Reject, res.Statuses["noisy"])
	require.True(t, res.Set.Quorum)
	require.ElementsMatch(t, []string{"a", "b", "c"}, res.Set.PeerIDs)
}

func TestSelectIgnoresUnusablePeers(t *testing.T) {
	cfg := DefaultConfig()
	ests := []estimate.Estimate{
		usable("a", 0.001, 0.0005),
		usable("b", 0.0011, 0.0005),
		usable("c", 0.0009, 0.0005),
		{PeerID: "d", Usable: false},
	}
	res := Select(ests, cfg)
	require.Equal(t, Reject, res.Statuses["d"])
	require.True(t, res.Set.Quorum)
}
