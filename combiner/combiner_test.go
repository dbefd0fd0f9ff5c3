package combiner

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ntpsteer/ntpsteerd/estimate"
)

func est(offset, p00 float64) estimate.Estimate {
	return estimate.Estimate{X: estimate.Vector2{Offset: offset}, P: estimate.Matrix2{P00: p00, P11: 1e-16}}
}

func TestCombineIsOrderIndependent(t *testing.T) {
	peers := []estimate.Estimate{
		est(0.001, 1e-6),
		est(0.0012, 2e-6),
		est(0.0009, 5e-7),
	}
	ab, err := Combine(peers)
	require.NoError(t, err)

	reordered := []estimate.Estimate{peers[2], peers[0], peers[1]}
	ba, err := Combine(reordered)
	require.NoError(t, err)

	require.InDelta(t, ab.X.Offset, ba.X.Offset, 1e-12)
	require.InDelta(t, ab.P.P00, ba.P.P00, 1e-12)
}

func TestCombineReducesVarianceBelowEachInput(t *testing.T) {
	peers := []estimate.Estimate{est(0.001, 1e-6), est(0.0011, 1e-6)}
	c, err := Combine(peers)
	require.NoError(t, err)
	require.Less(t, c.P.P00, 1e-6)
}

func TestCombineOfManyIsStableAndCommutative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	peers := make([]estimate.Estimate, 6)
	for i := range peers {
		peers[i] = est(0.001+rng.Float64()*1e-4, 1e-6*(1+rng.Float64()))
	}
	first, err := Combine(peers)
	require.NoError(t, err)

	shuffled := append([]estimate.Estimate{}, peers...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second, err := Combine(shuffled)
	require.NoError(t, err)

	require.InDelta(t, first.X.Offset, second.X.Offset, 1e-9)
}

func TestCombineWidensVarianceByRemoteUncertaintyBeforeFolding(t *testing.T) {
	quiet := est(0.001, 1e-6)
	loud := est(0.001, 1e-6)
	loud.RemoteUnc = 10 * time.Millisecond // 0.01s std dev -> +1e-4 variance

	withoutUnc, err := Combine([]estimate.Estimate{quiet, quiet})
	require.NoError(t, err)
	withUnc, err := Combine([]estimate.Estimate{quiet, loud})
	require.NoError(t, err)

	require.Greater(t, withUnc.P.P00, withoutUnc.P.P00,
		"a peer's self-reported uncertainty must widen its contribution to the fold")
}

func TestCombineFallsBackOnSingularSum(t *testing.T) {
	a := Combined{X: estimate.Vector2{Offset: 0.001}, P: estimate.Matrix2{}}
	b := Combined{X: estimate.Vector2{Offset: 0.002}, P: estimate.Matrix2{}}
	result := combinePair(a, b)
	require.Equal(t, 0.001, result.X.Offset, "both inputs have zero P00, tie-break keeps the first")
}
