package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ntpsteer/ntpsteerd/estimate"
	"github.com/ntpsteer/ntpsteerd/selector"
	"github.com/ntpsteer/ntpsteerd/steerer"
)

func TestStatsCountersRoundTrip(t *testing.T) {
	s := NewStats()
	s.SetCounter("foo", 1)
	s.UpdateCounterBy("foo", 2)
	s.UpdateCounterBy("bar", 5)
	require.Equal(t, map[string]int64{"foo": 3, "bar": 5}, s.GetCounters())

	s.Reset()
	require.Equal(t, map[string]int64{"foo": 0, "bar": 0}, s.GetCounters())
}

func TestStatsSnapshotRoundTrip(t *testing.T) {
	s := NewStats()
	require.Zero(t, s.GetSnapshot())

	snap := PipelineSnapshot{SelectedPeer: "a", Quorum: true}
	s.SetSnapshot(snap)
	require.Equal(t, snap, s.GetSnapshot())
}

func TestBuildSnapshotMarksSysPeerAndCountsStatuses(t *testing.T) {
	now := time.Now()
	estimates := map[string]estimate.Estimate{
		"a": {PeerID: "a", X: estimate.Vector2{Offset: 0.001}, Usable: true, ValidAt: now},
		"b": {PeerID: "b", X: estimate.Vector2{Offset: 0.050}, Usable: true, ValidAt: now},
	}
	sel := selector.Result{
		Set: estimate.SelectionSet{Quorum: true, PeerIDs: []string{"a"}},
		Statuses: map[string]selector.Status{
			"a": selector.SysPeer,
			"b": selector.FalseTicker,
		},
	}

	s := NewStats()
	snap := BuildSnapshot(now, estimates, sel, steerer.Step, 4, s)

	require.Equal(t, "a", snap.SelectedPeer)
	require.True(t, snap.Quorum)
	require.Equal(t, 4, snap.PollExponent)
	require.Equal(t, "sys.peer", snap.Peers["a"].Status)
	require.Equal(t, "falsetick", snap.Peers["b"].Status)

	counters := s.GetCounters()
	require.EqualValues(t, 1, counters["peer.a.sys.peer"])
	require.EqualValues(t, 1, counters["peer.b.falsetick"])

	// BuildSnapshot also records the snapshot onto Stats itself.
	require.Equal(t, snap, s.GetSnapshot())
}

func TestBuildSnapshotWithNoQuorumLeavesSelectedPeerEmpty(t *testing.T) {
	now := time.Now()
	estimates := map[string]estimate.Estimate{
		"a": {PeerID: "a", ValidAt: now},
	}
	sel := selector.Result{
		Set:      estimate.SelectionSet{Quorum: false},
		Statuses: map[string]selector.Status{"a": selector.Reject},
	}
	snap := BuildSnapshot(now, estimates, sel, steerer.NoOp, 0, nil)
	require.Empty(t, snap.SelectedPeer)
	require.False(t, snap.Quorum)
}
