// Package telemetry implements ntpsteerd's self-observability surface:
// counters and per-peer snapshots (stats.go), a JSON HTTP status server
// (json_stats.go), a Prometheus exporter (prom_exporter.go), and
// process/runtime self-stats (sysstats.go).
//
// This is internal daemon diagnostics — "is the pipeline healthy" —
// generalizing ptp/sptp/client's stats.go/json_stats.go/sysstats.go and
// sptp/stats/prom_exporter.go from "one GM per row" to "one NTP peer per
// row", not the NTP wire protocol's own metrics-export collaborator
// (out of scope per spec.md §1).
package telemetry

import (
	"sync"
	"time"

	"github.com/ntpsteer/ntpsteerd/estimate"
	"github.com/ntpsteer/ntpsteerd/selector"
	"github.com/ntpsteer/ntpsteerd/steerer"
)

// PeerSnapshot is one peer's latest published state, the per-peer unit
// telemetry reports (the JSON root endpoint, the Prometheus exporter's
// per-peer gauges, and ntpsteercheck's "peers" table all read these).
type PeerSnapshot struct {
	PeerID       string        `json:"peer_id"`
	Offset       float64       `json:"offset_seconds"`
	FreqError    float64       `json:"freq_error"`
	P00          float64       `json:"p00"`
	P11          float64       `json:"p11"`
	Usable       bool          `json:"usable"`
	Status       string        `json:"status"`
	ValidAt      time.Time     `json:"valid_at"`
	PollExponent int           `json:"poll_exponent"`
	DelayMean    time.Duration `json:"delay_mean_ns"`
}

// PipelineSnapshot is one tick's full outcome, the shape ntpsteercheck's
// "status"/"selection" subcommands and the JSON root endpoint report.
type PipelineSnapshot struct {
	At           time.Time               `json:"at"`
	Peers        map[string]PeerSnapshot `json:"peers"`
	SelectedPeer string                   `json:"selected_peer"`
	Quorum       bool                     `json:"quorum"`
	Decision     string                   `json:"decision"`
	PollExponent int                      `json:"poll_exponent"`
}

// Stats is the mutex-guarded counter store, directly generalizing
// ptp/sptp/client.Stats: a map[string]int64 with atomic Set/UpdateBy/
// Reset, plus (here) the latest PipelineSnapshot in place of the
// teacher's gmStats slice.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
	snapshot PipelineSnapshot
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{counters: map[string]int64{}}
}

// SetCounter sets a counter to val.
func (s *Stats) SetCounter(key string, val int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = val
}

// UpdateCounterBy increments a counter by count (negative to decrement).
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += count
}

// GetCounters returns a snapshot copy of every counter.
func (s *Stats) GetCounters() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Reset zeroes every counter without forgetting its key, matching
// Stats.Reset in the teacher.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		s.counters[k] = 0
	}
}

// SetSnapshot records the latest tick's outcome.
func (s *Stats) SetSnapshot(snap PipelineSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// GetSnapshot returns the latest recorded snapshot.
func (s *Stats) GetSnapshot() PipelineSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// BuildSnapshot turns one tick's raw pipeline state into the reporting
// shape, bumping one "peer.<id>.<status>" counter per peer along the
// way (spec §7: transient conditions are counted, not just logged).
func BuildSnapshot(at time.Time, estimates map[string]estimate.Estimate, sel selector.Result, decision steerer.Decision, pollExponent int, s *Stats) PipelineSnapshot {
	snap := PipelineSnapshot{
		At:           at,
		Peers:        make(map[string]PeerSnapshot, len(estimates)),
		Quorum:       sel.Set.Quorum,
		Decision:     decision.String(),
		PollExponent: pollExponent,
	}

	for peerID, est := range estimates {
		status := sel.Statuses[peerID]
		if status == selector.SysPeer {
			snap.SelectedPeer = peerID
		}
		snap.Peers[peerID] = PeerSnapshot{
			PeerID:       peerID,
			Offset:       est.X.Offset,
			FreqError:    est.X.FreqError,
			P00:          est.P.P00,
			P11:          est.P.P11,
			Usable:       est.Usable,
			Status:       status.String(),
			ValidAt:      est.ValidAt,
			DelayMean:    est.DelayMean,
			PollExponent: pollExponent,
		}
		if s != nil {
			s.UpdateCounterBy("peer."+peerID+"."+status.String(), 1)
		}
	}
	if s != nil {
		s.SetSnapshot(snap)
	}
	return snap
}
