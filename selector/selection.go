// Package selector implements the clock-control pipeline's second stage
// (spec §4.2): a Marzullo's-algorithm-style sweep over each usable peer's
// confidence interval, picking the largest set of mutually-overlapping
// peers and gating the result behind a quorum.
//
// No file in the example pack runs Marzullo's algorithm; the bmca.go
// "scan candidates, keep the best" shape and ntpcheck/checker/peer.go's
// selection-status vocabulary (reject/falsetick/candidate/sys.peer, taken
// from ntpd's own decode table) are what this package's naming and
// Result shape are grounded on.
package selector

import (
	"math"
	"sort"

	"github.com/ntpsteer/ntpsteerd/estimate"
)

type interval struct {
	peerID string
	lo, hi float64
	mid    float64
}

// Result is the Selector's full per-tick output: the winning
// estimate.SelectionSet plus a status for every peer it was given,
// regardless of outcome.
type Result struct {
	Set      estimate.SelectionSet
	Statuses map[string]Status
}

// Select runs the sweep over estimates, one Estimate per peer, per spec §4.2.
func Select(estimates []estimate.Estimate, cfg Config) Result {
	statuses := make(map[string]Status, len(estimates))
	intervals := make([]interval, 0, len(estimates))

	for _, e := range estimates {
		if !e.Usable {
			statuses[e.PeerID] = Reject
			continue
		}
		// hi = 2*sqrt(Pi,00) + 1/4*di,mean, per spec §4.2.
		sigma := math.Sqrt(e.P.P00)
		halfWidth := 2*sigma + 0.25*e.DelayMean.Seconds()
		if 2*halfWidth > cfg.MaxSourceUncertainty {
			statuses[e.PeerID] = Reject
			continue
		}
		intervals = append(intervals, interval{
			peerID: e.PeerID,
			lo:     e.X.Offset - halfWidth,
			hi:     e.X.Offset + halfWidth,
			mid:    e.X.Offset,
		})
	}

	clique, loCov, hiCov := largestOverlap(intervals)
	for _, iv := range intervals {
		if _, ok := clique[iv.peerID]; !ok {
			statuses[iv.peerID] = FalseTicker
		}
	}

	quorum := cfg.Quorum(len(intervals))
	if len(clique) < quorum {
		for id := range clique {
			statuses[id] = FalseTicker
		}
		return Result{Set: estimate.SelectionSet{Quorum: false}, Statuses: statuses}
	}

	ids := make([]string, 0, len(clique))
	for id := range clique {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sysPeer := ""
	bestDist := math.Inf(1)
	point := (loCov + hiCov) / 2
	for _, iv := range intervals {
		if _, ok := clique[iv.peerID]; !ok {
			continue
		}
		d := math.Abs(iv.mid - point)
		if d < bestDist {
			bestDist = d
			sysPeer = iv.peerID
		}
		statuses[iv.peerID] = Candidate
	}
	if sysPeer != "" {
		statuses[sysPeer] = SysPeer
	}

	return Result{
		Set: estimate.SelectionSet{
			PeerIDs:        ids,
			IntersectPoint: point,
			Quorum:         true,
		},
		Statuses: statuses,
	}
}

// largestOverlap sweeps the interval endpoints and returns the set of
// peer IDs active during the widest-count segment, plus that segment's
// bounds. Ties on count are broken by preferring the narrower segment,
// then the earliest one encountered.
func largestOverlap(intervals []interval) (map[string]struct{}, float64, float64) {
	type event struct {
		x      float64
		isEnd  bool
		peerID string
	}
	if len(intervals) == 0 {
		return map[string]struct{}{}, 0, 0
	}

	events := make([]event, 0, 2*len(intervals))
	for _, iv := range intervals {
		events = append(events, event{x: iv.lo, isEnd: false, peerID: iv.peerID})
		events = append(events, event{x: iv.hi, isEnd: true, peerID: iv.peerID})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].x != events[j].x {
			return events[i].x < events[j].x
		}
		// ends before starts: two intervals that merely touch at a
		// point are not counted as overlapping there.
		return events[i].isEnd && !events[j].isEnd
	})

	active := map[string]struct{}{}
	var bestSet map[string]struct{}
	var bestLo, bestHi float64
	bestCount := -1

	for i := 0; i < len(events); i++ {
		e := events[i]
		if e.isEnd {
			delete(active, e.peerID)
		} else {
			active[e.peerID] = struct{}{}
		}
		segLo := e.x
		segHi := math.Inf(1)
		if i+1 < len(events) {
			segHi = events[i+1].x
		}
		if segLo == segHi {
			continue
		}
		count := len(active)
		better := count > bestCount
		if count == bestCount && bestSet != nil {
			if (segHi - segLo) < (bestHi - bestLo) {
				better = true
			}
		}
		if better {
			bestCount = count
			bestLo, bestHi = segLo, segHi
			snap := make(map[string]struct{}, len(active))
			for id := range active {
				snap[id] = struct{}{}
			}
			bestSet = snap
		}
	}

	if bestSet == nil {
		return map[string]struct{}{}, 0, 0
	}
	return bestSet, bestLo, bestHi
}
