// Package combiner implements the clock-control pipeline's third stage
// (spec §4.3): folding the Selector's chosen peers' (x, P) pairs into one
// precision-weighted estimate via the information-form covariance update.
//
// The fold itself has no direct analogue in the example pack (no file
// combines multiple PTP/NTP time sources' covariances); its combinability
// requirement — commutative and associative, so peers can be folded in
// any order or incrementally — is implemented with the kalman package's
// 2x2 matrix primitives, which is also where the fallback-on-singular
// logic a real Marzullo-adjacent combiner needs lives.
package combiner

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ntpsteer/ntpsteerd/estimate"
	"github.com/ntpsteer/ntpsteerd/kalman"
)

// Combined is the fold's output: the joint state, its covariance, and how
// many peers' estimates went into it.
type Combined struct {
	X     estimate.Vector2
	P     estimate.Matrix2
	Count int
}

// Combine folds a..b (or more) peer Estimates into one, in information
// form (spec §4.3, §9):
//
//	P̄  = Pi - Pi(Pi+Pj)^-1 Pi
//	x̄  = xi + Pi(Pi+Pj)^-1 (xj - xi)
//
// applied pairwise left to right. Folding is commutative and associative
// in exact arithmetic, so callers may pass peers in any order; when a
// pairwise sum Pi+Pj is singular (its determinant underflows), that fold
// step falls back to "most certain estimate wins" per spec §7 rather than
// producing NaN/Inf covariance.
func Combine(peers []estimate.Estimate) (Combined, error) {
	if len(peers) == 0 {
		return Combined{}, fmt.Errorf("combiner: no peers to combine")
	}

	acc := Combined{X: peers[0].X, P: widenByRemoteUnc(peers[0]), Count: 1}
	for _, p := range peers[1:] {
		acc = combinePair(acc, Combined{X: p.X, P: widenByRemoteUnc(p), Count: 1})
	}
	return acc, nil
}

// widenByRemoteUnc adds a peer's self-reported UTC uncertainty to its
// offset variance before folding, per spec §4.3 ("Each peer's
// self-reported UTC uncertainty is added to Pi before folding").
// RemoteUnc is a standard deviation in seconds, so it widens P00 by its
// square.
func widenByRemoteUnc(e estimate.Estimate) estimate.Matrix2 {
	p := e.P
	unc := e.RemoteUnc.Seconds()
	p.P00 += unc * unc
	return p
}

func combinePair(a, b Combined) Combined {
	sum := kalman.Add2(a.P, b.P)
	inv, ok := kalman.Invert2(sum)
	if !ok {
		log.Warningf("combiner: singular Pi+Pj fold, falling back to most-certain-estimate")
		return mostCertain(a, b)
	}

	gain := kalman.MulMat2(a.P, inv)
	diff := kalman.SubVec(b.X, a.X)
	x := kalman.AddVec(a.X, kalman.MulMatVec(gain, diff))
	p := kalman.Sub2(a.P, kalman.MulMat2(gain, a.P))

	return Combined{X: x, P: kalman.Resymmetrize(p), Count: a.Count + b.Count}
}

// mostCertain picks whichever of a, b has the smaller P00 (offset
// variance), per spec §7's fallback when the precision-weighted fold
// can't be computed.
func mostCertain(a, b Combined) Combined {
	if a.P.P00 <= b.P.P00 {
		return Combined{X: a.X, P: a.P, Count: a.Count + b.Count}
	}
	return Combined{X: b.X, P: b.P, Count: a.Count + b.Count}
}
