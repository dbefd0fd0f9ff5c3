// Package kalman implements the 2x2 state-transition, process-noise and
// measurement-update math shared by every PeerFilter, plus the 2x2 matrix
// inverse the Combiner needs for its information-form fold (spec §4.1,
// §4.3, §9).
//
// No file in the example pack implements a Kalman filter for clock offset
// estimation directly; this package is new code written from spec §4.1's
// closed-form equations. The surrounding idiom — small value-type structs,
// no allocation on the hot path, re-symmetrizing a covariance after every
// update — follows servo.PiServoFilter's style of keeping filter state as
// plain fields updated in place rather than through an interface.
package kalman

import (
	"math"

	"github.com/ntpsteer/ntpsteerd/estimate"
)

// Transition computes F(δ) applied to state x: x ← F(δ)·x, where
// F(δ) = [[1, δ], [0, 1]].
func Transition(x estimate.Vector2, delta float64) estimate.Vector2 {
	return estimate.Vector2{
		Offset:    x.Offset + delta*x.FreqError,
		FreqError: x.FreqError,
	}
}

// PropagateCovariance computes P ← F(δ)·P·F(δ)ᵀ + Q(δ).
func PropagateCovariance(p estimate.Matrix2, delta, wander float64) estimate.Matrix2 {
	// F·P·Fᵀ for F = [[1, δ],[0, 1]]:
	//   [[P00 + δ(P01+P10) + δ²P11, P01 + δP11],
	//    [P10 + δP11,               P11]]
	fp00 := p.P00 + delta*(p.P01+p.P10) + delta*delta*p.P11
	fp01 := p.P01 + delta*p.P11
	fp10 := p.P10 + delta*p.P11
	fp11 := p.P11

	q := ProcessNoise(delta, wander)
	sym := estimate.Matrix2{
		P00: fp00 + q.P00,
		P01: fp01 + q.P01,
		P10: fp10 + q.P10,
		P11: fp11 + q.P11,
	}
	return Resymmetrize(sym)
}

// ProcessNoise computes Q(δ) with B = C = 0 (spec §4.1):
//
//	Q(δ) = [[A·δ³/3, A·δ²/2], [A·δ²/2, A·δ]]
func ProcessNoise(delta, wander float64) estimate.Matrix2 {
	d2 := delta * delta
	d3 := d2 * delta
	off := wander * d2 / 2
	return estimate.Matrix2{
		P00: wander * d3 / 3,
		P01: off,
		P10: off,
		P11: wander * delta,
	}
}

// Resymmetrize averages P with its transpose to counter rounding drift
// (spec §4.1), and clamps any resulting negative variance to zero, logging
// the clamp is the caller's responsibility since this package has no
// logger dependency.
func Resymmetrize(p estimate.Matrix2) estimate.Matrix2 {
	off := (p.P01 + p.P10) / 2
	p00, p11 := p.P00, p.P11
	if p00 < 0 {
		p00 = 0
	}
	if p11 < 0 {
		p11 = 0
	}
	return estimate.Matrix2{P00: p00, P01: off, P10: off, P11: p11}
}

// UpdateResult carries the posterior state/covariance plus the innovation
// and innovation covariance, since the noise-adaptation loop (spec §4.1)
// needs y and S after the update runs.
type UpdateResult struct {
	X estimate.Vector2
	P estimate.Matrix2
	Y float64 // innovation
	S float64 // innovation covariance
}

// MeasurementUpdate folds a scalar observation z = Δm (H = (1, 0)) with
// variance R into the prior (x, p):
//
//	y = z - H·x
//	S = H·P·Hᵀ + R
//	K = P·Hᵀ / S
//	x ← x + K·y
//	P ← (I - K·H)·P, re-symmetrized
func MeasurementUpdate(x estimate.Vector2, p estimate.Matrix2, z, r float64) UpdateResult {
	y := z - x.Offset
	s := p.P00 + r
	k0 := p.P00 / s
	k1 := p.P10 / s

	newX := estimate.Vector2{
		Offset:    x.Offset + k0*y,
		FreqError: x.FreqError + k1*y,
	}
	// (I - K·H)·P with H = (1,0): row0 -= k0*row0_of_P... expanded directly.
	newP := estimate.Matrix2{
		P00: p.P00 - k0*p.P00,
		P01: p.P01 - k0*p.P01,
		P10: p.P10 - k1*p.P00,
		P11: p.P11 - k1*p.P01,
	}
	return UpdateResult{X: newX, P: Resymmetrize(newP), Y: y, S: s}
}

// MahalanobisSquared returns yᵀ·S⁻¹·y for a scalar innovation, i.e. y²/S.
func MahalanobisSquared(y, s float64) float64 {
	if s <= 0 {
		return 0
	}
	return y * y / s
}

// TwoSidedTailProbability returns p = 1 - erf(sqrt(m/2)), the two-sided
// tail of a χ²₁ distribution evaluated at Mahalanobis-squared distance m
// (spec §4.1's noise-adaptation probability).
func TwoSidedTailProbability(mahalanobisSq float64) float64 {
	return 1 - math.Erf(math.Sqrt(mahalanobisSq/2))
}

// Invert2 returns the inverse of a 2x2 matrix and whether it was
// invertible (false on a near-singular/underflowing determinant, per
// spec §7's combiner fallback).
func Invert2(m estimate.Matrix2) (estimate.Matrix2, bool) {
	det := m.P00*m.P11 - m.P01*m.P10
	if det == 0 || math.Abs(det) < 1e-300 {
		return estimate.Matrix2{}, false
	}
	inv := 1 / det
	return estimate.Matrix2{
		P00: m.P11 * inv,
		P01: -m.P01 * inv,
		P10: -m.P10 * inv,
		P11: m.P00 * inv,
	}, true
}

// Add2 adds two 2x2 matrices elementwise.
func Add2(a, b estimate.Matrix2) estimate.Matrix2 {
	return estimate.Matrix2{
		P00: a.P00 + b.P00,
		P01: a.P01 + b.P01,
		P10: a.P10 + b.P10,
		P11: a.P11 + b.P11,
	}
}

// Sub2 subtracts b from a elementwise.
func Sub2(a, b estimate.Matrix2) estimate.Matrix2 {
	return estimate.Matrix2{
		P00: a.P00 - b.P00,
		P01: a.P01 - b.P01,
		P10: a.P10 - b.P10,
		P11: a.P11 - b.P11,
	}
}

// MulMatVec computes m·v.
func MulMatVec(m estimate.Matrix2, v estimate.Vector2) estimate.Vector2 {
	return estimate.Vector2{
		Offset:    m.P00*v.Offset + m.P01*v.FreqError,
		FreqError: m.P10*v.Offset + m.P11*v.FreqError,
	}
}

// MulMat2 computes a·b.
func MulMat2(a, b estimate.Matrix2) estimate.Matrix2 {
	return estimate.Matrix2{
		P00: a.P00*b.P00 + a.P01*b.P10,
		P01: a.P00*b.P01 + a.P01*b.P11,
		P10: a.P10*b.P00 + a.P11*b.P10,
		P11: a.P10*b.P01 + a.P11*b.P11,
	}
}

// SubVec subtracts b from a.
func SubVec(a, b estimate.Vector2) estimate.Vector2 {
	return estimate.Vector2{Offset: a.Offset - b.Offset, FreqError: a.FreqError - b.FreqError}
}

// AddVec adds a and b.
func AddVec(a, b estimate.Vector2) estimate.Vector2 {
	return estimate.Vector2{Offset: a.Offset + b.Offset, FreqError: a.FreqError + b.FreqError}
}
