// Package peerfilter implements the per-source Kalman filter stage of the
// clock-control pipeline (spec §4.1): one PeerFilter per time source,
// consuming measurements, maintaining a 2-D Kalman state against that
// peer's clock, adapting its own process/measurement noise, rejecting
// outliers, and publishing a current Estimate.
//
// The filter's counter-driven adaptation loop and outlier handling follow
// the shape of servo.PiServo/PiServoFilter (a bounded counter nudged by a
// classifier, railing to trigger a gain change; a spike filter that skips
// the update but keeps advancing time); the Kalman math itself comes from
// the kalman package.
package peerfilter

import (
	"math"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/ntpsteer/ntpsteerd/estimate"
	"github.com/ntpsteer/ntpsteerd/kalman"
)

// WallMonoOracle reports the currently observed wall-minus-monotonic clock
// offset and the offset the Steerer currently expects from its own
// cumulative steering, so a PeerFilter can detect an externally-induced
// clock jump without owning the clock itself (spec §4.1, §5: "the wall
// ↔ monotonic offset is read by every PeerFilter for jump detection;
// readers never mutate").
type WallMonoOracle interface {
	Observe() (actual, expected time.Duration, err error)
}

// PeerFilter owns one PeerState exclusively and turns measurements into
// Estimates.
type PeerFilter struct {
	cfg    Config
	state  estimate.PeerState
	oracle WallMonoOracle
}

// New creates a PeerFilter for peerID, starting in Startup phase with the
// configured initial wander.
func New(peerID string, cfg Config, oracle WallMonoOracle) *PeerFilter {
	return &PeerFilter{
		cfg: cfg,
		state: estimate.PeerState{
			PeerID:       peerID,
			A:            cfg.InitialWander,
			Delays:       *estimate.NewDelayRing(cfg.DelayBufferSize),
			NoiseCounter: estimate.NewBoundedCounter(cfg.NoiseCounterThreshold),
			PollCounter:  estimate.NewBoundedCounter(cfg.NoiseCounterThreshold),
			Phase:        estimate.PhaseStartup,
		},
		oracle: oracle,
	}
}

// PeerID returns the owning peer's identifier.
func (f *PeerFilter) PeerID() string { return f.state.PeerID }

// Phase returns the filter's current state-machine phase.
func (f *PeerFilter) Phase() estimate.Phase { return f.state.Phase }

// Reset drops the filter back to Startup, per spec §3's lifecycle: called
// on divergence, an external clock jump, or prolonged unreachability. The
// wander and noise/poll counters are reset too; the delay ring is cleared
// since its samples were valid against the old reference time.
func (f *PeerFilter) Reset() {
	f.state.Phase = estimate.PhaseStartup
	f.state.AcceptedCount = 0
	f.state.OutlierStreak = 0
	f.state.A = f.cfg.InitialWander
	f.state.Delays = *estimate.NewDelayRing(f.cfg.DelayBufferSize)
	f.state.NoiseCounter = estimate.NewBoundedCounter(f.cfg.NoiseCounterThreshold)
	f.state.PollCounter = estimate.NewBoundedCounter(f.cfg.NoiseCounterThreshold)
	log.Warningf("peerfilter %s: reset to Startup", f.state.PeerID)
}

// OnUnreachable forces Startup if the peer has been silent past the
// configured grace period (spec §5's cancellation/timeout rule).
func (f *PeerFilter) OnUnreachable(now time.Time) {
	if f.state.RefTime.IsZero() {
		return
	}
	if now.Sub(f.state.RefTime) > f.cfg.UnreachableGrace {
		f.Reset()
	}
}

// delayVariance returns the sample variance of the delay ring using
// welford's online accumulator over the held samples, matching
// fbclock/daemon's math helpers which build a fresh welford.Stats per call
// rather than maintaining running state across ring evictions.
func delayVariance(samples []float64) float64 {
	w := welford.New()
	for _, v := range samples {
		w.Add(v)
	}
	return w.Variance()
}

func delayMeanStddev(samples []float64) (mean, stddev float64) {
	w := welford.New()
	for _, v := range samples {
		w.Add(v)
	}
	return w.Mean(), w.Stddev()
}

// measurementNoise returns R per spec §4.1: one quarter of the sample
// variance of the delay ring, or a conservative StartupR while cold.
func (f *PeerFilter) measurementNoise() float64 {
	if f.state.Delays.Len() < f.cfg.MinDelaysForR {
		return f.cfg.StartupR
	}
	return delayVariance(f.state.Delays.Samples()) / 4
}

// isOutlier applies the pop filter: Z-score of the new delay against the
// ring's mean/stddev, accepting only a second consecutive outlier as a
// genuine regime change (spec §4.1).
func (f *PeerFilter) isOutlier(newDelay float64) bool {
	if f.state.Delays.Len() < f.cfg.MinDelaysForR {
		return false
	}
	mean, stddev := delayMeanStddev(f.state.Delays.Samples())
	if stddev == 0 && newDelay == mean {
		return false
	}
	z := (newDelay - mean) / stddev
	if z < 0 {
		z = -z
	}
	if z <= f.cfg.OutlierThresholdSigma {
		return false
	}
	if f.state.OutlierStreak == 1 {
		// second consecutive outlier: treat as a regime change, process normally
		return false
	}
	return true
}

// externalJumpDetected compares the oracle's actual and expected
// wall/monotonic offsets against a tolerance that grows with elapsed
// local time (spec §4.1: "a tolerance (a few ms plus drift budget)").
func (f *PeerFilter) externalJumpDetected(delta float64) bool {
	if f.oracle == nil {
		return false
	}
	actual, expected, err := f.oracle.Observe()
	if err != nil {
		log.Warningf("peerfilter %s: wall/mono oracle error: %v", f.state.PeerID, err)
		return false
	}
	discrepancy := actual - expected
	if discrepancy < 0 {
		discrepancy = -discrepancy
	}
	// drift budget: generous allowance for plain frequency error
	// accumulating over the elapsed interval, at a fixed 200 ppm.
	driftBudget := time.Duration(200e-6*delta*1e9) * time.Nanosecond
	tolerance := f.cfg.ExternalJumpTolerance + driftBudget
	return discrepancy > tolerance
}

// Accept processes one measurement: advances time, runs the pop filter,
// and (if accepted) runs the Kalman update and noise/poll adaptation.
// Reports the resulting Estimate.
func (f *PeerFilter) Accept(m estimate.Measurement) estimate.Estimate {
	if f.state.RefTime.IsZero() {
		// The first sample after construction or a reset only anchors the
		// reference time, but it is accepted, so it counts toward warm-up.
		f.state.RefTime = m.LocalTime()
		f.state.Delays.Add(m.Delay())
		f.state.AcceptedCount++
		if f.state.Phase == estimate.PhaseStartup && f.state.AcceptedCount >= f.cfg.WarmupCount {
			f.state.Phase = estimate.PhaseRunning
		}
		return f.publish()
	}

	delta := m.LocalTime().Sub(f.state.RefTime).Seconds()
	if delta < 0 {
		// out-of-order sample for this peer; spec guarantees send-time
		// order per peer, so treat this as a no-op rather than running
		// time backward.
		log.Warningf("peerfilter %s: out-of-order measurement, ignoring", f.state.PeerID)
		return f.publish()
	}

	x := kalman.Transition(f.state.X, delta)
	p := kalman.PropagateCovariance(f.state.P, delta, f.state.A)
	f.state.X, f.state.P, f.state.RefTime = x, p, m.LocalTime()

	if f.externalJumpDetected(delta) {
		f.Reset()
		f.state.RefTime = time.Time{}
		return f.Accept(m)
	}

	newDelay := m.Delay().Seconds()
	if f.isOutlier(newDelay) {
		f.state.OutlierStreak = 1
		log.Debugf("peerfilter %s: outlier delay=%v, time-advance only", f.state.PeerID, m.Delay())
		return f.publish()
	}
	f.state.OutlierStreak = 0
	f.state.Delays.Add(m.Delay())

	r := f.measurementNoise()
	res := kalman.MeasurementUpdate(f.state.X, f.state.P, m.Offset().Seconds(), r)
	f.state.X, f.state.P = res.X, res.P
	f.state.AcceptedCount++

	f.adaptNoise(r, res.S, res.Y)
	f.votePollCadence(r, res.S)

	if f.state.Phase == estimate.PhaseStartup && f.state.AcceptedCount >= f.cfg.WarmupCount {
		f.state.Phase = estimate.PhaseRunning
		log.Infof("peerfilter %s: Startup -> Running after %d accepted measurements", f.state.PeerID, f.state.AcceptedCount)
	}

	return f.publish()
}

// adaptNoise runs the noise-adaptation loop of spec §4.1: classify by
// R/S dominance and the χ²₁ tail probability p, vote the bounded counter,
// and scale A by 4x/0.25x on a rail hit.
func (f *PeerFilter) adaptNoise(r, s, y float64) {
	m := kalman.MahalanobisSquared(y, s)
	p := kalman.TwoSidedTailProbability(m)

	measurementDominates := r/s > 0.9
	var vote int
	switch {
	case measurementDominates:
		switch {
		case p < 1.0/3:
			vote = 0 // "toward 0" handled below
		case p > 2.0/3:
			vote = 1
		default:
			vote = 0
		}
	default:
		switch {
		case p < 1.0/3:
			vote = -1
		case p > 2.0/3:
			vote = 1
		default:
			vote = 0
		}
	}

	var rail int
	if vote == 0 {
		f.state.NoiseCounter.TowardZero()
	} else {
		rail = f.state.NoiseCounter.Vote(vote)
	}

	switch rail {
	case 1:
		f.state.A *= 4
	case -1:
		f.state.A /= 4
	}
	if f.state.A < f.cfg.MinWander {
		f.state.A = f.cfg.MinWander
	}
}

// votePollCadence runs the poll-cadence counter of spec §4.1/§4.5: same
// bounded-counter shape as adaptNoise, different thresholds and effect
// (desired poll exponent instead of wander).
func (f *PeerFilter) votePollCadence(r, s float64) {
	ratio := r / s
	var vote int
	switch {
	case ratio < f.cfg.MeasurementFractionLow:
		vote = -1
	case ratio > f.cfg.MeasurementFractionHigh:
		vote = 1
	default:
		vote = 0
	}

	var rail int
	if vote == 0 {
		f.state.PollCounter.TowardZero()
	} else {
		rail = f.state.PollCounter.Vote(vote)
	}

	switch rail {
	case 1:
		f.state.DesiredPollExponent++
	case -1:
		f.state.DesiredPollExponent--
	}
}

// publish builds the Estimate this filter currently exposes, per spec
// §4.1's usability rule: unusable while in Startup, while below
// WarmupCount accepted measurements, or when sqrt(P00) exceeds the
// configured ceiling.
func (f *PeerFilter) publish() estimate.Estimate {
	usable := f.state.Phase == estimate.PhaseRunning &&
		f.state.AcceptedCount >= f.cfg.WarmupCount &&
		sqrt(f.state.P.P00) <= f.cfg.UncertaintyCeiling

	var delayMean time.Duration
	if f.state.Delays.Len() > 0 {
		mean, _ := delayMeanStddev(f.state.Delays.Samples())
		delayMean = time.Duration(mean * float64(time.Second))
	}

	return estimate.Estimate{
		PeerID:    f.state.PeerID,
		X:         f.state.X,
		P:         f.state.P,
		DelayMean: delayMean,
		Usable:    usable,
		ValidAt:   f.state.RefTime,
	}
}

// DesiredPollExponent reports this peer's current poll-cadence vote
// (spec §4.5).
func (f *PeerFilter) DesiredPollExponent() int {
	return f.state.DesiredPollExponent
}

func sqrt(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
