package estimate

import (
	"container/ring"
	"time"
)

// Phase is the PeerFilter state machine's coarse mode.
type Phase uint8

// Phases, per spec §3/§4.1: Startup until warmed up or reset, Running once
// the filter is trusted.
const (
	PhaseStartup Phase = iota
	PhaseRunning
)

func (p Phase) String() string {
	if p == PhaseRunning {
		return "Running"
	}
	return "Startup"
}

// Vector2 is the Kalman state vector x = (Δ, ω): offset and fractional
// frequency error versus one peer's clock.
type Vector2 struct {
	Offset    float64 // Δ, seconds
	FreqError float64 // ω, dimensionless fractional rate error
}

// Matrix2 is a symmetric 2x2 covariance (or, in the combiner, information)
// matrix, stored densely since off-diagonal terms P01 == P10 always hold by
// construction (re-symmetrized after every update, per spec §4.1).
type Matrix2 struct {
	P00, P01, P10, P11 float64
}

// DelayRing is the fixed-size ring buffer of the last N round-trip delays
// used to estimate measurement noise R, per spec §4.1.
//
// Built on container/ring the same way servo.PiServoFilter.samples and
// sptp/client's slidingWindow use it for their own fixed-window stats.
type DelayRing struct {
	size int
	r    *ring.Ring
	n    int
}

// NewDelayRing creates an empty ring of the configured size.
func NewDelayRing(size int) *DelayRing {
	if size < 1 {
		size = 1
	}
	return &DelayRing{size: size, r: ring.New(size)}
}

// Add records a new delay sample, evicting the oldest once full.
func (d *DelayRing) Add(delay time.Duration) {
	d.r.Value = delay.Seconds()
	d.r = d.r.Next()
	if d.n < d.size {
		d.n++
	}
}

// Len reports how many samples are currently held (<= configured size).
func (d *DelayRing) Len() int {
	return d.n
}

// Samples returns the held delays in insertion order, oldest first.
//
// d.r always points at the next slot to be written. When the ring isn't
// full yet, that slot is also where the oldest sample would start once
// wrapped, so walking back n steps from it lands on the first real sample.
func (d *DelayRing) Samples() []float64 {
	out := make([]float64, 0, d.n)
	cur := d.r
	for i := 0; i < d.n; i++ {
		cur = cur.Prev()
	}
	for i := 0; i < d.n; i++ {
		out = append(out, cur.Value.(float64))
		cur = cur.Next()
	}
	return out
}

// BoundedCounter is the shared shape behind both the noise-adaptation
// counter M and the poll-cadence counter M_poll (spec §3/§4.1): a signed
// counter clamped to [-cap, +cap] that a classifier nudges up, down, or
// "toward zero", and that fires a side effect when it rails.
//
// The rail-triggered-reset-to-zero pattern mirrors servo.PiServo's counter
// (the filter's skippedCount) and servo.PiServoFilter.Reset, generalized to
// two independent counters sharing one primitive instead of one-off fields.
type BoundedCounter struct {
	Value int
	Cap   int // transitions fire at ±(Cap+1), per spec §9's resolved open question
}

// NewBoundedCounter creates a counter with the given cap (transitions at
// ±(cap+1)).
func NewBoundedCounter(cap int) BoundedCounter {
	return BoundedCounter{Cap: cap}
}

// Vote adjusts the counter by delta (-1, 0, or +1) and reports whether it
// just railed high (+1) or low (-1); 0 means no rail was hit. On a rail hit
// the counter is reset to 0.
func (c *BoundedCounter) Vote(delta int) int {
	c.Value += delta
	if c.Value >= c.Cap+1 {
		c.Value = 0
		return 1
	}
	if c.Value <= -(c.Cap + 1) {
		c.Value = 0
		return -1
	}
	return 0
}

// TowardZero nudges the counter one step toward zero (the "otherwise" leg
// of the spec's per-sample vote), a no-op when already at zero.
func (c *BoundedCounter) TowardZero() {
	switch {
	case c.Value > 0:
		c.Value--
	case c.Value < 0:
		c.Value++
	}
}

// PeerState is the per-source Kalman state owned exclusively by one
// PeerFilter, per spec §3.
type PeerState struct {
	PeerID string

	X Vector2
	P Matrix2

	// A is the wander coefficient (frequency random-walk spectral
	// density), floored at AMin; B and C are held at 0 by design (spec
	// §4.1).
	A float64

	Delays DelayRing

	NoiseCounter BoundedCounter
	PollCounter  BoundedCounter

	// RefTime is tl*, the local time at which X/P are valid.
	RefTime time.Time

	OutlierStreak int // 0 or 1, per spec §3
	Phase         Phase

	AcceptedCount int // accepted measurements since last reset, for warm-up gating

	// DesiredPollExponent is this peer's current vote on poll cadence,
	// shaped by PollCounter crossing its rails (spec §4.1/§4.5).
	DesiredPollExponent int
}

// Estimate is what a PeerFilter publishes after each measurement: the
// current state, its covariance, the mean observed delay, and whether the
// filter considers itself trustworthy enough to be used by the Selector
// (spec §3/§4.1).
type Estimate struct {
	PeerID    string
	X         Vector2
	P         Matrix2
	DelayMean time.Duration
	Usable    bool
	ValidAt   time.Time
	RemoteUnc time.Duration
}

// SelectionSet is the Selector's output: which peers it picked, and the
// sweep point (offset) at which they all agree, per spec §3/§4.2.
type SelectionSet struct {
	PeerIDs        []string
	IntersectPoint float64 // seconds
	Quorum         bool
}

// SteeringState is the Steerer's persisted/accumulated state, per spec §3.
type SteeringState struct {
	AccumulatedStep  time.Duration // lifetime sum of |step| magnitudes
	LastFrequencyPPB float64
	LastAppliedAt    time.Time
	ExpectedWallMono time.Duration // expected wall-minus-monotonic offset, for external-jump detection
}
