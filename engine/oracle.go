package engine

import (
	"sync"
	"time"
)

// wallMonoOracle implements peerfilter.WallMonoOracle by comparing two
// back-to-back time.Now() readings' wall-clock delta against their
// monotonic delta. Go's time.Time carries both a wall and a monotonic
// reading when obtained from time.Now(); subtracting two such values
// uses the monotonic reading, while Round(0) strips it and forces a
// wall-clock-only subtraction. The difference between the two deltas is
// exactly the discontinuity an external clock step introduces between
// ticks — this is how the time package's own docs say to detect one,
// not a technique grounded in any one pack file.
//
// A self-induced step (the Steerer's own applyStep) would look
// identical to an external jump unless accounted for, so callers record
// it via RecordSelfStep before the next Tick.
type wallMonoOracle struct {
	mu sync.Mutex

	prevWall time.Time
	prevMono time.Time

	expectedDrift time.Duration

	currentActual   time.Duration
	currentExpected time.Duration
}

func newWallMonoOracle() *wallMonoOracle {
	return &wallMonoOracle{}
}

// Tick samples the clock once per engine tick, before any peer filter
// consumes this tick's measurements, so every filter observes the same
// (actual, expected) pair for the whole tick.
func (o *wallMonoOracle) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	if o.prevMono.IsZero() {
		o.prevWall, o.prevMono = now, now
		return
	}

	wallDelta := now.Round(0).Sub(o.prevWall.Round(0))
	monoDelta := now.Sub(o.prevMono)

	o.currentActual = wallDelta - monoDelta
	o.currentExpected = o.expectedDrift

	o.prevWall, o.prevMono = now, now
	o.expectedDrift = 0
}

// Observe implements peerfilter.WallMonoOracle.
func (o *wallMonoOracle) Observe() (actual, expected time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentActual, o.currentExpected, nil
}

// RecordSelfStep tells the oracle that the Steerer itself just stepped
// the clock by d, so the next Tick's wall/mono discrepancy from this
// step is explained away rather than mistaken for an external jump.
func (o *wallMonoOracle) RecordSelfStep(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expectedDrift += d
}
