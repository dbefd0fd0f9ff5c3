// Package pollctl implements the PollController (spec §4.5): reducing
// every peer's per-peer poll-cadence vote to one outbound poll exponent,
// and shaping failure backoff on top of it.
//
// The backoff state machine (fixed/linear/exponential modes, a counter
// and a decaying value, capped at MaxValue) is a direct generalization
// of ptp/sptp/client/backoff.go's backoff struct, lifted from "per-GM
// backoff after a failed exchange" to "per-peer backoff after a failed
// exchange", driving the same desired_poll_interval knob the teacher's
// Config.BackoffConfig feeds.
package pollctl

import (
	"math"
)

// BackoffMode names the shape of the penalty curve, same vocabulary as
// the teacher's BackoffConfig.Mode.
type BackoffMode string

// Backoff modes.
const (
	BackoffNone        BackoffMode = ""
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// BackoffConfig configures one peer's failure backoff.
type BackoffConfig struct {
	Mode     BackoffMode
	Step     int
	MaxValue int
}

// Backoff tracks one peer's current penalty against desired poll
// cadence.
type Backoff struct {
	cfg     BackoffConfig
	counter int
	value   int
}

// NewBackoff constructs a Backoff in its reset (inactive) state.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg}
}

// Active reports whether a penalty is currently in effect.
func (b *Backoff) Active() bool { return b.value != 0 }

// Reset clears the penalty, called once a peer resumes responding.
func (b *Backoff) Reset() {
	b.value = 0
	b.counter = 0
}

// Tick decays the current penalty by one poll interval, returning the
// remaining value.
func (b *Backoff) Tick() int {
	b.value--
	if b.value < 0 {
		b.value = 0
	}
	return b.value
}

// Bump records a failed exchange and recomputes the penalty per the
// configured mode.
func (b *Backoff) Bump() int {
	b.counter++
	switch b.cfg.Mode {
	case BackoffFixed:
		b.value = b.cfg.Step
	case BackoffLinear:
		b.value = b.cfg.Step * b.counter
	case BackoffExponential:
		b.value = int(math.Pow(float64(b.cfg.Step), float64(b.counter)))
	default:
		b.counter = 0
		b.value = 0
	}
	if b.value > b.cfg.MaxValue {
		b.value = b.cfg.MaxValue
	}
	return b.value
}

// Controller aggregates every PeerFilter's desired poll exponent and
// each peer's backoff penalty into one outbound poll exponent per peer,
// plus the spec §4.5 global reduction: the minimum (fastest-polling)
// desired exponent across all usable peers, so no single peer is left
// polling slower than the pipeline's overall confidence requires.
type Controller struct {
	minExponent int
	maxExponent int
	backoffs    map[string]*Backoff
	defaultCfg  BackoffConfig
}

// New constructs a Controller with the configured exponent bounds and
// default per-peer backoff shape.
func New(minExponent, maxExponent int, defaultBackoff BackoffConfig) *Controller {
	return &Controller{
		minExponent: minExponent,
		maxExponent: maxExponent,
		backoffs:    make(map[string]*Backoff),
		defaultCfg:  defaultBackoff,
	}
}

func (c *Controller) backoffFor(peerID string) *Backoff {
	b, ok := c.backoffs[peerID]
	if !ok {
		b = NewBackoff(c.defaultCfg)
		c.backoffs[peerID] = b
	}
	return b
}

// OnFailure bumps peerID's backoff after a failed/unreachable exchange.
func (c *Controller) OnFailure(peerID string) {
	c.backoffFor(peerID).Bump()
}

// OnSuccess resets peerID's backoff after a successful exchange.
func (c *Controller) OnSuccess(peerID string) {
	c.backoffFor(peerID).Reset()
}

// DesiredExponent clamps a peer's desiredVote (from its PeerFilter's
// poll-cadence BoundedCounter) to [minExponent, maxExponent] and adds
// its current backoff penalty, so a failing peer is polled less
// frequently regardless of what its filter would otherwise prefer.
func (c *Controller) DesiredExponent(peerID string, desiredVote int) int {
	exp := desiredVote
	if exp < c.minExponent {
		exp = c.minExponent
	}
	if exp > c.maxExponent {
		exp = c.maxExponent
	}
	exp += c.backoffFor(peerID).value
	if exp > c.maxExponent {
		exp = c.maxExponent
	}
	return exp
}

// GlobalExponent reduces a set of usable peers' desired exponents to one
// outbound value: the minimum across all of them (spec §4.5), so the
// pipeline never polls slower than its least confident usable peer
// needs.
func GlobalExponent(perPeer map[string]int) (int, bool) {
	if len(perPeer) == 0 {
		return 0, false
	}
	first := true
	var best int
	for _, exp := range perPeer {
		if first || exp < best {
			best = exp
			first = false
		}
	}
	return best, true
}
