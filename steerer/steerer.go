// Package steerer implements the clock-control pipeline's fourth stage
// (spec §4.4): turning a combined (offset, frequency-error, covariance)
// estimate into a clock action, subject to safety limits.
//
// The decision table and state machine are new logic grounded on
// servo.PiServo.Sample's switch-on-state shape (StateInit/StateJump/
// StateLocked/StateFilter, dispatched from SPTP.processResults) and
// renamed to this package's own Decision vocabulary
// (Step/Slew/FrequencyOnly/NoOp) since this pipeline decides from a
// combined multi-peer estimate rather than one servo's running offset.
package steerer

import (
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ntpsteer/ntpsteerd/clockctl"
	"github.com/ntpsteer/ntpsteerd/combiner"
	"github.com/ntpsteer/ntpsteerd/estimate"
)

// LimitBreachError is returned when a Step decision would exceed
// StepLimit or AccumulatedStepLimit. Spec §4.4 treats either as fatal;
// this package never calls os.Exit itself — the caller (ntpsteer/engine)
// maps this error to a named exit code, keeping process-lifetime
// decisions out of the pipeline stages.
type LimitBreachError struct {
	Limit     string // "step_limit" or "accumulated_step_limit"
	Attempted time.Duration
	Allowed   time.Duration
}

func (e *LimitBreachError) Error() string {
	return fmt.Sprintf("steerer: %s exceeded: attempted %v, allowed %v", e.Limit, e.Attempted, e.Allowed)
}

// Steerer owns the clock exclusively and the sole SteeringState, per
// spec §5.
type Steerer struct {
	cfg        Config
	controller clockctl.Controller
	state      estimate.SteeringState

	offsetPolicy *ResidualPolicy
	freqPolicy   *ResidualPolicy
}

// New constructs a Steerer, compiling the configured residual policies
// and loading any persisted accumulated-step state from cfg.StatePath.
func New(cfg Config, controller clockctl.Controller) (*Steerer, error) {
	offsetPolicy, err := NewResidualPolicy(cfg.ResidualOffsetPolicy)
	if err != nil {
		return nil, err
	}
	freqPolicy, err := NewResidualPolicy(cfg.ResidualFrequencyPolicy)
	if err != nil {
		return nil, err
	}

	persisted, err := clockctl.LoadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	if cfg.AdjustmentDeadline > 0 {
		controller = clockctl.WithDeadline{Controller: controller, Deadline: cfg.AdjustmentDeadline}
	}

	return &Steerer{
		cfg:        cfg,
		controller: controller,
		state: estimate.SteeringState{
			AccumulatedStep:  time.Duration(persisted.AccumulatedStepSeconds * float64(time.Second)),
			LastFrequencyPPB: persisted.LastFrequencyPPB,
			LastAppliedAt:    persisted.LastAppliedAt,
		},
		offsetPolicy: offsetPolicy,
		freqPolicy:   freqPolicy,
	}, nil
}

// AccumulatedStep reports the lifetime sum of |step| magnitudes applied
// so far.
func (s *Steerer) AccumulatedStep() time.Duration { return s.state.AccumulatedStep }

// classify picks the Decision per spec §4.4's table.
func classify(delta, omega, sigma0, sigma1 float64, cfg Config) Decision {
	absDelta := absf(delta)
	absOmega := absf(omega)
	threshold := cfg.StepThreshold.Seconds()

	switch {
	case absDelta > threshold:
		return Step
	case 2*sigma0 < absDelta:
		return Slew
	case 2*sigma1 < absOmega:
		return FrequencyOnly
	default:
		return NoOp
	}
}

// Act runs one Steerer cycle against a Combiner result, applying the
// resulting clock action through the Controller. It returns the
// Decision taken, or a *LimitBreachError if a safety limit was exceeded
// (in which case no clock adjustment was applied).
func (s *Steerer) Act(combined combiner.Combined, now time.Time) (Decision, error) {
	delta := combined.X.Offset
	omega := combined.X.FreqError
	sigma0 := sqrtf(combined.P.P00)
	sigma1 := sqrtf(combined.P.P11)

	decision := classify(delta, omega, sigma0, sigma1, s.cfg)

	switch decision {
	case Step:
		if err := s.applyStep(delta, omega, now); err != nil {
			return decision, err
		}
	case Slew:
		if err := s.applySlew(delta, omega, combined.P.P00, combined.P.P11, now); err != nil {
			return decision, err
		}
	case FrequencyOnly:
		if err := s.applyFrequencyOnly(delta, omega, combined.P.P00, combined.P.P11, now); err != nil {
			return decision, err
		}
	case NoOp:
		log.Debugf("steerer: no-op, |Δ|=%v |ω|=%v within uncertainty bands", delta, omega)
	}

	return decision, nil
}

func (s *Steerer) applyStep(delta, omega float64, now time.Time) error {
	magnitude := time.Duration(absf(delta) * float64(time.Second))

	if magnitude > s.cfg.StepLimit {
		return &LimitBreachError{Limit: "step_limit", Attempted: magnitude, Allowed: s.cfg.StepLimit}
	}
	newAccumulated := s.state.AccumulatedStep + magnitude
	if newAccumulated > s.cfg.AccumulatedStepLimit {
		return &LimitBreachError{Limit: "accumulated_step_limit", Attempted: newAccumulated, Allowed: s.cfg.AccumulatedStepLimit}
	}

	stepOffset := time.Duration(-delta * float64(time.Second))
	if err := s.controller.Step(stepOffset); err != nil {
		return fmt.Errorf("steerer: applying step: %w", err)
	}
	freqPPB := -omega * 1e9
	if err := s.controller.SetFrequencyPPB(freqPPB); err != nil {
		return fmt.Errorf("steerer: applying post-step frequency: %w", err)
	}

	s.state.AccumulatedStep = newAccumulated
	s.state.LastFrequencyPPB = freqPPB
	s.state.LastAppliedAt = now
	log.Warningf("steerer: stepped clock by %v, accumulated step now %v", stepOffset, s.state.AccumulatedStep)
	return s.persist()
}

func (s *Steerer) applySlew(delta, omega, p00, p11 float64, now time.Time) error {
	residual, err := s.offsetPolicy.Evaluate(delta, omega, p00, p11)
	if err != nil {
		return err
	}
	toCorrect := delta - residual

	interval := s.cfg.MinSlewInterval.Seconds()
	if interval <= 0 {
		interval = 8
	}
	slewPPB := toCorrect / interval * 1e9
	slewPPB = clampf(slewPPB, s.cfg.MaxSlewFreqPPB)

	freqPPB := -omega*1e9 + slewPPB
	if err := s.controller.SetFrequencyPPB(freqPPB); err != nil {
		return fmt.Errorf("steerer: applying slew: %w", err)
	}

	s.state.LastFrequencyPPB = freqPPB
	s.state.LastAppliedAt = now
	log.Infof("steerer: slewing by %.3gppb toward residual %.3gs over %gs", slewPPB, residual, interval)
	return s.persist()
}

func (s *Steerer) applyFrequencyOnly(delta, omega, p00, p11 float64, now time.Time) error {
	residual, err := s.freqPolicy.Evaluate(delta, omega, p00, p11)
	if err != nil {
		return err
	}
	freqPPB := -omega*1e9 - residual

	if err := s.controller.SetFrequencyPPB(freqPPB); err != nil {
		return fmt.Errorf("steerer: applying frequency-only correction: %w", err)
	}

	s.state.LastFrequencyPPB = freqPPB
	s.state.LastAppliedAt = now
	return s.persist()
}

func (s *Steerer) persist() error {
	return clockctl.SaveState(s.cfg.StatePath, clockctl.PersistedState{
		AccumulatedStepSeconds: s.state.AccumulatedStep.Seconds(),
		LastFrequencyPPB:       s.state.LastFrequencyPPB,
		LastAppliedAt:          s.state.LastAppliedAt,
	})
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sqrtf(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

func clampf(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
